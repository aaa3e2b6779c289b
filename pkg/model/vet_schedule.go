package model

// VetSchedule describes one practitioner's working window. Vets without a
// stored schedule fall back to the clinic-wide defaults from config.
type VetSchedule struct {
	VetID      string   `json:"vet_id" bson:"_id" validate:"required,min=1,max=64"`
	StartOfDay string   `json:"start_of_day" bson:"start_of_day" validate:"required,datetime=15:04"`
	EndOfDay   string   `json:"end_of_day" bson:"end_of_day" validate:"required,datetime=15:04"`
	BreakStart string   `json:"break_start,omitempty" bson:"break_start,omitempty" validate:"omitempty,datetime=15:04"`
	BreakEnd   string   `json:"break_end,omitempty" bson:"break_end,omitempty" validate:"omitempty,datetime=15:04"`
	DaysOff    []string `json:"days_off,omitempty" bson:"days_off,omitempty" validate:"omitempty,dive,oneof=Sunday Monday Tuesday Wednesday Thursday Friday Saturday"`
}

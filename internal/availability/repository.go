package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicops/pkg/config"
	"clinicops/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	ScheduleCollectionName = "Vet_schedules"
)

var ErrScheduleNotFound = errors.New("vet schedule not found")

// ScheduleRepository loads per-vet working hours. Vets without a stored
// schedule use the clinic-wide defaults.
type ScheduleRepository interface {
	FindByVetID(ctx context.Context, vetID string) (*model.VetSchedule, error)
}

type mongoScheduleRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoScheduleRepository(cfg *config.Config) ScheduleRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoScheduleRepository{
		cfg:        cfg,
		collection: db.Collection(ScheduleCollectionName),
	}
}

func (r *mongoScheduleRepository) FindByVetID(ctx context.Context, vetID string) (*model.VetSchedule, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var schedule model.VetSchedule
	err := r.collection.FindOne(ctx, bson.M{"_id": vetID}).Decode(&schedule)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to find vet schedule: %w", err)
	}

	return &schedule, nil
}

func weekdayName(t time.Time) string {
	return t.Weekday().String()
}

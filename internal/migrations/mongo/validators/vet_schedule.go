package validators

import "go.mongodb.org/mongo-driver/bson"

var VetScheduleValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"start_of_day",
			"end_of_day",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 64,
			},

			"start_of_day": bson.M{
				"bsonType": "string",
				"pattern":  `^([01]\d|2[0-3]):[0-5]\d$`,
			},

			"end_of_day": bson.M{
				"bsonType": "string",
				"pattern":  `^([01]\d|2[0-3]):[0-5]\d$`,
			},

			"break_start": bson.M{
				"bsonType": "string",
				"pattern":  `^([01]\d|2[0-3]):[0-5]\d$`,
			},

			"break_end": bson.M{
				"bsonType": "string",
				"pattern":  `^([01]\d|2[0-3]):[0-5]\d$`,
			},

			"days_off": bson.M{
				"bsonType": "array",
				"items": bson.M{
					"bsonType": "string",
					"enum": []string{
						"Sunday", "Monday", "Tuesday", "Wednesday",
						"Thursday", "Friday", "Saturday",
					},
				},
			},
		},
	},
}

package validators

import "go.mongodb.org/mongo-driver/bson"

var HoldValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"vet_id",
			"date",
			"start_time",
			"duration_min",
			"status",
			"session_id",
			"created_at",
			"expires_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "string",
			},

			"vet_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 64,
			},

			"date": bson.M{
				"bsonType": "string",
				"pattern":  `^\d{4}-\d{2}-\d{2}$`,
			},

			"start_time": bson.M{
				"bsonType": "string",
				"pattern":  `^([01]\d|2[0-3]):[0-5]\d$`,
			},

			"duration_min": bson.M{
				"bsonType": "int",
				"minimum":  5,
				"maximum":  480,
			},

			"status": bson.M{
				"bsonType": "string",
				"enum":     []string{"pending", "confirmed", "released", "expired"},
			},

			"session_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"client_id": bson.M{
				"bsonType":  "string",
				"maxLength": 64,
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"expires_at": bson.M{
				"bsonType": "date",
			},

			"confirmed_at": bson.M{
				"bsonType": "date",
			},

			"released_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}

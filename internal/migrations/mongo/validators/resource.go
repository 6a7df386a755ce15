package validators

import "go.mongodb.org/mongo-driver/bson"

var ResourceValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"kind",
			"capacity",
			"registration_deadline",
			"hold_duration",
			"holders",
			"version",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"kind": bson.M{
				"enum": []string{"event", "team"},
			},

			"capacity": bson.M{
				"bsonType": []string{"int", "long"},
				"minimum":  0,
			},

			"registration_deadline": bson.M{
				"bsonType": "date",
			},

			"hold_duration": bson.M{
				"bsonType": []string{"int", "long"},
				"minimum":  0,
			},

			"holders": bson.M{
				"bsonType":    "array",
				"uniqueItems": true,
				"items": bson.M{
					"bsonType": "string",
				},
			},

			"lapsed_holds": bson.M{
				"bsonType":    "array",
				"uniqueItems": true,
				"items": bson.M{
					"bsonType": "string",
				},
			},

			"version": bson.M{
				"bsonType": []string{"int", "long"},
				"minimum":  0,
			},

			"created_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}

var WaitlistEntryValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"resource_id",
			"claimant_id",
			"joined_at",
			"state",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"resource_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"claimant_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"joined_at": bson.M{
				"bsonType": "date",
			},

			"state": bson.M{
				"enum": []string{"waiting", "holding"},
			},

			"hold_expires_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}

package validators

import "go.mongodb.org/mongo-driver/bson"

var SlotValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"team_id",
			"start_time",
			"end_time",
			"state",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"team_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 128,
			},

			"start_time": bson.M{
				"bsonType": "date",
			},

			"end_time": bson.M{
				"bsonType": "date",
			},

			"state": bson.M{
				"enum": []string{"open", "reserved"},
			},

			"claimant": bson.M{
				"bsonType": "string",
			},

			"reserved_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}

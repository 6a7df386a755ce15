package repository

import (
	"allotment/pkg/config"
	"allotment/pkg/model"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const SlotsCollection = "Slots"

// SlotReservationIndex is the partial unique index that keeps a claimant to one
// reserved slot per team. Reserve relies on it; the migration creates it.
var SlotReservationIndex = mongo.IndexModel{
	Keys: bson.D{{Key: "team_id", Value: 1}, {Key: "claimant", Value: 1}},
	Options: options.Index().
		SetName("team_claimant_reserved_unique").
		SetUnique(true).
		SetPartialFilterExpression(bson.M{"state": model.SlotReserved}),
}

type mongoSlotStore struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoSlotStore(cfg *config.Config) SlotStore {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoSlotStore{
		cfg:        cfg,
		collection: db.Collection(SlotsCollection),
	}
}

func (r *mongoSlotStore) Create(ctx context.Context, slot *model.Slot) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	if _, err := r.collection.InsertOne(ctx, slot); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrSlotExists, slot.ID)
		}
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

func (r *mongoSlotStore) Get(ctx context.Context, slotID string) (*model.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var slot model.Slot
	err := r.collection.FindOne(ctx, bson.M{"_id": slotID}).Decode(&slot)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("failed to find slot: %w", err)
	}
	return &slot, nil
}

func (r *mongoSlotStore) ListByTeam(ctx context.Context, teamID string) ([]*model.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"team_id": teamID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer cursor.Close(ctx)

	var slots []*model.Slot
	if err := cursor.All(ctx, &slots); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}
	return slots, nil
}

// Reserve is one findOneAndUpdate filtered on state=open. A second reserved slot
// for the same claimant and team is refused by the partial unique index.
func (r *mongoSlotStore) Reserve(ctx context.Context, slotID, claimant string, at time.Time) (*model.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"_id": slotID, "state": model.SlotOpen}
	update := bson.M{"$set": bson.M{
		"state":       model.SlotReserved,
		"claimant":    claimant,
		"reserved_at": at,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var slot model.Slot
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&slot)
	if err == nil {
		return &slot, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrAlreadyBooked
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.missOrState(ctx, slotID, ErrSlotTaken)
	}
	return nil, fmt.Errorf("failed to reserve slot: %w", err)
}

func (r *mongoSlotStore) Release(ctx context.Context, slotID, claimant string) (*model.Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"_id": slotID, "state": model.SlotReserved, "claimant": claimant}
	update := bson.M{
		"$set":   bson.M{"state": model.SlotOpen},
		"$unset": bson.M{"claimant": "", "reserved_at": ""},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var slot model.Slot
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&slot)
	if err == nil {
		return &slot, nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.missOrState(ctx, slotID, ErrNotOwner)
	}
	return nil, fmt.Errorf("failed to release slot: %w", err)
}

// missOrState tells a missing slot apart from one whose state did not match.
func (r *mongoSlotStore) missOrState(ctx context.Context, slotID string, stateErr error) error {
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": slotID})
	if err != nil {
		return fmt.Errorf("failed to check slot: %w", err)
	}
	if n == 0 {
		return ErrSlotNotFound
	}
	return stateErr
}

package repository

import (
	"allotment/pkg/config"
	mongotx "allotment/pkg/db/mongo"
	"allotment/pkg/model"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ResourcesCollection = "Resources"
	WaitlistCollection  = "Waitlist_entries"
)

type mongoResourceStore struct {
	cfg       *config.Config
	db        *mongo.Database
	resources *mongo.Collection
	waitlist  *mongo.Collection
	txManager mongotx.TransactionManager
}

// NewMongoResourceStore keeps resources and waitlist entries in two collections.
// Every AtomicUpdate runs in one transaction whose first write is the
// version-filtered update on the resource document.
func NewMongoResourceStore(cfg *config.Config) ResourceStore {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoResourceStore{
		cfg:       cfg,
		db:        db,
		resources: db.Collection(ResourcesCollection),
		waitlist:  db.Collection(WaitlistCollection),
		txManager: mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// withTimeout wraps the context with a timeout if not already in a transaction.
// A SessionContext cannot be wrapped without losing the session.
func (r *mongoResourceStore) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.(mongo.SessionContext); ok {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *mongoResourceStore) Create(ctx context.Context, resource *model.Resource) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	doc := resource.Clone()
	if doc.Holders == nil {
		doc.Holders = []string{}
	}
	if _, err := r.resources.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, resource.ID)
		}
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

func (r *mongoResourceStore) Read(ctx context.Context, resourceID string) (*Snapshot, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var snap *Snapshot
	err := r.txManager.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		var err error
		snap, err = r.readSnapshot(sessCtx, resourceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *mongoResourceStore) readSnapshot(ctx context.Context, resourceID string) (*Snapshot, error) {
	var resource model.Resource
	err := r.resources.FindOne(ctx, bson.M{"_id": resourceID}).Decode(&resource)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find resource: %w", err)
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "joined_at", Value: 1},
		{Key: "claimant_id", Value: 1},
	})
	cursor, err := r.waitlist.Find(ctx, bson.M{"resource_id": resourceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find waitlist entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*model.WaitlistEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode waitlist entries: %w", err)
	}

	return &Snapshot{Resource: &resource, Entries: entries}, nil
}

func (r *mongoResourceStore) AtomicUpdate(ctx context.Context, resourceID string, expectedVersion int64, mutation Mutation) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	err := r.txManager.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return r.applyMutation(sessCtx, resourceID, expectedVersion, mutation)
	})
	if err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

func (r *mongoResourceStore) applyMutation(ctx context.Context, resourceID string, expectedVersion int64, mutation Mutation) error {
	// $pull and $push on the same array cannot share one update document.
	update := bson.M{"$inc": bson.M{"version": 1}}
	pull := bson.M{}
	if len(mutation.RemoveHolders) > 0 {
		pull["holders"] = bson.M{"$in": mutation.RemoveHolders}
	}
	if len(mutation.RemoveLapsed) > 0 {
		pull["lapsed_holds"] = bson.M{"$in": mutation.RemoveLapsed}
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}

	result, err := r.resources.UpdateOne(ctx, bson.M{"_id": resourceID, "version": expectedVersion}, update)
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}
	if result.MatchedCount == 0 {
		count, err := r.resources.CountDocuments(ctx, bson.M{"_id": resourceID})
		if err != nil {
			return fmt.Errorf("failed to check resource: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	addToSet := bson.M{}
	if len(mutation.AddHolders) > 0 {
		addToSet["holders"] = bson.M{"$each": mutation.AddHolders}
	}
	if len(mutation.AddLapsed) > 0 {
		addToSet["lapsed_holds"] = bson.M{"$each": mutation.AddLapsed}
	}
	if len(addToSet) > 0 {
		_, err = r.resources.UpdateOne(ctx, bson.M{"_id": resourceID}, bson.M{"$addToSet": addToSet})
		if err != nil {
			return fmt.Errorf("failed to add holders: %w", err)
		}
	}

	if len(mutation.DeleteEntries) > 0 {
		_, err = r.waitlist.DeleteMany(ctx, bson.M{
			"resource_id": resourceID,
			"claimant_id": bson.M{"$in": mutation.DeleteEntries},
		})
		if err != nil {
			return fmt.Errorf("failed to delete waitlist entries: %w", err)
		}
	}

	for _, entry := range mutation.PutEntries {
		doc := entry.Clone()
		doc.ResourceID = resourceID
		_, err = r.waitlist.ReplaceOne(ctx,
			bson.M{"resource_id": resourceID, "claimant_id": entry.ClaimantID},
			doc,
			options.Replace().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("failed to write waitlist entry: %w", err)
		}
	}

	return nil
}

func (r *mongoResourceStore) ListPending(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	values, err := r.waitlist.Distinct(ctx, "resource_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending resources: %w", err)
	}

	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *mongoResourceStore) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()
	return r.db.Client().Ping(ctx, nil)
}

package repository

import (
	"allotment/pkg/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type redisResourceStore struct {
	rdb    *redis.Client
	prefix string
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type RedisStoreOption func(*redisResourceStore)

func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *redisResourceStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// NewRedisResourceStore keeps each snapshot as one JSON value. AtomicUpdate
// WATCHes the key and commits through MULTI/EXEC, so a concurrent writer makes
// the transaction fail with redis.TxFailedErr.
func NewRedisResourceStore(rdb *redis.Client, opts ...RedisStoreOption) ResourceStore {
	s := &redisResourceStore{
		rdb:    rdb,
		prefix: "allotment",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *redisResourceStore) resourceKey(id string) string {
	return s.prefix + ":resource:" + id
}

func (s *redisResourceStore) pendingKey() string {
	return s.prefix + ":pending"
}

func (s *redisResourceStore) Create(ctx context.Context, resource *model.Resource) error {
	data, err := json.Marshal(&Snapshot{Resource: resource, Entries: []*model.WaitlistEntry{}})
	if err != nil {
		return fmt.Errorf("failed to encode resource: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, s.resourceKey(resource.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, resource.ID)
	}
	return nil
}

func (s *redisResourceStore) Read(ctx context.Context, resourceID string) (*Snapshot, error) {
	return s.get(ctx, s.rdb, resourceID)
}

func (s *redisResourceStore) get(ctx context.Context, cmd getter, resourceID string) (*Snapshot, error) {
	data, err := cmd.Get(ctx, s.resourceKey(resourceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read resource: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	return &snap, nil
}

func (s *redisResourceStore) AtomicUpdate(ctx context.Context, resourceID string, expectedVersion int64, mutation Mutation) (int64, error) {
	key := s.resourceKey(resourceID)
	var newVersion int64

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		snap, err := s.get(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		if snap.Resource.Version != expectedVersion {
			return ErrVersionConflict
		}

		next := mutation.Apply(snap)
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode resource: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if len(next.Entries) > 0 {
				pipe.SAdd(ctx, s.pendingKey(), resourceID)
			} else {
				pipe.SRem(ctx, s.pendingKey(), resourceID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		newVersion = next.Resource.Version
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to update resource: %w", err)
	}
	return newVersion, nil
}

func (s *redisResourceStore) ListPending(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending resources: %w", err)
	}
	return ids, nil
}

func (s *redisResourceStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

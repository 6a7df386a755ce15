package repository

import (
	"allotment/pkg/model"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Both scripts return either the updated slot as JSON or a status word.
var reserveScript = redis.NewScript(`
	local raw = redis.call('GET', KEYS[1])
	if not raw then
		return 'not_found'
	end
	local slot = cjson.decode(raw)
	if slot.state ~= 'open' then
		return 'taken'
	end
	local reservation = ARGV[1] .. ':team:' .. slot.team_id .. ':reserved:' .. ARGV[2]
	if redis.call('EXISTS', reservation) == 1 then
		return 'already_booked'
	end
	slot.state = 'reserved'
	slot.claimant = ARGV[2]
	slot.reserved_at = ARGV[3]
	local out = cjson.encode(slot)
	redis.call('SET', KEYS[1], out)
	redis.call('SET', reservation, slot.id)
	return out
`)

var releaseScript = redis.NewScript(`
	local raw = redis.call('GET', KEYS[1])
	if not raw then
		return 'not_found'
	end
	local slot = cjson.decode(raw)
	if slot.state ~= 'reserved' or slot.claimant ~= ARGV[2] then
		return 'not_owner'
	end
	redis.call('DEL', ARGV[1] .. ':team:' .. slot.team_id .. ':reserved:' .. ARGV[2])
	slot.state = 'open'
	slot.claimant = nil
	slot.reserved_at = nil
	local out = cjson.encode(slot)
	redis.call('SET', KEYS[1], out)
	return out
`)

type redisSlotStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisSlotStore keeps each slot as a JSON value and a per-claimant
// reservation marker per team. Reserve and Release run as Lua scripts, so the
// open check and the one-per-team check commit together.
func NewRedisSlotStore(rdb *redis.Client, prefix string) SlotStore {
	if prefix == "" {
		prefix = "allotment"
	}
	return &redisSlotStore{rdb: rdb, prefix: strings.Trim(prefix, ":")}
}

func (s *redisSlotStore) slotKey(id string) string {
	return s.prefix + ":slot:" + id
}

func (s *redisSlotStore) teamKey(teamID string) string {
	return s.prefix + ":team:" + teamID + ":slots"
}

func (s *redisSlotStore) Create(ctx context.Context, slot *model.Slot) error {
	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("failed to encode slot: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, s.slotKey(slot.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotExists, slot.ID)
	}
	if err := s.rdb.SAdd(ctx, s.teamKey(slot.TeamID), slot.ID).Err(); err != nil {
		return fmt.Errorf("failed to index slot: %w", err)
	}
	return nil
}

func (s *redisSlotStore) Get(ctx context.Context, slotID string) (*model.Slot, error) {
	raw, err := s.rdb.Get(ctx, s.slotKey(slotID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("failed to read slot: %w", err)
	}
	return decodeSlot(raw)
}

func (s *redisSlotStore) ListByTeam(ctx context.Context, teamID string) ([]*model.Slot, error) {
	ids, err := s.rdb.SMembers(ctx, s.teamKey(teamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.slotKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read slots: %w", err)
	}

	slots := make([]*model.Slot, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		slot, err := decodeSlot(raw)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	slices.SortFunc(slots, func(a, b *model.Slot) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return slots, nil
}

func (s *redisSlotStore) Reserve(ctx context.Context, slotID, claimant string, at time.Time) (*model.Slot, error) {
	res, err := reserveScript.Run(ctx, s.rdb, []string{s.slotKey(slotID)},
		s.prefix, claimant, at.UTC().Format(time.RFC3339Nano)).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve slot: %w", err)
	}
	switch res {
	case "not_found":
		return nil, ErrSlotNotFound
	case "taken":
		return nil, ErrSlotTaken
	case "already_booked":
		return nil, ErrAlreadyBooked
	}
	return decodeSlot(res)
}

func (s *redisSlotStore) Release(ctx context.Context, slotID, claimant string) (*model.Slot, error) {
	res, err := releaseScript.Run(ctx, s.rdb, []string{s.slotKey(slotID)}, s.prefix, claimant).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to release slot: %w", err)
	}
	switch res {
	case "not_found":
		return nil, ErrSlotNotFound
	case "not_owner":
		return nil, ErrNotOwner
	}
	return decodeSlot(res)
}

func decodeSlot(raw string) (*model.Slot, error) {
	var slot model.Slot
	if err := json.Unmarshal([]byte(raw), &slot); err != nil {
		return nil, fmt.Errorf("failed to decode slot: %w", err)
	}
	return &slot, nil
}

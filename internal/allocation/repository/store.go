package repository

import (
	"allotment/pkg/model"
	"context"
	"errors"
	"slices"
)

var (
	ErrNotFound = errors.New("resource not found")

	ErrAlreadyExists = errors.New("resource already exists")

	// ErrVersionConflict is returned by AtomicUpdate when the stored version no
	// longer matches the expected one. Callers re-read and retry.
	ErrVersionConflict = errors.New("resource version conflict")
)

// ResourceStore persists resources together with their waitlists. AtomicUpdate is
// the only write path for existing resources: it applies a Mutation if and only
// if the stored version still equals expectedVersion, and returns the new version.
type ResourceStore interface {
	Create(ctx context.Context, resource *model.Resource) error
	Read(ctx context.Context, resourceID string) (*Snapshot, error)
	AtomicUpdate(ctx context.Context, resourceID string, expectedVersion int64, mutation Mutation) (int64, error)
	// ListPending returns the IDs of resources that have at least one waitlist entry.
	ListPending(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// Snapshot is a consistent view of one resource and its waitlist at Resource.Version.
// Entries are sorted FIFO.
type Snapshot struct {
	Resource *model.Resource       `json:"resource"`
	Entries  []*model.WaitlistEntry `json:"entries"`
}

func (s *Snapshot) Entry(claimantID string) *model.WaitlistEntry {
	for _, e := range s.Entries {
		if e.ClaimantID == claimantID {
			return e
		}
	}
	return nil
}

func (s *Snapshot) Clone() *Snapshot {
	cp := &Snapshot{
		Resource: s.Resource.Clone(),
		Entries:  make([]*model.WaitlistEntry, 0, len(s.Entries)),
	}
	for _, e := range s.Entries {
		cp.Entries = append(cp.Entries, e.Clone())
	}
	return cp
}

// Mutation is the set of changes one optimistic write applies to a snapshot.
// PutEntries inserts or replaces entries keyed by claimant; DeleteEntries,
// AddLapsed and RemoveLapsed hold claimant IDs.
type Mutation struct {
	AddHolders    []string
	RemoveHolders []string
	PutEntries    []*model.WaitlistEntry
	DeleteEntries []string
	AddLapsed     []string
	RemoveLapsed  []string
}

func (m Mutation) IsEmpty() bool {
	return len(m.AddHolders) == 0 && len(m.RemoveHolders) == 0 &&
		len(m.PutEntries) == 0 && len(m.DeleteEntries) == 0 &&
		len(m.AddLapsed) == 0 && len(m.RemoveLapsed) == 0
}

// Apply returns a copy of snap with m applied and the version bumped.
func (m Mutation) Apply(snap *Snapshot) *Snapshot {
	next := snap.Clone()
	res := next.Resource

	res.Holders = slices.DeleteFunc(res.Holders, func(id string) bool {
		return slices.Contains(m.RemoveHolders, id)
	})
	for _, id := range m.AddHolders {
		if !slices.Contains(res.Holders, id) {
			res.Holders = append(res.Holders, id)
		}
	}

	res.LapsedHolds = slices.DeleteFunc(res.LapsedHolds, func(id string) bool {
		return slices.Contains(m.RemoveLapsed, id)
	})
	for _, id := range m.AddLapsed {
		if !slices.Contains(res.LapsedHolds, id) {
			res.LapsedHolds = append(res.LapsedHolds, id)
		}
	}

	next.Entries = slices.DeleteFunc(next.Entries, func(e *model.WaitlistEntry) bool {
		if slices.Contains(m.DeleteEntries, e.ClaimantID) {
			return true
		}
		return slices.ContainsFunc(m.PutEntries, func(p *model.WaitlistEntry) bool {
			return p.ClaimantID == e.ClaimantID
		})
	})
	for _, e := range m.PutEntries {
		cp := e.Clone()
		cp.ResourceID = res.ID
		next.Entries = append(next.Entries, cp)
	}
	slices.SortFunc(next.Entries, model.CompareFIFO)

	res.Version++
	return next
}

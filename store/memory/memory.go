// Package memory is a single-process store.Backend for tests, tools and single-node
// deployments that accept losing sessions on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/goRotate/store"
)

// Store keeps families and records in maps guarded by one mutex, which makes
// Rotate trivially atomic.
type Store struct {
	mu       sync.Mutex
	families map[string]*store.Family
	records  map[string]*store.RefreshRecord
	byFamily map[string]map[string]struct{}
	byUser   map[string]map[string]struct{}
}

var _ store.Backend = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		families: make(map[string]*store.Family),
		records:  make(map[string]*store.RefreshRecord),
		byFamily: make(map[string]map[string]struct{}),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// CreateFamily stores f at generation 0, unrevoked.
func (s *Store) CreateFamily(ctx context.Context, f store.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.families[f.FamilyID]; ok {
		return store.ErrDuplicate
	}
	f.CurrentGeneration = 0
	f.MaxGeneration = 0
	f.Revoked = false
	f.RevokedAt = time.Time{}
	s.families[f.FamilyID] = &f
	addIndex(s.byUser, f.UserID, f.FamilyID)
	return nil
}

// GetFamily returns a copy of the family or store.ErrNotFound.
func (s *Store) GetFamily(ctx context.Context, familyID string) (store.Family, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.families[familyID]
	if !ok {
		return store.Family{}, store.ErrNotFound
	}
	return *f, nil
}

// AdvanceGeneration bumps the current and max generation of a live family.
func (s *Store) AdvanceGeneration(ctx context.Context, familyID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.families[familyID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if f.Revoked {
		return 0, store.ErrFamilyRevoked
	}
	advance(f)
	return f.CurrentGeneration, nil
}

// RevokeFamily flags the family and every record in it. Unknown ids are a no-op.
func (s *Store) RevokeFamily(ctx context.Context, familyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.families[familyID]
	if !ok {
		return nil
	}
	if !f.Revoked {
		f.Revoked = true
		f.RevokedAt = at
	}
	for id := range s.byFamily[familyID] {
		if r, ok := s.records[id]; ok {
			r.Revoked = true
		}
	}
	return nil
}

// ListFamilies returns the ids of every family userID owns, revoked or not.
func (s *Store) ListFamilies(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}

// Put stores a new record; an existing token id returns store.ErrDuplicate.
func (s *Store) Put(ctx context.Context, r store.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.putLocked(r)
}

func (s *Store) putLocked(r store.RefreshRecord) error {
	if _, ok := s.records[r.TokenID]; ok {
		return store.ErrDuplicate
	}
	s.records[r.TokenID] = &r
	addIndex(s.byFamily, r.FamilyID, r.TokenID)
	return nil
}

// Get returns a copy of the record or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, tokenID string) (store.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[tokenID]
	if !ok {
		return store.RefreshRecord{}, store.ErrNotFound
	}
	return *r, nil
}

// MarkConsumed redeems a record once; later calls return store.ErrAlreadyConsumed.
func (s *Store) MarkConsumed(ctx context.Context, tokenID, rotatedTo string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[tokenID]
	if !ok {
		return store.ErrNotFound
	}
	if r.Consumed {
		return store.ErrAlreadyConsumed
	}
	consume(r, rotatedTo, at)
	return nil
}

// Rotate consumes the old record, advances the family and stores req.Next under one lock.
func (s *Store) Rotate(ctx context.Context, req store.RotateRequest) (uint64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.families[req.FamilyID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if f.Revoked {
		return 0, store.ErrFamilyRevoked
	}
	r, ok := s.records[req.TokenID]
	if !ok || r.FamilyID != req.FamilyID {
		return 0, store.ErrNotFound
	}
	if r.Revoked {
		return 0, store.ErrFamilyRevoked
	}
	if r.Consumed {
		return 0, store.ErrAlreadyConsumed
	}
	if f.CurrentGeneration != req.ExpectedGeneration {
		return 0, store.ErrGenerationConflict
	}
	if _, exists := s.records[req.Next.TokenID]; exists {
		return 0, store.ErrDuplicate
	}

	consume(r, req.Next.TokenID, req.At)
	advance(f)
	if err := s.putLocked(req.Next); err != nil {
		return 0, err
	}
	return f.CurrentGeneration, nil
}

// SweepOlderThan deletes records idle since before cutoff, then families left empty.
func (s *Store) SweepOlderThan(ctx context.Context, cutoff time.Time) (store.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.SweepResult
	for id, r := range s.records {
		if !r.LastActivity().Before(cutoff) {
			continue
		}
		delete(s.records, id)
		removeIndex(s.byFamily, r.FamilyID, id)
		res.Records++
	}
	for id, f := range s.families {
		if len(s.byFamily[id]) > 0 || !f.CreatedAt.Before(cutoff) {
			continue
		}
		delete(s.families, id)
		removeIndex(s.byUser, f.UserID, id)
		res.Families++
	}
	return res, nil
}

// Ping only reports ctx errors.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	return 0, ctx.Err()
}

func advance(f *store.Family) {
	f.CurrentGeneration++
	if f.CurrentGeneration > f.MaxGeneration {
		f.MaxGeneration = f.CurrentGeneration
	}
}

func consume(r *store.RefreshRecord, rotatedTo string, at time.Time) {
	r.Consumed = true
	r.RotatedTo = rotatedTo
	r.LastUsedAt = at
}

func addIndex(idx map[string]map[string]struct{}, key, member string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[member] = struct{}{}
}

func removeIndex(idx map[string]map[string]struct{}, key, member string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// Name identifies the backend in security reports.
func (s *Store) Name() string { return "memory" }

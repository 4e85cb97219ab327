// Package memstore is an in-process catalog.Store used by tests and by the
// server when STORE_BACKEND=memory.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/smukkama/calmcorners/internal/catalog"
)

// Store keeps everything in maps guarded by one RWMutex. Writers hold the
// write lock across a review mutation and its recomputation.
type Store struct {
	mu sync.RWMutex

	locations     map[string]*catalog.Location
	locationOrder []string
	addressIndex  map[string]string // address key -> location id

	reviews     map[string]*catalog.Review
	reviewOrder []string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		locations:    make(map[string]*catalog.Location),
		addressIndex: make(map[string]string),
		reviews:      make(map[string]*catalog.Review),
	}
}

func (s *Store) CreateLocation(_ context.Context, l *catalog.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[l.ID]; ok {
		return fmt.Errorf("location id %s: %w", l.ID, catalog.ErrDuplicate)
	}
	key := catalog.AddressKey(l.Address)
	if _, ok := s.addressIndex[key]; ok {
		return fmt.Errorf("location address %q: %w", l.Address, catalog.ErrDuplicate)
	}

	stored := cloneLocation(l)
	stored.Rating, stored.NumReviews = 0, 0
	s.locations[l.ID] = stored
	s.locationOrder = append(s.locationOrder, l.ID)
	s.addressIndex[key] = l.ID

	l.Rating, l.NumReviews = 0, 0
	return nil
}

func (s *Store) GetLocation(_ context.Context, id string) (*catalog.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locations[id]
	if !ok {
		return nil, catalog.LocationNotFound(id)
	}
	return cloneLocation(l), nil
}

func (s *Store) ListLocations(_ context.Context, filter catalog.LocationFilter) ([]catalog.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Location, 0, len(s.locationOrder))
	for _, id := range s.locationOrder {
		l := s.locations[id]
		if filter.Match(l) {
			out = append(out, *cloneLocation(l))
		}
	}
	return out, nil
}

func (s *Store) DeleteLocation(_ context.Context, id string) (*catalog.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locations[id]
	if !ok {
		return nil, catalog.LocationNotFound(id)
	}
	if l.NumReviews > 0 {
		return nil, fmt.Errorf("location %s has %d reviews: %w", id, l.NumReviews, catalog.ErrConflict)
	}

	delete(s.locations, id)
	delete(s.addressIndex, catalog.AddressKey(l.Address))
	s.locationOrder = removeID(s.locationOrder, id)
	return cloneLocation(l), nil
}

func (s *Store) CreateReview(_ context.Context, r *catalog.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[r.Location]; !ok {
		return catalog.LocationNotFound(r.Location)
	}
	if _, ok := s.reviews[r.ID]; ok {
		return fmt.Errorf("review id %s: %w", r.ID, catalog.ErrDuplicate)
	}

	stored := *r
	s.reviews[r.ID] = &stored
	s.reviewOrder = append(s.reviewOrder, r.ID)
	s.recompute(r.Location)
	return nil
}

func (s *Store) GetReview(_ context.Context, id string) (*catalog.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reviews[id]
	if !ok {
		return nil, catalog.ReviewNotFound(id)
	}
	out := *r
	return &out, nil
}

func (s *Store) ListReviews(_ context.Context, locationID string) ([]catalog.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Review, 0)
	for _, id := range s.reviewOrder {
		r := s.reviews[id]
		if locationID == "" || r.Location == locationID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Store) UpdateReview(_ context.Context, id string, mutate func(*catalog.Review) error) (*catalog.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.reviews[id]
	if !ok {
		return nil, catalog.ReviewNotFound(id)
	}

	working := *current
	if err := mutate(&working); err != nil {
		return nil, err
	}
	working.ID = id

	oldLocation := current.Location
	if working.Location != oldLocation {
		if _, ok := s.locations[working.Location]; !ok {
			return nil, catalog.LocationNotFound(working.Location)
		}
	}

	*current = working
	s.recompute(oldLocation)
	if working.Location != oldLocation {
		s.recompute(working.Location)
	}

	out := working
	return &out, nil
}

func (s *Store) DeleteReview(_ context.Context, id string, authorize func(*catalog.Review) error) (*catalog.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.reviews[id]
	if !ok {
		return nil, catalog.ReviewNotFound(id)
	}
	snapshot := *current
	if err := authorize(&snapshot); err != nil {
		return nil, err
	}

	delete(s.reviews, id)
	s.reviewOrder = removeID(s.reviewOrder, id)
	s.recompute(current.Location)
	return &snapshot, nil
}

func (s *Store) RecomputeAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fixed := 0
	for _, id := range s.locationOrder {
		l := s.locations[id]
		rating, count := l.Rating, l.NumReviews
		s.recompute(id)
		if l.Rating != rating || l.NumReviews != count {
			fixed++
		}
	}
	return fixed, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// SetAggregates overwrites the stored aggregates of a location without
// touching its reviews. It exists so reconciliation can be exercised.
func (s *Store) SetAggregates(id string, rating float64, numReviews int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locations[id]; ok {
		l.Rating, l.NumReviews = rating, numReviews
	}
}

// recompute must be called with the write lock held.
func (s *Store) recompute(locationID string) {
	l, ok := s.locations[locationID]
	if !ok {
		return
	}
	var levels []int
	for _, r := range s.reviews {
		if r.Location == locationID {
			levels = append(levels, r.NoiseLevel)
		}
	}
	l.Rating, l.NumReviews = catalog.Aggregate(levels)
}

func cloneLocation(l *catalog.Location) *catalog.Location {
	out := *l
	if l.Amenities != nil {
		out.Amenities = append([]string(nil), l.Amenities...)
	}
	return &out
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

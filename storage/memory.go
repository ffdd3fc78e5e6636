package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Bezludnev/parsingCarAvalible/models"
	"github.com/Bezludnev/parsingCarAvalible/services"
)

// MemoryStore is an in-process implementation of the engine store. It
// backs the test suite and local runs without a database. One mutex spans
// every RecordCheck, which gives the same all-or-nothing unit the
// Postgres store gets from a transaction.
type MemoryStore struct {
	mu          sync.RWMutex
	listings    map[string]models.Listing
	checks      []models.CheckRecord
	priceEvents []models.PriceChangeEvent
	descEvents  []models.DescriptionChangeEvent
	availEvents []models.AvailabilityChangeEvent
	claims      map[string]struct{}
	nextID      int64

	failWrites map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings:   make(map[string]models.Listing),
		claims:     make(map[string]struct{}),
		failWrites: make(map[string]error),
	}
}

// FailWritesFor makes RecordCheck fail for one listing id, for simulating
// a mid-batch store fault in tests. Pass nil to clear.
func (s *MemoryStore) FailWritesFor(listingID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failWrites, listingID)
		return
	}
	s.failWrites[listingID] = err
}

func (s *MemoryStore) GetListing(_ context.Context, id string) (*models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, nil
	}
	cp := l
	return &cp, nil
}

func (s *MemoryStore) ListCandidates(_ context.Context, checkedBefore time.Time, limit int) ([]models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Listing
	for _, l := range s.listings {
		if l.Availability != models.AvailabilityActive {
			continue
		}
		if l.LastCheckedAt == nil || l.LastCheckedAt.Before(checkedBefore) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastCheckedAt, out[j].LastCheckedAt
		if a == nil && b == nil {
			return out[i].ID < out[j].ID
		}
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecordCheck(_ context.Context, unit *models.CheckUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failWrites[unit.Check.ListingID]; ok {
		return err
	}

	if unit.Listing != nil {
		stored, exists := s.listings[unit.Listing.ID]
		if unit.Listing.Version == 0 {
			if exists {
				return services.ErrVersionConflict
			}
		} else if !exists || stored.Version != unit.Listing.Version {
			return services.ErrVersionConflict
		}
		next := *unit.Listing
		next.Version++
		s.listings[next.ID] = next
	}

	check := unit.Check
	s.nextID++
	check.ID = s.nextID
	s.checks = append(s.checks, check)

	for _, e := range unit.PriceChanges {
		s.nextID++
		e.ID = s.nextID
		s.priceEvents = append(s.priceEvents, e)
	}
	for _, e := range unit.DescriptionChanges {
		s.nextID++
		e.ID = s.nextID
		s.descEvents = append(s.descEvents, e)
	}
	for _, e := range unit.AvailabilityChanges {
		s.nextID++
		e.ID = s.nextID
		s.availEvents = append(s.availEvents, e)
	}
	return nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, listingID string) ([]models.PriceChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PriceChangeEvent
	for _, e := range s.priceEvents {
		if e.ListingID == listingID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *MemoryStore) PriceDrops(_ context.Context, since time.Time, minDrop int64) ([]models.PriceChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PriceChangeEvent
	for _, e := range s.priceEvents {
		if e.Delta <= -minDrop && !e.DetectedAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Delta != out[j].Delta {
			return out[i].Delta < out[j].Delta
		}
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out, nil
}

func (s *MemoryStore) ChangesSummary(_ context.Context, since time.Time) (models.ChangesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum models.ChangesSummary
	for _, e := range s.priceEvents {
		if !e.DetectedAt.Before(since) {
			sum.PriceChanges++
		}
	}
	for _, e := range s.descEvents {
		if !e.DetectedAt.Before(since) {
			sum.DescriptionChanges++
		}
	}
	for _, e := range s.availEvents {
		if !e.DetectedAt.Before(since) {
			sum.AvailabilityChanges++
		}
	}
	return sum, nil
}

func (s *MemoryStore) ListingsWithDrops(_ context.Context, limit int) ([]models.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastDrop := make(map[string]time.Time)
	for _, e := range s.priceEvents {
		if e.Delta >= 0 {
			continue
		}
		if t, ok := lastDrop[e.ListingID]; !ok || e.DetectedAt.After(t) {
			lastDrop[e.ListingID] = e.DetectedAt
		}
	}

	var out []models.Listing
	for id := range lastDrop {
		if l, ok := s.listings[id]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lastDrop[out[i].ID].After(lastDrop[out[j].ID])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByAvailability(_ context.Context) (map[models.Availability]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.Availability]int)
	for _, l := range s.listings {
		counts[l.Availability]++
	}
	return counts, nil
}

func (s *MemoryStore) CountEventsSince(_ context.Context, since time.Time) (int, error) {
	sum, err := s.ChangesSummary(context.Background(), since)
	if err != nil {
		return 0, err
	}
	return sum.Total(), nil
}

func (s *MemoryStore) CountNeverChecked(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, l := range s.listings {
		if l.LastCheckedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) LastPassAt(_ context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *time.Time
	for i := range s.checks {
		c := s.checks[i]
		if c.Outcome == models.OutcomeError {
			continue
		}
		if last == nil || c.Timestamp.After(*last) {
			t := c.Timestamp
			last = &t
		}
	}
	return last, nil
}

func (s *MemoryStore) ClaimNotification(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.claims[key]; taken {
		return false, nil
	}
	s.claims[key] = struct{}{}
	return true, nil
}

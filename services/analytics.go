package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

// AnalyticsService answers the read-only market queries. All queries run
// against persisted history and tolerate concurrent check passes; the
// atomic recorder guarantees they never observe half a pass.
type AnalyticsService struct {
	store      Store
	staleAfter time.Duration
}

func NewAnalyticsService(store Store, staleAfter time.Duration) *AnalyticsService {
	return &AnalyticsService{store: store, staleAfter: staleAfter}
}

// ChangesSummary counts events of each type within the trailing window.
func (s *AnalyticsService) ChangesSummary(ctx context.Context, windowDays int) (models.ChangesSummary, error) {
	since := time.Now().AddDate(0, 0, -windowDays)
	sum, err := s.store.ChangesSummary(ctx, since)
	if err != nil {
		return models.ChangesSummary{}, fmt.Errorf("changes summary: %w", err)
	}
	sum.WindowDays = windowDays
	return sum, nil
}

// PriceDrops returns price events within the window whose drop is at
// least minDrop, largest drop first, most recent first among equals.
func (s *AnalyticsService) PriceDrops(ctx context.Context, windowDays int, minDrop int64) ([]models.PriceChangeEvent, error) {
	since := time.Now().AddDate(0, 0, -windowDays)
	drops, err := s.store.PriceDrops(ctx, since, minDrop)
	if err != nil {
		return nil, fmt.Errorf("price drops: %w", err)
	}
	return drops, nil
}

// NeverChecked returns the staleness queue: listings never diffed, then
// those longest unchecked, bounded by limit.
func (s *AnalyticsService) NeverChecked(ctx context.Context, limit int) ([]models.Listing, error) {
	cutoff := time.Now().Add(-s.staleAfter)
	listings, err := s.store.ListCandidates(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("never checked: %w", err)
	}
	return listings, nil
}

// Status assembles the engine health snapshot.
func (s *AnalyticsService) Status(ctx context.Context) (*models.EngineStatus, error) {
	byStatus, err := s.store.CountByAvailability(ctx)
	if err != nil {
		return nil, fmt.Errorf("count by availability: %w", err)
	}
	events24h, err := s.store.CountEventsSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	neverChecked, err := s.store.CountNeverChecked(ctx)
	if err != nil {
		return nil, fmt.Errorf("count never checked: %w", err)
	}
	lastPass, err := s.store.LastPassAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("last pass: %w", err)
	}

	return &models.EngineStatus{
		ListingsByStatus: byStatus,
		EventsLast24h:    events24h,
		LastPassAt:       lastPass,
		NeverChecked:     neverChecked,
	}, nil
}

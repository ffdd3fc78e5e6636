package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

// DesperationConfig tunes the seller-desperation scorer. Both values are
// configuration, not law.
type DesperationConfig struct {
	// HalfLifeDays is the decay half-life: a drop this many days old
	// contributes half of what it did the day it happened.
	HalfLifeDays float64
	// AgingWeight is the per-day contribution of time on market.
	AgingWeight float64
}

func DefaultDesperationConfig() DesperationConfig {
	return DesperationConfig{HalfLifeDays: 30, AgingWeight: 0.001}
}

// Scorer derives a per-listing negotiation-priority signal from price
// history. Scores are recomputed on demand, never stored as source of
// truth.
type Scorer struct {
	store Store
	cfg   DesperationConfig
}

func NewScorer(store Store, cfg DesperationConfig) *Scorer {
	if cfg.HalfLifeDays <= 0 {
		cfg.HalfLifeDays = DefaultDesperationConfig().HalfLifeDays
	}
	return &Scorer{store: store, cfg: cfg}
}

// ComputeScore is the pure scoring function: the sum over price drops of
// (magnitude / price at the time) decayed by age, plus an aging term for
// total time on market. Frequent, large, recent drops relative to the
// asking price rank highest.
func ComputeScore(listing *models.Listing, history []models.PriceChangeEvent, now time.Time, cfg DesperationConfig) models.DesperationScore {
	score := models.DesperationScore{
		ListingID:    listing.ID,
		DaysOnMarket: listing.DaysOnMarket(now),
		ComputedAt:   now,
	}

	for i := range history {
		e := history[i]
		if e.Delta >= 0 || e.OldPrice <= 0 {
			continue
		}
		magnitude := -e.Delta
		ageDays := now.Sub(e.DetectedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decay := math.Pow(0.5, ageDays/cfg.HalfLifeDays)
		score.Score += float64(magnitude) / float64(e.OldPrice) * decay

		score.DropCount++
		score.TotalDrop += magnitude
		if score.FirstDropAt == nil {
			t := e.DetectedAt
			score.FirstDropAt = &t
		}
	}

	score.Score += cfg.AgingWeight * score.DaysOnMarket
	return score
}

// Score loads the listing's full price history and computes its signal.
func (s *Scorer) Score(ctx context.Context, listing *models.Listing) (models.DesperationScore, error) {
	history, err := s.store.PriceHistory(ctx, listing.ID)
	if err != nil {
		return models.DesperationScore{}, fmt.Errorf("price history %s: %w", listing.ID, err)
	}
	return ComputeScore(listing, history, time.Now(), s.cfg), nil
}

// ScoreByID resolves the listing first.
func (s *Scorer) ScoreByID(ctx context.Context, listingID string) (models.DesperationScore, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return models.DesperationScore{}, fmt.Errorf("get listing %s: %w", listingID, err)
	}
	if listing == nil {
		return models.DesperationScore{}, ErrListingNotFound
	}
	return s.Score(ctx, listing)
}

// RankNegotiationTargets returns the highest-scoring listings among those
// with at least one recorded price drop, best target first.
func (s *Scorer) RankNegotiationTargets(ctx context.Context, limit int) ([]models.DesperationScore, error) {
	// Over-fetch so the decay-weighted ranking has room to reorder the
	// recency-ordered candidate set.
	candidates, err := s.store.ListingsWithDrops(ctx, limit*4)
	if err != nil {
		return nil, fmt.Errorf("listings with drops: %w", err)
	}

	scores := make([]models.DesperationScore, 0, len(candidates))
	for i := range candidates {
		sc, err := s.Score(ctx, &candidates[i])
		if err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

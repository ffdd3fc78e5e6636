package services_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Bezludnev/parsingCarAvalible/models"
	"github.com/Bezludnev/parsingCarAvalible/services"
	"github.com/Bezludnev/parsingCarAvalible/storage"
)

var testLog = zerolog.Nop()

// stubSource returns a canned batch, or an error, per call.
type stubSource struct {
	batch *models.SnapshotBatch
	err   error
	// calls records the ids of each Fetch.
	calls [][]string
}

func (s *stubSource) Fetch(_ context.Context, ids []string) (*models.SnapshotBatch, error) {
	s.calls = append(s.calls, ids)
	if s.err != nil {
		return nil, s.err
	}
	if s.batch == nil {
		return &models.SnapshotBatch{}, nil
	}
	return s.batch, nil
}

// captureNotifier records every delivered request and can be told to fail.
type captureNotifier struct {
	requests []models.NotificationRequest
	err      error
}

func (n *captureNotifier) Notify(_ context.Context, req models.NotificationRequest) error {
	if n.err != nil {
		return n.err
	}
	n.requests = append(n.requests, req)
	return nil
}

func testSnapshot(id string, price int64, at time.Time) models.Snapshot {
	return models.Snapshot{
		ID:              id,
		Title:           "VW Golf 1.5 TSI",
		Price:           price,
		Currency:        "EUR",
		Mileage:         64000,
		Year:            2020,
		URL:             "https://cars.example/ad/" + id,
		DescriptionHash: "fp-" + id,
		ObservedAt:      at,
	}
}

// seedListing creates a baseline listing through the same diff path
// production uses, so versions and timestamps are realistic.
func seedListing(t *testing.T, store services.Store, id string, price int64, at time.Time) *models.Listing {
	t.Helper()
	snap := testSnapshot(id, price, at)
	unit, err := services.Diff(nil, &snap)
	require.NoError(t, err)
	require.NoError(t, store.RecordCheck(context.Background(), unit))

	stored, err := store.GetListing(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	return stored
}

// applySnapshot runs one diff-and-record cycle against current state.
func applySnapshot(t *testing.T, store services.Store, snap models.Snapshot) *models.CheckUnit {
	t.Helper()
	stored, err := store.GetListing(context.Background(), snap.ID)
	require.NoError(t, err)
	unit, err := services.Diff(stored, &snap)
	require.NoError(t, err)
	require.NoError(t, store.RecordCheck(context.Background(), unit))
	return unit
}

// newSeededStore builds a store with three listings and a spread of price
// history: one with frequent recent drops, one with a single old drop,
// one with no drops at all.
func newSeededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	now := time.Now()

	seedListing(t, store, "frequent", 10000, now.AddDate(0, 0, -30))
	applySnapshot(t, store, testSnapshot("frequent", 9600, now.AddDate(0, 0, -20)))
	applySnapshot(t, store, testSnapshot("frequent", 9200, now.AddDate(0, 0, -10)))
	applySnapshot(t, store, testSnapshot("frequent", 8800, now.AddDate(0, 0, -2)))

	seedListing(t, store, "single", 40000, now.AddDate(0, 0, -120))
	applySnapshot(t, store, testSnapshot("single", 36000, now.AddDate(0, 0, -100)))

	seedListing(t, store, "steady", 20000, now.AddDate(0, 0, -15))

	return store
}

// readFailStore wraps a store so every GetListing fails, simulating the
// store going down mid-pass.
type readFailStore struct {
	*storage.MemoryStore
	err error
}

func (s *readFailStore) GetListing(context.Context, string) (*models.Listing, error) {
	return nil, s.err
}

// conflictOnceStore wraps a store so the first RecordCheck for one id
// fails with a version conflict, simulating a concurrent writer.
type conflictOnceStore struct {
	*storage.MemoryStore
	conflictID string
	fired      bool
}

func (s *conflictOnceStore) RecordCheck(ctx context.Context, unit *models.CheckUnit) error {
	if !s.fired && unit.Check.ListingID == s.conflictID {
		s.fired = true
		return fmt.Errorf("simulated concurrent writer: %w", services.ErrVersionConflict)
	}
	return s.MemoryStore.RecordCheck(ctx, unit)
}

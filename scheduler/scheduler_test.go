package scheduler

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezludnev/parsingCarAvalible/config"
	"github.com/Bezludnev/parsingCarAvalible/models"
	"github.com/Bezludnev/parsingCarAvalible/services"
	"github.com/Bezludnev/parsingCarAvalible/storage"
)

type fixedSource struct {
	batch models.SnapshotBatch
}

func (s *fixedSource) Fetch(_ context.Context, _ []string) (*models.SnapshotBatch, error) {
	return &s.batch, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *storage.MemoryStore, *storage.SQLiteStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	log := zerolog.Nop()

	now := time.Now()
	snap := &models.Snapshot{
		ID:              "a1",
		Title:           "Ford Focus 1.0 EcoBoost",
		Price:           12500,
		Currency:        "EUR",
		DescriptionHash: "fp",
		ObservedAt:      now.Add(-48 * time.Hour),
	}
	unit, err := services.Diff(nil, snap)
	require.NoError(t, err)
	require.NoError(t, store.RecordCheck(context.Background(), unit))

	source := &fixedSource{batch: models.SnapshotBatch{
		Snapshots: []models.Snapshot{{
			ID:              "a1",
			Title:           "Ford Focus 1.0 EcoBoost",
			Price:           11900,
			Currency:        "EUR",
			DescriptionHash: "fp",
			ObservedAt:      now,
		}},
	}}

	ops, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ops.Close() })

	cfg := &config.Config{
		Alerts: config.AlertsConfig{DigestWindowDays: 7, DigestMinDrop: 500},
	}
	gate := services.NewTriggerGate(store, services.NewLogNotifier(log), 500, log)
	monitor := services.NewMonitorService(store, source, gate, services.DefaultMonitorConfig(), log)
	analytics := services.NewAnalyticsService(store, 20*time.Hour)

	return New(cfg, monitor, analytics, gate, ops, log), store, ops
}

func TestScheduler_TriggerNowRecordsRun(t *testing.T) {
	sched, store, ops := newTestScheduler(t)

	report, err := sched.TriggerNow(t.Context(), []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Changed)

	l, err := store.GetListing(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(11900), l.Price)

	runs, err := ops.GetRecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, report.PassID.String(), runs[0].PassID)
	assert.Equal(t, 1, runs[0].Checked)
}

func TestScheduler_PauseSkipsPasses(t *testing.T) {
	sched, store, _ := newTestScheduler(t)

	require.NoError(t, sched.handleCommand(t.Context(), &models.Command{Command: models.CmdPause}))

	report, err := sched.TriggerNow(t.Context(), []string{"a1"})
	require.NoError(t, err)
	assert.Zero(t, report.Checked)

	l, err := store.GetListing(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(12500), l.Price, "paused passes must not touch the store")

	require.NoError(t, sched.handleCommand(t.Context(), &models.Command{Command: models.CmdResume}))
	report, err = sched.TriggerNow(t.Context(), []string{"a1"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
}

func TestScheduler_CheckNowCommand(t *testing.T) {
	sched, store, _ := newTestScheduler(t)

	params, err := json.Marshal(models.CommandParams{ListingIDs: []string{"a1"}})
	require.NoError(t, err)
	cmd := &models.Command{Command: models.CmdCheckNow, Params: params}

	require.NoError(t, sched.handleCommand(t.Context(), cmd))

	l, err := store.GetListing(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(11900), l.Price)
}

func TestScheduler_ReactivateCommand(t *testing.T) {
	sched, store, _ := newTestScheduler(t)

	stored, err := store.GetListing(t.Context(), "a1")
	require.NoError(t, err)
	require.NoError(t, store.RecordCheck(t.Context(), services.MissingUnit(stored, time.Now())))

	params, err := json.Marshal(models.CommandParams{ListingID: "a1"})
	require.NoError(t, err)
	require.NoError(t, sched.handleCommand(t.Context(), &models.Command{
		Command: models.CmdReactivate,
		Params:  params,
	}))

	l, err := store.GetListing(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityActive, l.Availability)

	// Missing listing_id is rejected.
	assert.Error(t, sched.handleCommand(t.Context(), &models.Command{Command: models.CmdReactivate}))
}

func TestScheduler_UnknownCommand(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	assert.Error(t, sched.handleCommand(t.Context(), &models.Command{Command: "format_disk"}))
}

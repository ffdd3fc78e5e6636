package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

// MonitorConfig tunes one check pass.
type MonitorConfig struct {
	// StaleAfter selects candidates: listings unchecked for longer than
	// this (or never) are due.
	StaleAfter time.Duration
	// BatchLimit caps how many candidates one pass picks up.
	BatchLimit int
	// Concurrency is the worker count for per-listing units. Distinct ids
	// run in parallel; the same id is always serialized.
	Concurrency int
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StaleAfter:  20 * time.Hour,
		BatchLimit:  200,
		Concurrency: 8,
	}
}

// MonitorService runs check passes: it pulls snapshots from the scraping
// collaborator, diffs them against stored state, records the resulting
// units atomically and feeds the pass's events to the trigger gate.
type MonitorService struct {
	store  Store
	source SnapshotSource
	gate   *TriggerGate
	cfg    MonitorConfig
	log    zerolog.Logger
	locks  keyedMutex
}

func NewMonitorService(store Store, source SnapshotSource, gate *TriggerGate, cfg MonitorConfig, log zerolog.Logger) *MonitorService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultMonitorConfig().Concurrency
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultMonitorConfig().BatchLimit
	}
	return &MonitorService{
		store:  store,
		source: source,
		gate:   gate,
		cfg:    cfg,
		log:    log.With().Str("component", "monitor").Logger(),
	}
}

// RunCheck processes the supplied ids, or all due candidates when ids is
// nil. Each listing is one atomic unit; a cancelled context stops the
// pass between units and leaves the rest for the next one.
func (m *MonitorService) RunCheck(ctx context.Context, ids []string) (*models.CheckReport, error) {
	report := &models.CheckReport{
		PassID:    uuid.New(),
		StartedAt: time.Now(),
	}

	if ids == nil {
		candidates, err := m.store.ListCandidates(ctx, time.Now().Add(-m.cfg.StaleAfter), m.cfg.BatchLimit)
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		ids = make([]string, len(candidates))
		for i := range candidates {
			ids[i] = candidates[i].ID
		}
	}

	if len(ids) == 0 {
		report.FinishedAt = time.Now()
		m.log.Info().Str("pass_id", report.PassID.String()).Msg("nothing to check")
		return report, nil
	}

	// Systemic source failure fails the whole batch fast; per-listing
	// atomicity means nothing was partially written.
	batch, err := m.source.Fetch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshots: %w", err)
	}

	units, err := m.processBatch(ctx, ids, batch, report)
	if err != nil {
		return nil, fmt.Errorf("check pass aborted: %w", err)
	}

	if m.gate != nil {
		if emitted, err := m.gate.Evaluate(ctx, units); err != nil {
			m.log.Error().Err(err).Msg("trigger gate evaluation failed")
		} else if emitted > 0 {
			m.log.Info().Int("notifications", emitted).Msg("notifications emitted")
		}
	}

	report.FinishedAt = time.Now()
	m.log.Info().
		Str("pass_id", report.PassID.String()).
		Int("checked", report.Checked).
		Int("changed", report.Changed).
		Int("unavailable", report.Unavailable).
		Int("errors", report.Errors).
		Msg("check pass finished")
	return report, nil
}

type workItem struct {
	id string
	// snapshots holds every observation of the id this pass, ordered by
	// ObservedAt, so a duplicated or replayed observation can never apply
	// after a newer one.
	snapshots []*models.Snapshot
	// missing marks an id the collaborator explicitly reported as gone.
	// No snapshots without the flag means the collaborator failed to
	// cover the id at all.
	missing bool
}

func (m *MonitorService) processBatch(ctx context.Context, ids []string, batch *models.SnapshotBatch, report *models.CheckReport) ([]*models.CheckUnit, error) {
	observed := make(map[string][]*models.Snapshot, len(batch.Snapshots))
	for i := range batch.Snapshots {
		snap := &batch.Snapshots[i]
		observed[snap.ID] = append(observed[snap.ID], snap)
	}
	for _, snaps := range observed {
		sort.SliceStable(snaps, func(i, j int) bool {
			return snaps[i].ObservedAt.Before(snaps[j].ObservedAt)
		})
	}
	missing := make(map[string]bool, len(batch.Missing))
	for _, id := range batch.Missing {
		missing[id] = true
	}

	var items []workItem
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		switch {
		case len(observed[id]) > 0:
			items = append(items, workItem{id: id, snapshots: observed[id]})
		case missing[id]:
			items = append(items, workItem{id: id, missing: true})
		default:
			// The collaborator neither observed the id nor reported it
			// missing: a transient failure on its side.
			items = append(items, workItem{id: id})
		}
	}
	// Snapshots for ids nobody asked about (new discoveries) still get
	// processed; their first observation is the baseline.
	for id, snaps := range observed {
		if seen[id] {
			continue
		}
		items = append(items, workItem{id: id, snapshots: snaps})
	}

	// A read failure means the store itself is down; cancelling the pass
	// stops the remaining units from piling up doomed writes.
	passCtx, cancelPass := context.WithCancel(ctx)
	defer cancelPass()

	var (
		mu    sync.Mutex
		units []*models.CheckUnit
		fatal error
		wg    sync.WaitGroup
	)
	itemCh := make(chan workItem)

	for w := 0; w < m.cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemCh {
				done, err := m.processItem(ctx, item)
				mu.Lock()
				if err != nil && fatal == nil {
					fatal = err
					cancelPass()
				}
				for _, unit := range done {
					units = append(units, unit)
					report.Checked++
					switch unit.Check.Outcome {
					case models.OutcomeChanged:
						report.Changed++
					case models.OutcomeUnavailable:
						report.Unavailable++
					case models.OutcomeError:
						report.Errors++
					}
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, item := range items {
		select {
		case itemCh <- item:
		case <-passCtx.Done():
			if ctx.Err() != nil {
				m.log.Warn().Err(ctx.Err()).Msg("pass cancelled, remaining listings deferred")
			}
			break dispatch
		}
	}
	close(itemCh)
	wg.Wait()

	if fatal != nil {
		m.log.Error().Err(fatal).Msg("store unavailable, pass aborted")
		return nil, fatal
	}
	return units, nil
}

// processItem runs all of one listing's work for the pass under the
// per-id lock: snapshots apply oldest first, so within a pass history is
// never reordered. A failed read aborts the whole pass.
func (m *MonitorService) processItem(ctx context.Context, item workItem) ([]*models.CheckUnit, error) {
	unlock := m.locks.lock(item.id)
	defer unlock()

	if len(item.snapshots) == 0 {
		unit, err := m.applyOne(ctx, item.id, nil, item.missing)
		if err != nil || unit == nil {
			return nil, err
		}
		return []*models.CheckUnit{unit}, nil
	}

	units := make([]*models.CheckUnit, 0, len(item.snapshots))
	for _, snap := range item.snapshots {
		unit, err := m.applyOne(ctx, item.id, snap, false)
		if err != nil {
			return units, err
		}
		if unit != nil {
			units = append(units, unit)
		}
	}
	return units, nil
}

// applyOne is one diff-and-record attempt, retrying a version conflict
// once against freshly read state. It returns the persisted unit, or nil
// when nothing was recorded; the error return is reserved for store
// unavailability.
func (m *MonitorService) applyOne(ctx context.Context, id string, snap *models.Snapshot, missing bool) (*models.CheckUnit, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		stored, err := m.store.GetListing(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read listing %s: %w", id, err)
		}

		unit, err := m.buildUnit(stored, id, snap, missing)
		if err != nil {
			// Malformed snapshot: reject the unit, leave the listing
			// untouched, audit the failure.
			return m.recordError(ctx, id, err.Error()), nil
		}
		if unit == nil {
			return nil, nil
		}

		err = m.store.RecordCheck(ctx, unit)
		if err == nil {
			return unit, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			lastErr = err
			continue
		}
		lastErr = err
		break
	}

	m.log.Error().Err(lastErr).Str("listing_id", id).Msg("check unit failed")
	return m.recordError(ctx, id, lastErr.Error()), nil
}

func (m *MonitorService) buildUnit(stored *models.Listing, id string, snap *models.Snapshot, missing bool) (*models.CheckUnit, error) {
	if snap == nil {
		if !missing {
			return nil, fmt.Errorf("no snapshot for %s this pass", id)
		}
		if stored == nil {
			// Reported missing but never tracked: nothing to transition.
			return nil, nil
		}
		return MissingUnit(stored, time.Now()), nil
	}
	return Diff(stored, snap)
}

func (m *MonitorService) recordError(ctx context.Context, listingID, note string) *models.CheckUnit {
	unit := ErrorUnit(listingID, time.Now(), note)
	if err := m.store.RecordCheck(ctx, unit); err != nil {
		m.log.Error().Err(err).Str("listing_id", listingID).Msg("failed to record error outcome")
	}
	return unit
}

// Reactivate flips an unavailable listing back to active. This is the
// only path back: a reappearing snapshot never does it implicitly.
func (m *MonitorService) Reactivate(ctx context.Context, listingID string) error {
	unlock := m.locks.lock(listingID)
	defer unlock()

	for attempt := 0; attempt < 2; attempt++ {
		stored, err := m.store.GetListing(ctx, listingID)
		if err != nil {
			return fmt.Errorf("get listing: %w", err)
		}
		if stored == nil {
			return ErrListingNotFound
		}
		if stored.Availability == models.AvailabilityActive {
			return nil
		}

		err = m.store.RecordCheck(ctx, ReactivateUnit(stored, time.Now()))
		if err == nil {
			m.log.Info().Str("listing_id", listingID).Msg("listing reactivated")
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("record reactivation: %w", err)
		}
	}
	return fmt.Errorf("reactivate %s: %w", listingID, ErrVersionConflict)
}

// keyedMutex serializes work per listing id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

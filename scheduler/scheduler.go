package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Bezludnev/parsingCarAvalible/config"
	"github.com/Bezludnev/parsingCarAvalible/models"
	"github.com/Bezludnev/parsingCarAvalible/services"
	"github.com/Bezludnev/parsingCarAvalible/storage"
)

// Scheduler owns all timing: periodic check passes, the weekly price-drop
// digest and the operator command queue. The engine itself holds no
// time-based state.
type Scheduler struct {
	cfg       *config.Config
	monitor   *services.MonitorService
	analytics *services.AnalyticsService
	gate      *services.TriggerGate
	ops       *storage.SQLiteStore
	cron      *cron.Cron
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	log       zerolog.Logger

	mu     sync.Mutex
	paused bool
}

func New(cfg *config.Config, monitor *services.MonitorService, analytics *services.AnalyticsService, gate *services.TriggerGate, ops *storage.SQLiteStore, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		monitor:   monitor,
		analytics: analytics,
		gate:      gate,
		ops:       ops,
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
		log:       log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Scheduler.DigestCron != "" {
		_, err := s.cron.AddFunc(s.cfg.Scheduler.DigestCron, func() {
			if err := s.runDigest(ctx); err != nil {
				s.log.Error().Err(err).Msg("digest run failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid digest cron expression: %w", err)
		}
	}

	switch {
	case s.cfg.Scheduler.Cron != "":
		s.log.Info().Str("cron", s.cfg.Scheduler.Cron).Msg("starting scheduler")
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.runPass(ctx, nil)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case s.cfg.Scheduler.Interval > 0:
		s.log.Info().Dur("interval", s.cfg.Scheduler.Interval).Msg("starting scheduler")
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runPass(ctx, nil)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	default:
		s.log.Info().Msg("no schedule configured, responding to commands only")
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// TriggerNow runs one pass immediately, for the -check flag and the API.
func (s *Scheduler) TriggerNow(ctx context.Context, ids []string) (*models.CheckReport, error) {
	return s.runPassReport(ctx, ids)
}

func (s *Scheduler) runPass(ctx context.Context, ids []string) {
	if _, err := s.runPassReport(ctx, ids); err != nil {
		s.log.Error().Err(err).Msg("scheduled pass failed")
	}
}

func (s *Scheduler) runPassReport(ctx context.Context, ids []string) (*models.CheckReport, error) {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		s.log.Info().Msg("paused, skipping pass")
		return &models.CheckReport{StartedAt: time.Now(), FinishedAt: time.Now()}, nil
	}

	run := &models.CheckRun{
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	var runID int64
	if s.ops != nil {
		var err error
		if runID, err = s.ops.CreateRun(run); err != nil {
			s.log.Warn().Err(err).Msg("failed to create run record")
		}
		run.ID = runID
	}

	report, err := s.monitor.RunCheck(ctx, ids)

	if s.ops != nil && run.ID != 0 {
		now := time.Now()
		run.FinishedAt = &now
		if err != nil {
			run.Status = models.RunStatusFailed
		} else {
			run.Status = models.RunStatusCompleted
			run.PassID = report.PassID.String()
			run.Checked = report.Checked
			run.Changed = report.Changed
			run.Errors = report.Errors
		}
		if uerr := s.ops.UpdateRun(run); uerr != nil {
			s.log.Warn().Err(uerr).Msg("failed to update run record")
		}
	}

	return report, err
}

func (s *Scheduler) runDigest(ctx context.Context) error {
	drops, err := s.analytics.PriceDrops(ctx, s.cfg.Alerts.DigestWindowDays, s.cfg.Alerts.DigestMinDrop)
	if err != nil {
		return err
	}
	s.log.Info().Int("drops", len(drops)).Msg("running price-drop digest")
	return s.gate.EmitDigest(ctx, drops, s.cfg.Alerts.DigestWindowDays, s.cfg.Alerts.DigestMinDrop)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	if s.ops == nil {
		return
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.ops.GetPendingCommands()
			if err != nil {
				s.log.Error().Err(err).Msg("error reading commands")
				continue
			}

			for _, cmd := range cmds {
				s.log.Info().Str("command", string(cmd.Command)).Msg("processing command")
				if err := s.handleCommand(ctx, &cmd); err != nil {
					s.log.Error().Err(err).Str("command", string(cmd.Command)).Msg("command failed")
				}
				if err := s.ops.MarkCommandProcessed(cmd.ID); err != nil {
					s.log.Error().Err(err).Msg("error marking command processed")
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := s.ops.ParseCommandParams(cmd)
	if err != nil {
		return fmt.Errorf("parse params: %w", err)
	}

	switch cmd.Command {
	case models.CmdCheckNow:
		var ids []string
		if len(params.ListingIDs) > 0 {
			ids = params.ListingIDs
		}
		s.runPass(ctx, ids)
		return nil
	case models.CmdPause:
		s.mu.Lock()
		s.paused = true
		s.mu.Unlock()
		return nil
	case models.CmdResume:
		s.mu.Lock()
		s.paused = false
		s.mu.Unlock()
		return nil
	case models.CmdReactivate:
		if params.ListingID == "" {
			return fmt.Errorf("reactivate requires listing_id")
		}
		return s.monitor.Reactivate(ctx, params.ListingID)
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

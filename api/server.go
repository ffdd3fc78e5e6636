package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Bezludnev/parsingCarAvalible/config"
	"github.com/Bezludnev/parsingCarAvalible/models"
	"github.com/Bezludnev/parsingCarAvalible/services"
	"github.com/Bezludnev/parsingCarAvalible/storage"
)

// maxCheckIDs caps an on-demand check request so one API call cannot
// turn into a full-fleet pass.
const maxCheckIDs = 50

// Server exposes the engine over HTTP: on-demand checks, change
// aggregates and ranking queries.
type Server struct {
	monitor   *services.MonitorService
	analytics *services.AnalyticsService
	scorer    *services.Scorer
	ops       *storage.SQLiteStore
	filters   map[string]*config.FilterConfig
	srv       *http.Server
	log       zerolog.Logger
}

func NewServer(addr string, monitor *services.MonitorService, analytics *services.AnalyticsService, scorer *services.Scorer, ops *storage.SQLiteStore, filters map[string]*config.FilterConfig, log zerolog.Logger) *Server {
	s := &Server{
		monitor:   monitor,
		analytics: analytics,
		scorer:    scorer,
		ops:       ops,
		filters:   filters,
		log:       log.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /checks/run", s.handleRunCheck)
	mux.HandleFunc("GET /changes/summary", s.handleChangesSummary)
	mux.HandleFunc("GET /changes/price-drops", s.handlePriceDrops)
	mux.HandleFunc("GET /listings/never-checked", s.handleNeverChecked)
	mux.HandleFunc("GET /listings/{id}/desperation", s.handleDesperation)
	mux.HandleFunc("POST /listings/{id}/reactivate", s.handleReactivate)
	mux.HandleFunc("GET /negotiation/targets", s.handleNegotiationTargets)
	mux.HandleFunc("GET /filters", s.handleFilters)
	mux.HandleFunc("GET /runs", s.handleRuns)
	mux.HandleFunc("POST /commands", s.handleEnqueueCommand)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting api server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.analytics.Status(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type runCheckRequest struct {
	ListingIDs []string `json:"listing_ids"`
}

func (s *Server) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	var req runCheckRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if len(req.ListingIDs) > maxCheckIDs {
		writeError(w, http.StatusBadRequest, "too many listing ids, max "+strconv.Itoa(maxCheckIDs))
		return
	}
	if len(req.ListingIDs) == 0 {
		writeError(w, http.StatusBadRequest, "listing_ids is required, use the scheduler for full passes")
		return
	}

	report, err := s.monitor.RunCheck(r.Context(), req.ListingIDs)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleChangesSummary(w http.ResponseWriter, r *http.Request) {
	windowDays := queryInt(r, "window_days", 7)
	summary, err := s.analytics.ChangesSummary(r.Context(), windowDays)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handlePriceDrops(w http.ResponseWriter, r *http.Request) {
	windowDays := queryInt(r, "window_days", 7)
	minDrop := int64(queryInt(r, "min_drop", 0))
	drops, err := s.analytics.PriceDrops(r.Context(), windowDays, minDrop)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_days": windowDays,
		"min_drop":    minDrop,
		"drops":       drops,
	})
}

func (s *Server) handleNeverChecked(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	listings, err := s.analytics.NeverChecked(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings, "count": len(listings)})
}

func (s *Server) handleDesperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	score, err := s.scorer.ScoreByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrListingNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.monitor.Reactivate(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrListingNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"listing_id": id, "status": "reactivated"})
}

func (s *Server) handleNegotiationTargets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	targets, err := s.scorer.RankNegotiationTargets(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets, "count": len(targets)})
}

// handleFilters lists the tracked marketplace searches, ordered by id.
func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, len(s.filters))
	for id := range s.filters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*config.FilterConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.filters[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{"filters": out, "count": len(out)})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.ops == nil {
		writeError(w, http.StatusNotFound, "run history unavailable")
		return
	}
	limit := queryInt(r, "limit", 20)
	runs, err := s.ops.GetRecentRuns(limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

type enqueueCommandRequest struct {
	Command models.CommandType   `json:"command"`
	Params  models.CommandParams `json:"params"`
}

// handleEnqueueCommand puts an operator command on the sidecar queue;
// the scheduler picks it up on its next poll.
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	if s.ops == nil {
		writeError(w, http.StatusNotFound, "command queue unavailable")
		return
	}
	var req enqueueCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Command {
	case models.CmdCheckNow, models.CmdPause, models.CmdResume, models.CmdReactivate:
	default:
		writeError(w, http.StatusBadRequest, "unknown command")
		return
	}
	if err := s.ops.EnqueueCommand(req.Command, &req.Params); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

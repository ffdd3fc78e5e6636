package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CheckReport summarizes one check pass for the caller.
type CheckReport struct {
	PassID      uuid.UUID `json:"pass_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Checked     int       `json:"checked"`
	Changed     int       `json:"changed"`
	Unavailable int       `json:"unavailable"`
	Errors      int       `json:"errors"`
}

// ChangesSummary holds per-type event counts within a trailing window.
type ChangesSummary struct {
	WindowDays          int `json:"window_days"`
	PriceChanges        int `json:"price_changes"`
	DescriptionChanges  int `json:"description_changes"`
	AvailabilityChanges int `json:"availability_changes"`
}

// Total is the summed event count across all types.
func (s *ChangesSummary) Total() int {
	return s.PriceChanges + s.DescriptionChanges + s.AvailabilityChanges
}

// EngineStatus is the health snapshot served by status().
type EngineStatus struct {
	ListingsByStatus map[Availability]int `json:"listings_by_status"`
	EventsLast24h    int                  `json:"events_last_24h"`
	LastPassAt       *time.Time           `json:"last_pass_at"`
	NeverChecked     int                  `json:"never_checked"`
}

// DesperationScore is a derived ranking signal, recomputed on demand.
type DesperationScore struct {
	ListingID    string     `json:"listing_id"`
	Score        float64    `json:"score"`
	DropCount    int        `json:"drop_count"`
	TotalDrop    int64      `json:"total_drop"`
	DaysOnMarket float64    `json:"days_on_market"`
	FirstDropAt  *time.Time `json:"first_drop_at"`
	ComputedAt   time.Time  `json:"computed_at"`
}

// NotificationRequest is what the trigger gate hands to the external
// notifier. DedupeKey identifies the physical event, so re-evaluating the
// same pass can never produce a duplicate request.
type NotificationRequest struct {
	ID        uuid.UUID       `json:"id"`
	ListingID string          `json:"listing_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	DedupeKey string          `json:"dedupe_key"`
	CreatedAt time.Time       `json:"created_at"`
}

// CheckRun is the operational audit row for one pass, kept in the
// sidecar database.
type CheckRun struct {
	ID         int64      `json:"id" db:"id"`
	PassID     string     `json:"pass_id" db:"pass_id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	Status     RunStatus  `json:"status" db:"status"`
	Checked    int        `json:"checked" db:"checked"`
	Changed    int        `json:"changed" db:"changed"`
	Errors     int        `json:"errors" db:"errors"`
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdCheckNow   CommandType = "check_now"
	CmdPause      CommandType = "pause"
	CmdResume     CommandType = "resume"
	CmdReactivate CommandType = "reactivate"
)

// Command is an operator instruction queued in the sidecar database and
// polled by the scheduler.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	ListingIDs []string `json:"listing_ids,omitempty"`
	ListingID  string   `json:"listing_id,omitempty"`
}

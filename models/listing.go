package models

import (
	"time"
)

// Availability is the lifecycle status of a tracked listing.
type Availability string

const (
	// AvailabilityUnknown is the pre-first-observation state. It is never
	// persisted; a listing row always starts out Active.
	AvailabilityUnknown     Availability = "unknown"
	AvailabilityActive      Availability = "active"
	AvailabilityUnavailable Availability = "unavailable"
)

// Listing is the durable state for one tracked marketplace ad.
// The ID is the marketplace-assigned identifier and never changes.
// Listings are created on their first snapshot and soft-retired via
// Availability; rows are never deleted.
type Listing struct {
	ID              string       `json:"id" db:"id"`
	Title           string       `json:"title" db:"title"`
	Price           int64        `json:"price" db:"price"`
	Currency        string       `json:"currency" db:"currency"`
	Mileage         int          `json:"mileage" db:"mileage"`
	Year            int          `json:"year" db:"year"`
	URL             string       `json:"url" db:"url"`
	DescriptionHash string       `json:"description_hash" db:"description_hash"`
	Availability    Availability `json:"availability" db:"availability"`
	FirstSeenAt     time.Time    `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt      time.Time    `json:"last_seen_at" db:"last_seen_at"`
	LastCheckedAt   *time.Time   `json:"last_checked_at" db:"last_checked_at"`

	// Version guards concurrent writes to the same id. Bumped on every
	// persisted update; a stale version surfaces as ErrVersionConflict.
	Version int64 `json:"version" db:"version"`
}

// DaysOnMarket is the whole number of days between the first observation
// and now (clamped at zero for clock skew).
func (l *Listing) DaysOnMarket(now time.Time) float64 {
	d := now.Sub(l.FirstSeenAt).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot is one external observation of a listing, already parsed by the
// scraping collaborator. The engine never fetches anything itself.
// Collaborators either fingerprint the description themselves
// (DescriptionHash) or ship the raw text (Description) and let the feed
// layer derive the hash; the engine only ever compares hashes.
type Snapshot struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Price           int64     `json:"price"`
	Currency        string    `json:"currency"`
	Mileage         int       `json:"mileage"`
	Year            int       `json:"year"`
	URL             string    `json:"url"`
	Description     string    `json:"description,omitempty"`
	DescriptionHash string    `json:"description_hash"`
	ObservedAt      time.Time `json:"observed_at"`
}

// SnapshotBatch is the collaborator's full output for one scrape pass:
// the snapshots it observed plus the ids it expected but could not find
// (404/removed), which drive Active -> Unavailable transitions.
type SnapshotBatch struct {
	Snapshots []Snapshot `json:"snapshots"`
	Missing   []string   `json:"missing"`
}

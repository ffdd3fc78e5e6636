package models

import "time"

// Outcome classifies one diff attempt.
type Outcome string

const (
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeChanged     Outcome = "changed"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeError       Outcome = "error"
)

// CheckRecord is an append-only audit row, one per diff attempt.
type CheckRecord struct {
	ID        int64     `json:"id" db:"id"`
	ListingID string    `json:"listing_id" db:"listing_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Outcome   Outcome   `json:"outcome" db:"outcome"`
	Note      string    `json:"note" db:"note"`
}

// Event types
const (
	EventTypePriceChange        = "price_change"
	EventTypeDescriptionChange  = "description_change"
	EventTypeAvailabilityChange = "availability_change"
)

// PriceChangeEvent records a detected asking-price change.
// Delta is always NewPrice - OldPrice, so drops are negative.
type PriceChangeEvent struct {
	ID         int64     `json:"id" db:"id"`
	ListingID  string    `json:"listing_id" db:"listing_id"`
	OldPrice   int64     `json:"old_price" db:"old_price"`
	NewPrice   int64     `json:"new_price" db:"new_price"`
	Delta      int64     `json:"delta" db:"delta"`
	DetectedAt time.Time `json:"detected_at" db:"detected_at"`
}

// DescriptionChangeEvent records a changed description fingerprint.
type DescriptionChangeEvent struct {
	ID             int64     `json:"id" db:"id"`
	ListingID      string    `json:"listing_id" db:"listing_id"`
	OldFingerprint string    `json:"old_fingerprint" db:"old_fingerprint"`
	NewFingerprint string    `json:"new_fingerprint" db:"new_fingerprint"`
	DetectedAt     time.Time `json:"detected_at" db:"detected_at"`
}

// AvailabilityChangeEvent records a lifecycle transition.
type AvailabilityChangeEvent struct {
	ID         int64        `json:"id" db:"id"`
	ListingID  string       `json:"listing_id" db:"listing_id"`
	OldStatus  Availability `json:"old_status" db:"old_status"`
	NewStatus  Availability `json:"new_status" db:"new_status"`
	DetectedAt time.Time    `json:"detected_at" db:"detected_at"`
}

// CheckUnit is everything one diff attempt wants persisted: the updated
// listing, its check record, and the change events. The store writes the
// whole unit atomically or not at all. Listing is nil for error outcomes,
// where the stored row must stay untouched.
type CheckUnit struct {
	Listing             *Listing
	Check               CheckRecord
	PriceChanges        []PriceChangeEvent
	DescriptionChanges  []DescriptionChangeEvent
	AvailabilityChanges []AvailabilityChangeEvent
}

// EventCount is the number of change events carried by the unit.
func (u *CheckUnit) EventCount() int {
	return len(u.PriceChanges) + len(u.DescriptionChanges) + len(u.AvailabilityChanges)
}

package services

import (
	"context"
	"errors"
	"time"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

// ErrVersionConflict is returned by RecordCheck when the listing row was
// updated by someone else between the read and the write. The caller
// re-reads and retries the diff once.
var ErrVersionConflict = errors.New("listing version conflict")

// ErrListingNotFound is returned by operations that require an existing
// listing (e.g. reactivation).
var ErrListingNotFound = errors.New("listing not found")

// Store is the persistence contract the engine runs against. Implemented
// by storage.PostgresStore for production and storage.MemoryStore for
// tests and local runs.
type Store interface {
	// GetListing returns the stored listing or (nil, nil) when the id has
	// never been seen.
	GetListing(ctx context.Context, id string) (*models.Listing, error)

	// ListCandidates returns listings whose last_checked_at is NULL or
	// older than checkedBefore, never-checked first, then oldest first,
	// capped at limit.
	ListCandidates(ctx context.Context, checkedBefore time.Time, limit int) ([]models.Listing, error)

	// RecordCheck persists one diff attempt atomically: the updated
	// listing (when unit.Listing is non-nil), the check record and all
	// change events, or nothing at all. Returns ErrVersionConflict when
	// the stored row no longer carries the version the unit was built
	// against.
	RecordCheck(ctx context.Context, unit *models.CheckUnit) error

	// PriceHistory returns all price change events for a listing ordered
	// by detected_at ascending.
	PriceHistory(ctx context.Context, listingID string) ([]models.PriceChangeEvent, error)

	// PriceDrops returns price events with delta <= -minDrop detected
	// since the cutoff, ordered by delta ascending, ties broken by
	// detected_at descending.
	PriceDrops(ctx context.Context, since time.Time, minDrop int64) ([]models.PriceChangeEvent, error)

	// ChangesSummary counts events of each type detected since the cutoff.
	ChangesSummary(ctx context.Context, since time.Time) (models.ChangesSummary, error)

	// ListingsWithDrops returns listings that have at least one recorded
	// price drop, for negotiation-target ranking.
	ListingsWithDrops(ctx context.Context, limit int) ([]models.Listing, error)

	CountByAvailability(ctx context.Context) (map[models.Availability]int, error)
	CountEventsSince(ctx context.Context, since time.Time) (int, error)
	CountNeverChecked(ctx context.Context) (int, error)

	// LastPassAt is the timestamp of the most recent non-error check
	// record, nil when no pass ever completed.
	LastPassAt(ctx context.Context) (*time.Time, error)

	// ClaimNotification records a dedupe key and reports whether this
	// call was the first to claim it. At-most-once delivery per physical
	// event hangs off this.
	ClaimNotification(ctx context.Context, key string) (bool, error)
}

// SnapshotSource is the boundary to the scraping collaborator: given a set
// of listing ids it returns already-parsed snapshots plus the ids it
// expected but could not observe this pass.
type SnapshotSource interface {
	Fetch(ctx context.Context, ids []string) (*models.SnapshotBatch, error)
}

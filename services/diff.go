package services

import (
	"fmt"
	"time"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

// ValidateSnapshot rejects snapshots that cannot be diffed safely. A
// rejected snapshot becomes an error check record and must not touch the
// stored listing.
func ValidateSnapshot(snap *models.Snapshot) error {
	switch {
	case snap.ID == "":
		return fmt.Errorf("snapshot missing id")
	case snap.Title == "":
		return fmt.Errorf("snapshot %s missing title", snap.ID)
	case snap.Price <= 0:
		return fmt.Errorf("snapshot %s has invalid price %d", snap.ID, snap.Price)
	case snap.DescriptionHash == "":
		return fmt.Errorf("snapshot %s missing description fingerprint", snap.ID)
	case snap.ObservedAt.IsZero():
		return fmt.Errorf("snapshot %s missing observation time", snap.ID)
	}
	return nil
}

// Diff compares one snapshot against the stored listing (nil when the id
// has never been seen) and builds the unit to persist. It never touches
// the store itself.
//
// The first observation of an id is a baseline: it creates the listing and
// emits no change events. Applying an identical snapshot twice yields no
// events the second time; only the timestamps advance.
func Diff(stored *models.Listing, snap *models.Snapshot) (*models.CheckUnit, error) {
	if err := ValidateSnapshot(snap); err != nil {
		return nil, err
	}

	observedAt := snap.ObservedAt

	if stored == nil {
		created := &models.Listing{
			ID:              snap.ID,
			Title:           snap.Title,
			Price:           snap.Price,
			Currency:        snap.Currency,
			Mileage:         snap.Mileage,
			Year:            snap.Year,
			URL:             snap.URL,
			DescriptionHash: snap.DescriptionHash,
			Availability:    models.AvailabilityActive,
			FirstSeenAt:     observedAt,
			LastSeenAt:      observedAt,
			LastCheckedAt:   &observedAt,
		}
		return &models.CheckUnit{
			Listing: created,
			Check: models.CheckRecord{
				ListingID: snap.ID,
				Timestamp: observedAt,
				Outcome:   models.OutcomeUnchanged,
			},
		}, nil
	}

	updated := *stored
	unit := &models.CheckUnit{Listing: &updated}

	if snap.Price != stored.Price {
		unit.PriceChanges = append(unit.PriceChanges, models.PriceChangeEvent{
			ListingID:  stored.ID,
			OldPrice:   stored.Price,
			NewPrice:   snap.Price,
			Delta:      snap.Price - stored.Price,
			DetectedAt: observedAt,
		})
		updated.Price = snap.Price
	}

	if snap.DescriptionHash != stored.DescriptionHash {
		unit.DescriptionChanges = append(unit.DescriptionChanges, models.DescriptionChangeEvent{
			ListingID:      stored.ID,
			OldFingerprint: stored.DescriptionHash,
			NewFingerprint: snap.DescriptionHash,
			DetectedAt:     observedAt,
		})
		updated.DescriptionHash = snap.DescriptionHash
	}

	// Untracked fields are absorbed without events. Availability is owned
	// by the state machine, never by field comparison, so a snapshot of an
	// unavailable listing does not resurrect it here.
	updated.Title = snap.Title
	updated.Mileage = snap.Mileage
	updated.Year = snap.Year
	if snap.URL != "" {
		updated.URL = snap.URL
	}
	if snap.Currency != "" {
		updated.Currency = snap.Currency
	}
	updated.LastSeenAt = observedAt
	updated.LastCheckedAt = &observedAt

	outcome := models.OutcomeUnchanged
	if unit.EventCount() > 0 {
		outcome = models.OutcomeChanged
	}
	unit.Check = models.CheckRecord{
		ListingID: stored.ID,
		Timestamp: observedAt,
		Outcome:   outcome,
	}
	return unit, nil
}

// MissingUnit builds the unit for a known id the collaborator reported as
// missing this pass. It goes through the state machine, not field diffing:
// "unavailable" is inferred from absence, not from a snapshot field.
func MissingUnit(stored *models.Listing, at time.Time) *models.CheckUnit {
	updated := *stored
	updated.LastCheckedAt = &at

	unit := &models.CheckUnit{
		Listing: &updated,
		Check: models.CheckRecord{
			ListingID: stored.ID,
			Timestamp: at,
			Outcome:   models.OutcomeUnavailable,
		},
	}

	next, changed := Transition(stored.Availability, false)
	if changed {
		unit.AvailabilityChanges = append(unit.AvailabilityChanges, models.AvailabilityChangeEvent{
			ListingID:  stored.ID,
			OldStatus:  stored.Availability,
			NewStatus:  next,
			DetectedAt: at,
		})
		updated.Availability = next
	}
	return unit
}

// ErrorUnit builds the unit for a failed diff attempt: an error check
// record only, the listing row stays untouched for the next pass.
func ErrorUnit(listingID string, at time.Time, note string) *models.CheckUnit {
	return &models.CheckUnit{
		Check: models.CheckRecord{
			ListingID: listingID,
			Timestamp: at,
			Outcome:   models.OutcomeError,
			Note:      note,
		},
	}
}

// ReactivateUnit builds the explicit Unavailable -> Active transition. It
// is deliberately not reachable from snapshot processing; relisting is an
// operator decision.
func ReactivateUnit(stored *models.Listing, at time.Time) *models.CheckUnit {
	updated := *stored
	updated.Availability = models.AvailabilityActive
	updated.LastCheckedAt = &at

	return &models.CheckUnit{
		Listing: &updated,
		Check: models.CheckRecord{
			ListingID: stored.ID,
			Timestamp: at,
			Outcome:   models.OutcomeChanged,
			Note:      "reactivated",
		},
		AvailabilityChanges: []models.AvailabilityChangeEvent{{
			ListingID:  stored.ID,
			OldStatus:  stored.Availability,
			NewStatus:  models.AvailabilityActive,
			DetectedAt: at,
		}},
	}
}

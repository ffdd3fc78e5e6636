package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

func snapFixture(id string, price int64) *models.Snapshot {
	return &models.Snapshot{
		ID:              id,
		Title:           "Mazda 6 2.5 Touring",
		Price:           price,
		Currency:        "EUR",
		Mileage:         98000,
		Year:            2019,
		URL:             "https://cars.example/ad/" + id,
		DescriptionHash: "abc123",
		ObservedAt:      time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
}

func TestDiff_FirstObservationIsBaseline(t *testing.T) {
	snap := snapFixture("a1", 15000)

	unit, err := Diff(nil, snap)
	require.NoError(t, err)
	require.NotNil(t, unit.Listing)

	assert.Equal(t, "a1", unit.Listing.ID)
	assert.Equal(t, int64(15000), unit.Listing.Price)
	assert.Equal(t, models.AvailabilityActive, unit.Listing.Availability)
	assert.Equal(t, snap.ObservedAt, unit.Listing.FirstSeenAt)
	assert.Equal(t, snap.ObservedAt, unit.Listing.LastSeenAt)
	require.NotNil(t, unit.Listing.LastCheckedAt)

	assert.Zero(t, unit.EventCount(), "a baseline emits no change events")
	assert.Equal(t, models.OutcomeUnchanged, unit.Check.Outcome)
}

func TestDiff_PriceDropEmitsNegativeDelta(t *testing.T) {
	base, err := Diff(nil, snapFixture("a1", 15000))
	require.NoError(t, err)

	snap := snapFixture("a1", 13800)
	snap.ObservedAt = snap.ObservedAt.Add(24 * time.Hour)

	unit, err := Diff(base.Listing, snap)
	require.NoError(t, err)
	require.Len(t, unit.PriceChanges, 1)

	e := unit.PriceChanges[0]
	assert.Equal(t, int64(15000), e.OldPrice)
	assert.Equal(t, int64(13800), e.NewPrice)
	assert.Equal(t, int64(-1200), e.Delta)
	assert.Equal(t, snap.ObservedAt, e.DetectedAt)

	assert.Equal(t, int64(13800), unit.Listing.Price)
	assert.Equal(t, models.OutcomeChanged, unit.Check.Outcome)
}

func TestDiff_PriceIncreaseEmitsPositiveDelta(t *testing.T) {
	base, err := Diff(nil, snapFixture("a1", 15000))
	require.NoError(t, err)

	unit, err := Diff(base.Listing, snapFixture("a1", 15500))
	require.NoError(t, err)
	require.Len(t, unit.PriceChanges, 1)
	assert.Equal(t, int64(500), unit.PriceChanges[0].Delta)
}

func TestDiff_DescriptionFingerprintChange(t *testing.T) {
	base, err := Diff(nil, snapFixture("a1", 15000))
	require.NoError(t, err)

	snap := snapFixture("a1", 15000)
	snap.DescriptionHash = "def456"

	unit, err := Diff(base.Listing, snap)
	require.NoError(t, err)
	assert.Empty(t, unit.PriceChanges)
	require.Len(t, unit.DescriptionChanges, 1)
	assert.Equal(t, "abc123", unit.DescriptionChanges[0].OldFingerprint)
	assert.Equal(t, "def456", unit.DescriptionChanges[0].NewFingerprint)
	assert.Equal(t, models.OutcomeChanged, unit.Check.Outcome)
}

func TestDiff_IdenticalSnapshotIsIdempotent(t *testing.T) {
	snap := snapFixture("a1", 15000)
	base, err := Diff(nil, snap)
	require.NoError(t, err)

	again := snapFixture("a1", 15000)
	again.ObservedAt = snap.ObservedAt.Add(time.Hour)

	unit, err := Diff(base.Listing, again)
	require.NoError(t, err)
	assert.Zero(t, unit.EventCount())
	assert.Equal(t, models.OutcomeUnchanged, unit.Check.Outcome)
	assert.Equal(t, again.ObservedAt, unit.Listing.LastSeenAt, "timestamps still advance")
}

func TestDiff_UntrackedFieldsAbsorbedSilently(t *testing.T) {
	base, err := Diff(nil, snapFixture("a1", 15000))
	require.NoError(t, err)

	snap := snapFixture("a1", 15000)
	snap.Mileage = 99500
	snap.Title = "Mazda 6 2.5 Touring Plus"

	unit, err := Diff(base.Listing, snap)
	require.NoError(t, err)
	assert.Zero(t, unit.EventCount())
	assert.Equal(t, 99500, unit.Listing.Mileage)
	assert.Equal(t, "Mazda 6 2.5 Touring Plus", unit.Listing.Title)
}

func TestDiff_SnapshotNeverResurrectsUnavailable(t *testing.T) {
	base, err := Diff(nil, snapFixture("a1", 15000))
	require.NoError(t, err)

	gone := MissingUnit(base.Listing, time.Now())
	require.Equal(t, models.AvailabilityUnavailable, gone.Listing.Availability)

	unit, err := Diff(gone.Listing, snapFixture("a1", 14000))
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityUnavailable, unit.Listing.Availability,
		"a reappearing snapshot must not flip availability")
	assert.Empty(t, unit.AvailabilityChanges)
	require.Len(t, unit.PriceChanges, 1, "price diffing still applies")
}

func TestValidateSnapshot_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Snapshot)
	}{
		{"missing id", func(s *models.Snapshot) { s.ID = "" }},
		{"missing title", func(s *models.Snapshot) { s.Title = "" }},
		{"zero price", func(s *models.Snapshot) { s.Price = 0 }},
		{"negative price", func(s *models.Snapshot) { s.Price = -100 }},
		{"missing fingerprint", func(s *models.Snapshot) { s.DescriptionHash = "" }},
		{"zero observed_at", func(s *models.Snapshot) { s.ObservedAt = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := snapFixture("a1", 15000)
			tc.mutate(snap)
			_, err := Diff(nil, snap)
			assert.Error(t, err)
		})
	}
}

func TestMissingUnit_ActiveGoesUnavailable(t *testing.T) {
	base, err := Diff(nil, snapFixture("a1", 15000))
	require.NoError(t, err)

	at := time.Now()
	unit := MissingUnit(base.Listing, at)

	assert.Equal(t, models.AvailabilityUnavailable, unit.Listing.Availability)
	assert.Equal(t, models.OutcomeUnavailable, unit.Check.Outcome)
	require.Len(t, unit.AvailabilityChanges, 1)
	assert.Equal(t, models.AvailabilityActive, unit.AvailabilityChanges[0].OldStatus)
	assert.Equal(t, models.AvailabilityUnavailable, unit.AvailabilityChanges[0].NewStatus)
}

func TestMissingUnit_AlreadyUnavailableEmitsNothing(t *testing.T) {
	base, err := Diff(nil, snapFixture("a1", 15000))
	require.NoError(t, err)
	gone := MissingUnit(base.Listing, time.Now())

	again := MissingUnit(gone.Listing, time.Now())
	assert.Empty(t, again.AvailabilityChanges)
	assert.Equal(t, models.AvailabilityUnavailable, again.Listing.Availability)
	assert.Equal(t, models.OutcomeUnavailable, again.Check.Outcome)
}

func TestErrorUnit_LeavesListingUntouched(t *testing.T) {
	unit := ErrorUnit("a1", time.Now(), "snapshot missing title")
	assert.Nil(t, unit.Listing)
	assert.Equal(t, models.OutcomeError, unit.Check.Outcome)
	assert.Equal(t, "snapshot missing title", unit.Check.Note)
}

func TestReactivateUnit_FlipsBackToActive(t *testing.T) {
	base, err := Diff(nil, snapFixture("a1", 15000))
	require.NoError(t, err)
	gone := MissingUnit(base.Listing, time.Now())

	unit := ReactivateUnit(gone.Listing, time.Now())
	assert.Equal(t, models.AvailabilityActive, unit.Listing.Availability)
	require.Len(t, unit.AvailabilityChanges, 1)
	assert.Equal(t, models.AvailabilityUnavailable, unit.AvailabilityChanges[0].OldStatus)
	assert.Equal(t, models.AvailabilityActive, unit.AvailabilityChanges[0].NewStatus)
}

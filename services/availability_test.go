package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Bezludnev/parsingCarAvalible/models"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		name     string
		current  models.Availability
		observed bool
		want     models.Availability
		changed  bool
	}{
		{"unknown observed", models.AvailabilityUnknown, true, models.AvailabilityActive, true},
		{"unknown missing", models.AvailabilityUnknown, false, models.AvailabilityUnknown, false},
		{"active observed", models.AvailabilityActive, true, models.AvailabilityActive, false},
		{"active missing", models.AvailabilityActive, false, models.AvailabilityUnavailable, true},
		{"unavailable observed", models.AvailabilityUnavailable, true, models.AvailabilityUnavailable, false},
		{"unavailable missing", models.AvailabilityUnavailable, false, models.AvailabilityUnavailable, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, changed := Transition(tc.current, tc.observed)
			assert.Equal(t, tc.want, next)
			assert.Equal(t, tc.changed, changed)
		})
	}
}

// Unavailable is terminal for observations: no sequence of passes can
// leave it, only the explicit reactivation path can.
func TestTransition_UnavailableIsTerminal(t *testing.T) {
	state := models.AvailabilityUnavailable
	for _, observed := range []bool{true, false, true, true, false} {
		next, changed := Transition(state, observed)
		assert.Equal(t, models.AvailabilityUnavailable, next)
		assert.False(t, changed)
		state = next
	}
}

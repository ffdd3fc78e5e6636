package services

import "github.com/Bezludnev/parsingCarAvalible/models"

// Transition applies the availability state machine to one observation
// outcome and returns the next state plus whether it differs.
//
//	Unknown     -> Active       on first successful observation
//	Active      -> Active       on repeated observation
//	Active      -> Unavailable  when a known id goes missing from a pass
//	Unavailable -> Unavailable  always; a reappearing snapshot does not
//	                            resurrect a listing (see Reactivate)
//
// Transient errors never reach this function; an error outcome leaves the
// stored state untouched.
func Transition(current models.Availability, observed bool) (models.Availability, bool) {
	switch current {
	case models.AvailabilityUnknown:
		if observed {
			return models.AvailabilityActive, true
		}
		return models.AvailabilityUnknown, false
	case models.AvailabilityActive:
		if observed {
			return models.AvailabilityActive, false
		}
		return models.AvailabilityUnavailable, true
	case models.AvailabilityUnavailable:
		return models.AvailabilityUnavailable, false
	}
	return current, false
}

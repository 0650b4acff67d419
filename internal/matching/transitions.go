// Package matching implements the offer state machine and the three
// workers (Dispatch, Expiry, Cleanup) that drive it, plus the
// synchronous driver action handler. Pure transition logic is kept
// separate from the Ride Store/Notification Bus plumbing so it can be
// tested without a database, grounded on original_source's
// matching_engine.py translated into Go's explicit-error idiom.
package matching

import (
	"errors"
	"time"

	"ridehail/internal/domain"
)

// Failure kinds surfaced to the Driver Action Handler and Request
// Intake, per spec.md §7.
var (
	ErrNotFound        = errors.New("ride not found")
	ErrInvalidState    = errors.New("ride is not in the expected state")
	ErrNotOfferedToYou = errors.New("ride is not offered to this driver")
	ErrExpired         = errors.New("offer has expired")
	ErrTerminal        = errors.New("ride is already in a terminal state")
)

// ApplyOffer transitions a requested ride into offering, addressed to
// driverID, with a fresh offer_attempts/expiry window. Callers must
// have already re-verified driver eligibility under lock.
func ApplyOffer(ride *domain.Ride, driverID int64, now time.Time, offerTimeout time.Duration) error {
	if ride.Status != domain.StatusRequested {
		return ErrInvalidState
	}
	expiresAt := now.Add(offerTimeout)
	ride.Status = domain.StatusOffering
	ride.OfferedToDriverID = &driverID
	ride.OfferedAt = &now
	ride.ExpiresAt = &expiresAt
	ride.OfferAttempts++
	return nil
}

// ApplyAccept transitions an offering ride to accepted for driverID.
func ApplyAccept(ride *domain.Ride, driverID int64, now time.Time) error {
	if ride.Status != domain.StatusOffering {
		return ErrInvalidState
	}
	if ride.OfferedToDriverID == nil || *ride.OfferedToDriverID != driverID {
		return ErrNotOfferedToYou
	}
	if ride.ExpiresAt != nil && now.After(*ride.ExpiresAt) {
		return ErrExpired
	}
	ride.Status = domain.StatusAccepted
	ride.DriverID = &driverID
	clearOfferFields(ride)
	return nil
}

// ApplyDecline transitions an offering ride back to requested,
// recording driverID in declined_driver_ids. The expiry check is
// waived: an explicit late decline is still honored. The caller is
// responsible for running the exhaustion check afterward and calling
// ApplyExhaustionCancel if no eligible drivers remain.
func ApplyDecline(ride *domain.Ride, driverID int64) error {
	if ride.Status != domain.StatusOffering {
		return ErrInvalidState
	}
	if ride.OfferedToDriverID == nil || *ride.OfferedToDriverID != driverID {
		return ErrNotOfferedToYou
	}
	ride.DeclinedDriverIDs = ride.WithDeclined(driverID)
	ride.Status = domain.StatusRequested
	clearOfferFields(ride)
	return nil
}

// ApplyExpiry is the worker-driven equivalent of ApplyDecline: the
// offered driver is auto-declined because expires_at has passed.
func ApplyExpiry(ride *domain.Ride) (driverID int64, err error) {
	if ride.Status != domain.StatusOffering {
		return 0, ErrInvalidState
	}
	if ride.OfferedToDriverID == nil {
		return 0, ErrInvalidState
	}
	driverID = *ride.OfferedToDriverID
	ride.DeclinedDriverIDs = ride.WithDeclined(driverID)
	ride.Status = domain.StatusRequested
	clearOfferFields(ride)
	return driverID, nil
}

// ApplyExhaustionCancel terminally cancels a requested ride because no
// eligible drivers remain, per spec.md §4.6/§4.8.
func ApplyExhaustionCancel(ride *domain.Ride, now time.Time) error {
	if ride.Status != domain.StatusRequested {
		return ErrInvalidState
	}
	reason := domain.CancelNoDriversAvailable
	ride.Status = domain.StatusCancelled
	ride.CancelledAt = &now
	ride.CancelReason = &reason
	return nil
}

// ApplyStaleCancel terminally cancels a requested ride whose age
// exceeds STALE_THRESHOLD, per spec.md §4.7.
func ApplyStaleCancel(ride *domain.Ride, now time.Time) error {
	if ride.Status != domain.StatusRequested {
		return ErrInvalidState
	}
	reason := domain.CancelRequestTimeout
	ride.Status = domain.StatusCancelled
	ride.CancelledAt = &now
	ride.CancelReason = &reason
	return nil
}

// ApplyRiderCancel cancels a ride at the rider's request. Permitted
// from requested, offering, accepted; rejected otherwise.
func ApplyRiderCancel(ride *domain.Ride, now time.Time) (freedDriverID *int64, err error) {
	switch ride.Status {
	case domain.StatusRequested, domain.StatusOffering, domain.StatusAccepted:
	default:
		return nil, ErrInvalidState
	}
	if ride.Status == domain.StatusAccepted {
		freedDriverID = ride.DriverID
	}
	reason := domain.CancelByRider
	ride.Status = domain.StatusCancelled
	ride.CancelledAt = &now
	ride.CancelReason = &reason
	clearOfferFields(ride)
	return freedDriverID, nil
}

// ApplyStart transitions an accepted ride to in_progress.
func ApplyStart(ride *domain.Ride) error {
	if ride.Status != domain.StatusAccepted {
		return ErrInvalidState
	}
	ride.Status = domain.StatusInProgress
	return nil
}

// ApplyComplete transitions an accepted or in_progress ride to
// completed, recording fare.
func ApplyComplete(ride *domain.Ride, fare *float64, now time.Time) error {
	if ride.Status != domain.StatusAccepted && ride.Status != domain.StatusInProgress {
		return ErrInvalidState
	}
	ride.Status = domain.StatusCompleted
	ride.CompletedAt = &now
	ride.Fare = fare
	return nil
}

func clearOfferFields(ride *domain.Ride) {
	ride.OfferedToDriverID = nil
	ride.OfferedAt = nil
	ride.ExpiresAt = nil
}

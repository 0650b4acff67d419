package matching

import (
	"context"
	"time"

	"ridehail/internal/domain"
)

// Accept implements spec.md §4.8: the offered driver confirms the
// ride. Preconditions are checked under the ride's row lock so a
// concurrent expiry is linearised against it.
func (e *Engine) Accept(ctx context.Context, rideID, driverID int64) (*domain.Ride, error) {
	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ride, err := e.Store.LockedGetRide(ctx, tx, rideID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := ApplyAccept(ride, driverID, now); err != nil {
		return nil, err
	}

	driver, err := e.Store.LockedGetUser(ctx, tx, driverID)
	if err != nil {
		return nil, err
	}
	driver.Availability = false

	if err := e.Store.SaveRide(ctx, tx, ride); err != nil {
		return nil, err
	}
	if err := e.Store.SaveUser(ctx, tx, driver); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	e.Bus.Deliver(ride.RiderID, domain.MsgDriverAssigned, domain.DriverAssignedPayload{
		RideID:        ride.ID,
		DriverID:      driver.ID,
		DriverName:    driver.Username,
		DriverVehicle: stringOrEmpty(driver.Vehicle),
		DriverRating:  driver.Rating,
	})
	e.recordEvent(ctx, ride.ID, "ride_accepted", map[string]any{"driver_id": driver.ID})
	return ride, nil
}

// Decline implements spec.md §4.8: the offered driver rejects the
// ride. The same exhaustion check as the Expiry Worker runs
// afterward, cancelling terminally if no eligible drivers remain.
func (e *Engine) Decline(ctx context.Context, rideID, driverID int64) (*domain.Ride, error) {
	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ride, err := e.Store.LockedGetRide(ctx, tx, rideID)
	if err != nil {
		return nil, err
	}
	if err := ApplyDecline(ride, driverID); err != nil {
		return nil, err
	}

	eligible, err := e.Store.EligibleDrivers(ctx, tx, ride.DeclinedDriverIDs)
	if err != nil {
		return nil, err
	}
	cancelled := false
	now := time.Now()
	if len(eligible) == 0 {
		if err := ApplyExhaustionCancel(ride, now); err != nil {
			return nil, err
		}
		cancelled = true
	}

	if err := e.Store.SaveRide(ctx, tx, ride); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	e.recordEvent(ctx, ride.ID, "ride_declined", map[string]any{"driver_id": driverID})
	if cancelled {
		e.Bus.Deliver(ride.RiderID, domain.MsgRideCancelled, domain.RideCancelledPayload{
			RideID:  ride.ID,
			Reason:  domain.CancelNoDriversAvailable,
			Message: "no drivers are currently available for this ride",
		})
		e.recordEvent(ctx, ride.ID, "ride_cancelled", map[string]any{"reason": domain.CancelNoDriversAvailable})
	}
	return ride, nil
}

// CancelByRider implements the rider-cancellation endpoint of spec.md
// §5: permitted in requested/offering/accepted, restoring the
// driver's availability if one was assigned.
func (e *Engine) CancelByRider(ctx context.Context, rideID int64) (*domain.Ride, error) {
	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ride, err := e.Store.LockedGetRide(ctx, tx, rideID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	freedDriverID, err := ApplyRiderCancel(ride, now)
	if err != nil {
		return nil, err
	}
	if err := e.Store.SaveRide(ctx, tx, ride); err != nil {
		return nil, err
	}
	if freedDriverID != nil {
		driver, err := e.Store.LockedGetUser(ctx, tx, *freedDriverID)
		if err != nil {
			return nil, err
		}
		driver.Availability = true
		if err := e.Store.SaveUser(ctx, tx, driver); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.recordEvent(ctx, ride.ID, "ride_cancelled", map[string]any{"reason": domain.CancelByRider})
	return ride, nil
}

// Start implements the ride-start endpoint: accepted -> in_progress.
func (e *Engine) Start(ctx context.Context, rideID int64) (*domain.Ride, error) {
	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ride, err := e.Store.LockedGetRide(ctx, tx, rideID)
	if err != nil {
		return nil, err
	}
	if err := ApplyStart(ride); err != nil {
		return nil, err
	}
	if err := e.Store.SaveRide(ctx, tx, ride); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.recordEvent(ctx, ride.ID, "ride_started", nil)
	return ride, nil
}

// Complete implements the ride-complete endpoint: accepted/in_progress
// -> completed, restoring the assigned driver's availability.
func (e *Engine) Complete(ctx context.Context, rideID int64, fare *float64) (*domain.Ride, error) {
	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ride, err := e.Store.LockedGetRide(ctx, tx, rideID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if err := ApplyComplete(ride, fare, now); err != nil {
		return nil, err
	}
	if err := e.Store.SaveRide(ctx, tx, ride); err != nil {
		return nil, err
	}
	if ride.DriverID != nil {
		driver, err := e.Store.LockedGetUser(ctx, tx, *ride.DriverID)
		if err != nil {
			return nil, err
		}
		driver.Availability = true
		if err := e.Store.SaveUser(ctx, tx, driver); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.recordEvent(ctx, ride.ID, "ride_completed", map[string]any{"fare": ride.Fare})
	return ride, nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

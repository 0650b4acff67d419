package matching

import (
	"context"
	"errors"
	"time"

	"ridehail/internal/domain"
)

// Request Intake validation failures, per spec.md §4.9.
var (
	ErrDriverCannotRequest = errors.New("drivers cannot request rides")
	ErrActiveRideExists    = errors.New("rider already has a non-terminal ride")
	ErrBadCoordinates      = errors.New("pickup coordinates are missing or out of range")
)

// RequestRide implements spec.md §4.9: validates the rider and
// coordinates, updates the rider's location to the pickup point, and
// inserts the ride in requested status with zero offer_attempts.
func (e *Engine) RequestRide(ctx context.Context, riderID int64, startLocation, endLocation string, pickupLat, pickupLng float64, dest *domain.Coordinate) (*domain.Ride, error) {
	if pickupLat < -90 || pickupLat > 90 || pickupLng < -180 || pickupLng > 180 {
		return nil, ErrBadCoordinates
	}

	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rider, err := e.Store.LockedGetUser(ctx, tx, riderID)
	if err != nil {
		return nil, err
	}
	if rider.IsDriver {
		return nil, ErrDriverCannotRequest
	}

	hasActive, err := e.Store.RiderHasActiveRide(ctx, tx, riderID)
	if err != nil {
		return nil, err
	}
	if hasActive {
		return nil, ErrActiveRideExists
	}

	pickup := domain.Coordinate{Latitude: pickupLat, Longitude: pickupLng}
	rider.Location = &pickup
	if err := e.Store.SaveUser(ctx, tx, rider); err != nil {
		return nil, err
	}

	ride := &domain.Ride{
		RiderID:       riderID,
		StartLocation: startLocation,
		EndLocation:   endLocation,
		StartPoint:    &pickup,
		EndPoint:      dest,
		Status:        domain.StatusRequested,
		CreatedAt:     time.Now(),
	}
	if err := e.Store.InsertRide(ctx, tx, ride); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	e.recordEvent(ctx, ride.ID, "ride_requested", map[string]any{"rider_id": riderID})
	return ride, nil
}

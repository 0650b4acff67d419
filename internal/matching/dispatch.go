package matching

import (
	"context"
	"log"
	"time"

	"ridehail/internal/domain"
	"ridehail/internal/geo"
	"ridehail/internal/notify"
	"ridehail/internal/ridestore"
)

// EventRecorder appends a best-effort audit trail entry for a ride
// lifecycle transition. Implementations must never block the caller on
// failure; a nil Engine.Events disables auditing entirely (e.g. the
// in-memory store used by tests and by dispatchd without DATABASE_URL).
type EventRecorder interface {
	RecordEvent(ctx context.Context, rideID int64, event string, detail any)
}

// Engine wires the Ride Store, Geo Selector, and Notification Bus
// together and owns the three background workers plus the driver
// action handler, grounded on original_source's MatchingEngine class
// generalized into explicitly-constructed Go values (spec.md §9).
type Engine struct {
	Store   ridestore.Store
	Locator geo.Locator
	Bus     *notify.Bus
	Events  EventRecorder

	OfferTimeout      time.Duration
	DispatchInterval  time.Duration
	ExpiryInterval    time.Duration
	CleanupInterval   time.Duration
	StaleThreshold    time.Duration
	BaseRadiusKM      float64
	RadiusIncrementKM float64
}

func (e *Engine) recordEvent(ctx context.Context, rideID int64, event string, detail any) {
	if e.Events != nil {
		e.Events.RecordEvent(ctx, rideID, event, detail)
	}
}

// Run starts the Dispatch, Expiry, and Cleanup workers and blocks until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	go e.runDispatchLoop(ctx)
	go e.runExpiryLoop(ctx)
	go e.runCleanupLoop(ctx)
	<-ctx.Done()
}

func (e *Engine) runDispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(e.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.dispatchTick(ctx); err != nil {
				log.Printf("matching: dispatch tick failed: %v", err)
			}
		}
	}
}

// dispatchTick implements spec.md §4.5: pick the oldest unoffered
// requested ride, select a driver, transition to offering, and notify.
func (e *Engine) dispatchTick(ctx context.Context) error {
	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ride, err := e.Store.FindOldestUnofferedRequested(ctx, tx)
	if err == ridestore.ErrNotFound {
		return tx.Commit(ctx)
	}
	if err != nil {
		return err
	}

	if ride.StartPoint == nil {
		return tx.Commit(ctx)
	}

	radius := geo.AdaptiveRadius(e.BaseRadiusKM, e.RadiusIncrementKM, ride.OfferAttempts)
	candidates, err := e.Locator.Nearby(ride.StartPoint.Latitude, ride.StartPoint.Longitude, radius)
	if err != nil {
		return err
	}

	driver, err := e.pickEligibleDriver(ctx, tx, ride, candidates)
	if err != nil {
		return err
	}
	if driver == nil {
		// No driver available this tick: ride stays at the head of
		// FIFO, offer_attempts does not advance, radius does not grow
		// spuriously, per spec.md §4.5 step 5.
		return tx.Commit(ctx)
	}

	now := time.Now()
	if err := ApplyOffer(ride, driver.ID, now, e.OfferTimeout); err != nil {
		return err
	}
	if err := e.Store.SaveRide(ctx, tx, ride); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	payload := domain.RideOfferPayload{
		RideID:        ride.ID,
		RiderID:       ride.RiderID,
		StartLocation: ride.StartLocation,
		EndLocation:   ride.EndLocation,
		Fare:          ride.Fare,
	}
	if ride.StartPoint != nil {
		payload.StartLat, payload.StartLng = ride.StartPoint.Latitude, ride.StartPoint.Longitude
	}
	if ride.EndPoint != nil {
		payload.EndLat, payload.EndLng = ride.EndPoint.Latitude, ride.EndPoint.Longitude
	}
	if ride.ExpiresAt != nil {
		payload.ExpiresAt = ride.ExpiresAt.Unix()
	}
	e.Bus.Deliver(driver.ID, domain.MsgRideOfferReceived, payload)
	e.recordEvent(ctx, ride.ID, "ride_offered", map[string]any{"driver_id": driver.ID, "attempt": ride.OfferAttempts})
	return nil
}

// pickEligibleDriver re-verifies each geo candidate, nearest first,
// against the transactional snapshot's eligibility and exclusion rules
// (declined, busy-with-live-offer, availability), returning the first
// one that still qualifies under lock.
func (e *Engine) pickEligibleDriver(ctx context.Context, tx ridestore.Tx, ride *domain.Ride, candidates []geo.Candidate) (*domain.User, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	eligible, err := e.Store.EligibleDrivers(ctx, tx, ride.DeclinedDriverIDs)
	if err != nil {
		return nil, err
	}
	eligibleSet := make(map[int64]domain.User, len(eligible))
	for _, u := range eligible {
		eligibleSet[u.ID] = u
	}
	for _, c := range candidates {
		if _, ok := eligibleSet[c.DriverID]; !ok {
			continue
		}
		driver, err := e.Store.LockedGetUser(ctx, tx, c.DriverID)
		if err != nil {
			return nil, err
		}
		if driver.IsEligible() {
			return driver, nil
		}
	}
	return nil, nil
}

package matching

import (
	"context"
	"testing"
	"time"

	"ridehail/internal/domain"
	"ridehail/internal/geo"
	"ridehail/internal/notify"
	"ridehail/internal/ridestore"
)

type fakeSession struct {
	messages []domain.Envelope
}

func (f *fakeSession) WriteJSON(v any) error {
	env, _ := v.(domain.Envelope)
	f.messages = append(f.messages, env)
	return nil
}

func (f *fakeSession) Close() error { return nil }

func newTestEngine(t *testing.T) (*Engine, *ridestore.MemoryStore, *geo.InMemoryLocator, *notify.Bus) {
	t.Helper()
	store := ridestore.NewMemoryStore()
	locator := geo.NewInMemoryLocator()
	bus := notify.NewBus()
	engine := &Engine{
		Store:             store,
		Locator:           locator,
		Bus:               bus,
		OfferTimeout:      20 * time.Second,
		DispatchInterval:  time.Second,
		ExpiryInterval:    2 * time.Second,
		CleanupInterval:   60 * time.Second,
		StaleThreshold:    10 * time.Minute,
		BaseRadiusKM:      10,
		RadiusIncrementKM: 5,
	}
	return engine, store, locator, bus
}

func seedDriver(store *ridestore.MemoryStore, locator *geo.InMemoryLocator, id int64, lat, lng float64) {
	store.PutUser(&domain.User{ID: id, Username: "driver", IsDriver: true, Availability: true,
		Location: &domain.Coordinate{Latitude: lat, Longitude: lng}})
	_ = locator.Add(id, lat, lng)
}

func seedRider(store *ridestore.MemoryStore, id int64) {
	store.PutUser(&domain.User{ID: id, Username: "rider"})
}

// Scenario 1: happy path (spec.md §8 scenario 1).
func TestScenarioHappyPath(t *testing.T) {
	engine, store, locator, bus := newTestEngine(t)
	ctx := context.Background()

	seedRider(store, 1)
	seedDriver(store, locator, 2, 37.78, -122.41)

	riderSession := &fakeSession{}
	driverSession := &fakeSession{}
	bus.Attach(1, riderSession)
	bus.Attach(2, driverSession)

	ride, err := engine.RequestRide(ctx, 1, "A", "B", 37.78, -122.41, &domain.Coordinate{Latitude: 37.79, Longitude: -122.40})
	if err != nil {
		t.Fatalf("RequestRide: %v", err)
	}

	if err := engine.dispatchTick(ctx); err != nil {
		t.Fatalf("dispatchTick: %v", err)
	}

	got, _ := store.GetRide(ctx, ride.ID)
	if got.Status != domain.StatusOffering || got.OfferedToDriverID == nil || *got.OfferedToDriverID != 2 {
		t.Fatalf("ride after dispatch = %+v, want offering to driver 2", got)
	}
	if len(driverSession.messages) != 1 || driverSession.messages[0].Type != domain.MsgRideOfferReceived {
		t.Fatalf("driver messages = %+v, want one ride_offer_received", driverSession.messages)
	}

	accepted, err := engine.Accept(ctx, ride.ID, 2)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.Status != domain.StatusAccepted {
		t.Errorf("status = %v, want accepted", accepted.Status)
	}
	driver, _ := store.GetUser(ctx, 2)
	if driver.Availability {
		t.Error("driver should no longer be available")
	}
	if len(riderSession.messages) != 1 || riderSession.messages[0].Type != domain.MsgDriverAssigned {
		t.Fatalf("rider messages = %+v, want one driver_assigned", riderSession.messages)
	}
}

// Scenario 2: decline cascade — D2 has the higher id and is offered
// next, D1 is never re-offered (spec.md §8 scenario 2).
func TestScenarioDeclineCascade(t *testing.T) {
	engine, store, locator, _ := newTestEngine(t)
	ctx := context.Background()

	seedRider(store, 1)
	seedDriver(store, locator, 10, 37.78, -122.41)
	seedDriver(store, locator, 11, 37.78, -122.41)

	ride, err := engine.RequestRide(ctx, 1, "A", "B", 37.78, -122.41, nil)
	if err != nil {
		t.Fatalf("RequestRide: %v", err)
	}
	if err := engine.dispatchTick(ctx); err != nil {
		t.Fatalf("dispatchTick: %v", err)
	}
	got, _ := store.GetRide(ctx, ride.ID)
	if got.OfferedToDriverID == nil || *got.OfferedToDriverID != 10 {
		t.Fatalf("first offer went to %v, want driver 10 (lower id tie-break)", got.OfferedToDriverID)
	}

	if _, err := engine.Decline(ctx, ride.ID, 10); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if err := engine.dispatchTick(ctx); err != nil {
		t.Fatalf("dispatchTick: %v", err)
	}
	got, _ = store.GetRide(ctx, ride.ID)
	if got.OfferedToDriverID == nil || *got.OfferedToDriverID != 11 {
		t.Fatalf("second offer went to %v, want driver 11", got.OfferedToDriverID)
	}

	if _, err := engine.Accept(ctx, ride.ID, 11); err != nil {
		t.Fatalf("Accept by driver 11: %v", err)
	}
}

// Scenario 3: timeout is equivalent to a decline; with no other driver
// available the ride is cancelled for exhaustion (spec.md §8 scenario 3).
func TestScenarioTimeoutEqualsDecline(t *testing.T) {
	engine, store, locator, bus := newTestEngine(t)
	ctx := context.Background()

	seedRider(store, 1)
	seedDriver(store, locator, 2, 37.78, -122.41)

	riderSession := &fakeSession{}
	bus.Attach(1, riderSession)

	ride, err := engine.RequestRide(ctx, 1, "A", "B", 37.78, -122.41, nil)
	if err != nil {
		t.Fatalf("RequestRide: %v", err)
	}
	if err := engine.dispatchTick(ctx); err != nil {
		t.Fatalf("dispatchTick: %v", err)
	}

	// Force the offer into the past so it reads as expired.
	tx, _ := store.BeginTx(ctx)
	got, _ := store.LockedGetRide(ctx, tx, ride.ID)
	past := time.Now().Add(-time.Second)
	got.ExpiresAt = &past
	if err := store.SaveRide(ctx, tx, got); err != nil {
		t.Fatalf("SaveRide: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := engine.expiryTick(ctx); err != nil {
		t.Fatalf("expiryTick: %v", err)
	}

	final, _ := store.GetRide(ctx, ride.ID)
	if final.Status != domain.StatusCancelled {
		t.Fatalf("status = %v, want cancelled (no other drivers)", final.Status)
	}
	if !final.HasDeclined(2) {
		t.Error("declined_driver_ids should contain the timed-out driver")
	}
	if final.CancelReason == nil || *final.CancelReason != domain.CancelNoDriversAvailable {
		t.Errorf("cancel_reason = %v, want no_drivers_available", final.CancelReason)
	}
	found := false
	for _, m := range riderSession.messages {
		if m.Type == domain.MsgRideCancelled {
			found = true
		}
	}
	if !found {
		t.Error("rider should have received ride_cancelled")
	}
}

// Scenario 4: FIFO — with a single driver, the earlier ride is offered
// first (spec.md §8 scenario 4).
func TestScenarioFIFO(t *testing.T) {
	engine, store, locator, _ := newTestEngine(t)
	ctx := context.Background()

	seedRider(store, 1)
	seedRider(store, 2)
	seedDriver(store, locator, 5, 37.78, -122.41)

	r1, err := engine.RequestRide(ctx, 1, "A", "B", 37.78, -122.41, nil)
	if err != nil {
		t.Fatalf("RequestRide r1: %v", err)
	}
	r2, err := engine.RequestRide(ctx, 2, "A", "B", 37.78, -122.41, nil)
	if err != nil {
		t.Fatalf("RequestRide r2: %v", err)
	}

	if err := engine.dispatchTick(ctx); err != nil {
		t.Fatalf("dispatchTick: %v", err)
	}

	got1, _ := store.GetRide(ctx, r1.ID)
	got2, _ := store.GetRide(ctx, r2.ID)
	if got1.Status != domain.StatusOffering {
		t.Errorf("ride1 status = %v, want offering", got1.Status)
	}
	if got2.Status != domain.StatusRequested {
		t.Errorf("ride2 status = %v, want still requested", got2.Status)
	}
}

// Scenario 5: rider cancels during offering; the driver's later accept
// fails with a state conflict and the driver remains available
// (spec.md §8 scenario 5).
func TestScenarioRiderCancelDuringOffering(t *testing.T) {
	engine, store, locator, _ := newTestEngine(t)
	ctx := context.Background()

	seedRider(store, 1)
	seedDriver(store, locator, 2, 37.78, -122.41)

	ride, err := engine.RequestRide(ctx, 1, "A", "B", 37.78, -122.41, nil)
	if err != nil {
		t.Fatalf("RequestRide: %v", err)
	}
	if err := engine.dispatchTick(ctx); err != nil {
		t.Fatalf("dispatchTick: %v", err)
	}

	if _, err := engine.CancelByRider(ctx, ride.ID); err != nil {
		t.Fatalf("CancelByRider: %v", err)
	}

	if _, err := engine.Accept(ctx, ride.ID, 2); err != ErrInvalidState {
		t.Errorf("late accept err = %v, want ErrInvalidState", err)
	}

	driver, _ := store.GetUser(ctx, 2)
	if !driver.Availability {
		t.Error("driver should remain available after rider cancellation")
	}
}

// Scenario 6: duplicate request rejection — a rider with an accepted
// ride cannot submit another request (spec.md §8 scenario 6).
func TestScenarioDuplicateRequestRejected(t *testing.T) {
	engine, store, locator, _ := newTestEngine(t)
	ctx := context.Background()

	seedRider(store, 1)
	seedDriver(store, locator, 2, 37.78, -122.41)

	ride, err := engine.RequestRide(ctx, 1, "A", "B", 37.78, -122.41, nil)
	if err != nil {
		t.Fatalf("RequestRide: %v", err)
	}
	if err := engine.dispatchTick(ctx); err != nil {
		t.Fatalf("dispatchTick: %v", err)
	}
	if _, err := engine.Accept(ctx, ride.ID, 2); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if _, err := engine.RequestRide(ctx, 1, "C", "D", 37.78, -122.41, nil); err != ErrActiveRideExists {
		t.Errorf("second RequestRide err = %v, want ErrActiveRideExists", err)
	}
}

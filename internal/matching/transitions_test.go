package matching

import (
	"testing"
	"time"

	"ridehail/internal/domain"
)

func TestApplyOfferSetsFieldsAndIncrementsAttempts(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusRequested}
	now := time.Now()
	if err := ApplyOffer(ride, 7, now, 20*time.Second); err != nil {
		t.Fatalf("ApplyOffer: %v", err)
	}
	if ride.Status != domain.StatusOffering {
		t.Errorf("status = %v, want offering", ride.Status)
	}
	if ride.OfferedToDriverID == nil || *ride.OfferedToDriverID != 7 {
		t.Errorf("offered_to_driver_id = %v, want 7", ride.OfferedToDriverID)
	}
	if ride.OfferAttempts != 1 {
		t.Errorf("offer_attempts = %d, want 1", ride.OfferAttempts)
	}
	if ride.ExpiresAt == nil || !ride.ExpiresAt.Equal(ride.OfferedAt.Add(20*time.Second)) {
		t.Errorf("expires_at does not equal offered_at + timeout")
	}
}

func TestApplyOfferRejectsNonRequested(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusOffering}
	if err := ApplyOffer(ride, 1, time.Now(), time.Second); err != ErrInvalidState {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestApplyAcceptHappyPath(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusRequested}
	now := time.Now()
	_ = ApplyOffer(ride, 5, now, 20*time.Second)
	if err := ApplyAccept(ride, 5, now.Add(time.Second)); err != nil {
		t.Fatalf("ApplyAccept: %v", err)
	}
	if ride.Status != domain.StatusAccepted {
		t.Errorf("status = %v, want accepted", ride.Status)
	}
	if ride.DriverID == nil || *ride.DriverID != 5 {
		t.Errorf("driver_id = %v, want 5", ride.DriverID)
	}
	if ride.OfferedToDriverID != nil || ride.OfferedAt != nil || ride.ExpiresAt != nil {
		t.Error("offer fields should be cleared after accept")
	}
}

func TestApplyAcceptWrongDriver(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusRequested}
	now := time.Now()
	_ = ApplyOffer(ride, 5, now, 20*time.Second)
	if err := ApplyAccept(ride, 9, now); err != ErrNotOfferedToYou {
		t.Errorf("err = %v, want ErrNotOfferedToYou", err)
	}
}

func TestApplyAcceptAfterExpiry(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusRequested}
	now := time.Now()
	_ = ApplyOffer(ride, 5, now, 20*time.Second)
	if err := ApplyAccept(ride, 5, now.Add(21*time.Second)); err != ErrExpired {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestApplyDeclineAppendsToDeclinedAndResetsToRequested(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusRequested}
	now := time.Now()
	_ = ApplyOffer(ride, 5, now, 20*time.Second)
	if err := ApplyDecline(ride, 5); err != nil {
		t.Fatalf("ApplyDecline: %v", err)
	}
	if ride.Status != domain.StatusRequested {
		t.Errorf("status = %v, want requested", ride.Status)
	}
	if !ride.HasDeclined(5) {
		t.Error("declined_driver_ids should contain 5")
	}
	if ride.OfferedToDriverID != nil {
		t.Error("offered_to_driver_id should be cleared")
	}
}

func TestApplyDeclineSecondTimeIsStateConflict(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusRequested}
	now := time.Now()
	_ = ApplyOffer(ride, 5, now, 20*time.Second)
	_ = ApplyDecline(ride, 5)
	if err := ApplyDecline(ride, 5); err != ErrInvalidState {
		t.Errorf("second decline err = %v, want ErrInvalidState", err)
	}
}

func TestApplyExpiryIsEquivalentToDecline(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusRequested}
	now := time.Now()
	_ = ApplyOffer(ride, 5, now, 20*time.Second)
	driverID, err := ApplyExpiry(ride)
	if err != nil {
		t.Fatalf("ApplyExpiry: %v", err)
	}
	if driverID != 5 {
		t.Errorf("expired driver = %d, want 5", driverID)
	}
	if !ride.HasDeclined(5) || ride.Status != domain.StatusRequested {
		t.Error("expiry did not behave like a decline")
	}
}

func TestApplyExhaustionCancel(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusRequested}
	now := time.Now()
	if err := ApplyExhaustionCancel(ride, now); err != nil {
		t.Fatalf("ApplyExhaustionCancel: %v", err)
	}
	if ride.Status != domain.StatusCancelled {
		t.Errorf("status = %v, want cancelled", ride.Status)
	}
	if ride.CancelReason == nil || *ride.CancelReason != domain.CancelNoDriversAvailable {
		t.Errorf("cancel_reason = %v, want no_drivers_available", ride.CancelReason)
	}
}

func TestApplyRiderCancelFreesAssignedDriver(t *testing.T) {
	driverID := int64(5)
	ride := &domain.Ride{Status: domain.StatusAccepted, DriverID: &driverID}
	freed, err := ApplyRiderCancel(ride, time.Now())
	if err != nil {
		t.Fatalf("ApplyRiderCancel: %v", err)
	}
	if freed == nil || *freed != driverID {
		t.Errorf("freed driver = %v, want %d", freed, driverID)
	}
	if ride.Status != domain.StatusCancelled {
		t.Errorf("status = %v, want cancelled", ride.Status)
	}
}

func TestApplyRiderCancelRejectsInProgress(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusInProgress}
	if _, err := ApplyRiderCancel(ride, time.Now()); err != ErrInvalidState {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestApplyCompleteRecordsFare(t *testing.T) {
	ride := &domain.Ride{Status: domain.StatusInProgress}
	fare := 12.5
	if err := ApplyComplete(ride, &fare, time.Now()); err != nil {
		t.Fatalf("ApplyComplete: %v", err)
	}
	if ride.Status != domain.StatusCompleted || ride.Fare == nil || *ride.Fare != 12.5 {
		t.Errorf("ride = %+v, want completed with fare 12.5", ride)
	}
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	for _, status := range []domain.RideStatus{domain.StatusCompleted, domain.StatusCancelled} {
		ride := &domain.Ride{Status: status}
		if err := ApplyAccept(ride, 1, time.Now()); err != ErrInvalidState {
			t.Errorf("ApplyAccept on %v: err = %v, want ErrInvalidState", status, err)
		}
		if err := ApplyDecline(ride, 1); err != ErrInvalidState {
			t.Errorf("ApplyDecline on %v: err = %v, want ErrInvalidState", status, err)
		}
	}
}

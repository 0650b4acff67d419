package matching

import (
	"context"
	"log"
	"time"

	"ridehail/internal/domain"
)

func (e *Engine) runExpiryLoop(ctx context.Context) {
	ticker := time.NewTicker(e.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.expiryTick(ctx); err != nil {
				log.Printf("matching: expiry tick failed: %v", err)
			}
		}
	}
}

// expiryTick implements spec.md §4.6: every offering ride whose
// expires_at has passed is auto-declined; if no eligible drivers
// remain it is cancelled for exhaustion, otherwise it re-enters the
// requested queue.
func (e *Engine) expiryTick(ctx context.Context) error {
	now := time.Now()
	ids, err := e.Store.ExpiredOfferingRideIDs(ctx, now)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.expireOne(ctx, id, now); err != nil {
			log.Printf("matching: expire ride %d failed: %v", id, err)
		}
	}
	return nil
}

func (e *Engine) expireOne(ctx context.Context, rideID int64, now time.Time) error {
	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ride, err := e.Store.LockedGetRide(ctx, tx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != domain.StatusOffering || ride.ExpiresAt == nil || ride.ExpiresAt.After(now) {
		// Already resolved (accepted/declined/cancelled) by another
		// actor before we acquired the lock; nothing to do.
		return tx.Commit(ctx)
	}

	expiredDriverID, err := ApplyExpiry(ride)
	if err != nil {
		return err
	}

	eligible, err := e.Store.EligibleDrivers(ctx, tx, ride.DeclinedDriverIDs)
	if err != nil {
		return err
	}

	cancelled := false
	if len(eligible) == 0 {
		if err := ApplyExhaustionCancel(ride, now); err != nil {
			return err
		}
		cancelled = true
	}

	if err := e.Store.SaveRide(ctx, tx, ride); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	e.Bus.Deliver(expiredDriverID, domain.MsgOfferExpired, domain.OfferExpiredPayload{RideID: ride.ID})
	e.recordEvent(ctx, ride.ID, "offer_expired", map[string]any{"driver_id": expiredDriverID})
	if cancelled {
		e.Bus.Deliver(ride.RiderID, domain.MsgRideCancelled, domain.RideCancelledPayload{
			RideID:  ride.ID,
			Reason:  domain.CancelNoDriversAvailable,
			Message: "no drivers are currently available for this ride",
		})
		e.recordEvent(ctx, ride.ID, "ride_cancelled", map[string]any{"reason": domain.CancelNoDriversAvailable})
	}
	return nil
}

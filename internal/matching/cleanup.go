package matching

import (
	"context"
	"log"
	"time"

	"ridehail/internal/domain"
)

func (e *Engine) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(e.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.cleanupTick(ctx); err != nil {
				log.Printf("matching: cleanup tick failed: %v", err)
			}
		}
	}
}

// cleanupTick implements spec.md §4.7: terminally cancel rides whose
// wall-clock age in requested exceeds STALE_THRESHOLD.
func (e *Engine) cleanupTick(ctx context.Context) error {
	cutoff := time.Now().Add(-e.StaleThreshold)
	ids, err := e.Store.StaleRequestedRideIDs(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.cleanupOne(ctx, id); err != nil {
			log.Printf("matching: cleanup ride %d failed: %v", id, err)
		}
	}
	return nil
}

func (e *Engine) cleanupOne(ctx context.Context, rideID int64) error {
	tx, err := e.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ride, err := e.Store.LockedGetRide(ctx, tx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != domain.StatusRequested {
		return tx.Commit(ctx)
	}

	now := time.Now()
	if err := ApplyStaleCancel(ride, now); err != nil {
		return err
	}
	if err := e.Store.SaveRide(ctx, tx, ride); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	e.Bus.Deliver(ride.RiderID, domain.MsgRequestTimeout, domain.RequestTimeoutPayload{
		RideID:  ride.ID,
		Message: "your ride request timed out waiting for a driver",
	})
	e.recordEvent(ctx, ride.ID, "ride_cancelled", map[string]any{"reason": domain.CancelRequestTimeout})
	return nil
}

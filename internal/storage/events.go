package storage

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RideEvent is one row of the ride_events audit trail, grounded on the
// teacher's events.go RideEvent shape but trimmed to the dispatch
// core's own columns (no actor/payload split, since every event is
// already attributed by the caller).
type RideEvent struct {
	ID        int64           `json:"id"`
	RideID    int64           `json:"ride_id"`
	Event     string          `json:"event"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventRecorder appends a best-effort audit row for a ride lifecycle
// transition, satisfying matching.EventRecorder without the matching
// package importing pgxpool directly.
type EventRecorder struct {
	Pool *pgxpool.Pool
}

// RecordEvent implements matching.EventRecorder. Failures are logged,
// never propagated: the audit trail is a convenience, not a
// correctness dependency of the dispatch state machine.
func (r *EventRecorder) RecordEvent(ctx context.Context, rideID int64, event string, detail any) {
	if err := RecordEvent(ctx, r.Pool, rideID, event, detail); err != nil {
		log.Printf("storage: record event %q for ride %d failed: %v", event, rideID, err)
	}
}

// ListEvents returns a ride's audit trail oldest-first, grounded on the
// teacher's ListRideEvents.
func ListEvents(ctx context.Context, pool *pgxpool.Pool, rideID int64, limit, offset int) ([]RideEvent, error) {
	rows, err := pool.Query(ctx, `
SELECT id, ride_id, event, detail, created_at
FROM ride_events
WHERE ride_id = $1
ORDER BY created_at ASC, id ASC
LIMIT $2 OFFSET $3
`, rideID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RideEvent
	for rows.Next() {
		var evt RideEvent
		if err := rows.Scan(&evt.ID, &evt.RideID, &evt.Event, &evt.Detail, &evt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// CountEvents returns the number of audit rows recorded for a ride,
// grounded on the teacher's CountRideEvents.
func CountEvents(ctx context.Context, pool *pgxpool.Pool, rideID int64) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM ride_events WHERE ride_id = $1`, rideID).Scan(&count)
	return count, err
}

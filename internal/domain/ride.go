package domain

import "time"

// RideStatus is the ride's lifecycle state. Terminal states (Completed,
// Cancelled) are absorbing: no further mutation is permitted except the
// fare side-channel on Completed.
type RideStatus string

const (
	StatusRequested  RideStatus = "requested"
	StatusOffering   RideStatus = "offering"
	StatusAccepted   RideStatus = "accepted"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

// IsTerminal reports whether no further transition is permitted.
func (s RideStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CancelReason explains a terminal cancellation to the rider.
type CancelReason string

const (
	CancelNoDriversAvailable CancelReason = "no_drivers_available"
	CancelRequestTimeout     CancelReason = "request_timeout"
	CancelByRider            CancelReason = "cancelled_by_rider"
)

// Ride is the central entity of the matching engine.
type Ride struct {
	ID      int64
	RiderID int64

	StartLocation string
	EndLocation   string
	StartPoint    *Coordinate
	EndPoint      *Coordinate

	CreatedAt   time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	Status   RideStatus
	DriverID *int64

	// Offer fields: meaningful only while Status == StatusOffering.
	OfferedToDriverID *int64
	OfferedAt         *time.Time
	ExpiresAt         *time.Time
	OfferAttempts     int
	DeclinedDriverIDs []int64

	CancelReason *CancelReason
	Fare         *float64
}

// HasDeclined reports whether driverID already declined or timed out on
// this ride.
func (r Ride) HasDeclined(driverID int64) bool {
	for _, id := range r.DeclinedDriverIDs {
		if id == driverID {
			return true
		}
	}
	return false
}

// WithDeclined returns a copy of DeclinedDriverIDs with driverID appended,
// deduplicated.
func (r Ride) WithDeclined(driverID int64) []int64 {
	if r.HasDeclined(driverID) {
		return r.DeclinedDriverIDs
	}
	out := make([]int64, len(r.DeclinedDriverIDs), len(r.DeclinedDriverIDs)+1)
	copy(out, r.DeclinedDriverIDs)
	return append(out, driverID)
}

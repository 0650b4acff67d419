// Package ridestore is the Ride Store: the durable record of rides and
// users with row-level locking and secondary indexes on (status) and
// (created_at), per spec.md §4.1. It is the concurrency substrate the
// rest of the matching engine is built on.
package ridestore

import (
	"context"
	"errors"
	"time"

	"ridehail/internal/domain"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("ridestore: not found")

// Tx is an in-flight row-locking transaction. All mutation of a ride's
// state, its assigned/offered driver, and the corresponding user's
// availability happens inside one Tx, matching spec.md §5's single
// locking-transaction requirement.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// RideFilter narrows GET /rides listing, per spec.md §6.
type RideFilter struct {
	Status   *domain.RideStatus
	RiderID  *int64
	DriverID *int64
	Limit    int
	Offset   int
}

// Store is the full contract the matching engine's workers and
// handlers consume. FindOldestUnofferedRequested and LockedGet* hold a
// row lock (skip-locked for the scan, plain FOR UPDATE for a known id)
// until the transaction ends; commit/rollback are all-or-nothing.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	// FindOldestUnofferedRequested returns the oldest requested ride
	// with no outstanding offer, skipping rows locked by another
	// worker, respecting FIFO by created_at then id ascending. Returns
	// ErrNotFound if none match.
	FindOldestUnofferedRequested(ctx context.Context, tx Tx) (*domain.Ride, error)

	// LockedGetRide row-locks and returns a ride by id.
	LockedGetRide(ctx context.Context, tx Tx, rideID int64) (*domain.Ride, error)

	// LockedGetUser row-locks and returns a user by id.
	LockedGetUser(ctx context.Context, tx Tx, userID int64) (*domain.User, error)

	// InsertRide persists a brand-new ride inside tx.
	InsertRide(ctx context.Context, tx Tx, ride *domain.Ride) error

	// SaveRide persists a full ride row inside tx (status, assignment,
	// offer fields, timestamps — everything but the immutable id/rider).
	SaveRide(ctx context.Context, tx Tx, ride *domain.Ride) error

	// SaveUser persists a user's mutable fields (availability,
	// location) inside tx.
	SaveUser(ctx context.Context, tx Tx, user *domain.User) error

	// GetRide / GetUser are unlocked reads for the HTTP read surface.
	GetRide(ctx context.Context, rideID int64) (*domain.Ride, error)
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// ListRides supports GET /rides history queries.
	ListRides(ctx context.Context, filter RideFilter) ([]domain.Ride, error)

	// ExpiredOfferingRideIDs lists candidate ride ids for the Expiry
	// Worker: status=offering and expires_at<=now. Unlocked; the
	// worker re-fetches and locks each one individually.
	ExpiredOfferingRideIDs(ctx context.Context, now time.Time) ([]int64, error)

	// StaleRequestedRideIDs lists candidate ride ids for the Cleanup
	// Worker: status=requested and created_at older than cutoff.
	StaleRequestedRideIDs(ctx context.Context, cutoff time.Time) ([]int64, error)

	// EligibleDrivers returns, within tx's snapshot, every driver with
	// is_driver=true, availability=true, a known location, not in
	// excluded, and not currently holding a live offer (busy). Order
	// is unspecified; callers rank by distance themselves.
	EligibleDrivers(ctx context.Context, tx Tx, excluded []int64) ([]domain.User, error)

	// RiderHasActiveRide reports whether riderID already has a ride in
	// a non-terminal status, enforcing invariant 2.
	RiderHasActiveRide(ctx context.Context, tx Tx, riderID int64) (bool, error)

	// CreateUser inserts a brand-new account.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUserByUsername supports login.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

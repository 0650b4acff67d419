package domain

import "time"

// IdentityRole distinguishes the two opaque caller identities the core
// matching engine cares about: rider and driver.
type IdentityRole string

const (
	RoleRider  IdentityRole = "rider"
	RoleDriver IdentityRole = "driver"
)

// Coordinate is a WGS-84 decimal-degree point.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// User is the single account table: riders and drivers share it, matching
// the source schema's users table. Driver-only fields are zero-valued for
// riders.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsDriver     bool

	// Driver-only. Availability is meaningless for riders.
	Availability bool
	Vehicle      *string
	Rating       *float64

	Location  *Coordinate
	CreatedAt time.Time
}

// IsEligible reports whether this user can currently be offered a ride,
// ignoring declined/busy exclusions which are ride-specific.
func (u User) IsEligible() bool {
	return u.IsDriver && u.Availability && u.Location != nil
}

package api

import (
	"encoding/json"
	"net/http"

	"ridehail/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// rideView flattens domain.Ride into a JSON-friendly shape.
type rideView struct {
	ID                int64   `json:"id"`
	RiderID           int64   `json:"rider_id"`
	DriverID          *int64  `json:"driver_id,omitempty"`
	Status            string  `json:"status"`
	StartLocation     string  `json:"source_location"`
	EndLocation       string  `json:"dest_location,omitempty"`
	PickupLat         float64 `json:"pickup_lat,omitempty"`
	PickupLng         float64 `json:"pickup_lng,omitempty"`
	DestLat           float64 `json:"dest_lat,omitempty"`
	DestLng           float64 `json:"dest_lng,omitempty"`
	OfferedToDriverID *int64  `json:"offered_to_driver_id,omitempty"`
	ExpiresAt         *int64  `json:"expires_at,omitempty"`
	OfferAttempts     int     `json:"offer_attempts"`
	CancelReason      *string `json:"cancel_reason,omitempty"`
	Fare              *float64 `json:"fare,omitempty"`
	CreatedAt         int64   `json:"created_at"`

	// Rider/Driver are embedded summaries, populated only by handlers
	// that fetch them (GetRide); list endpoints leave them nil to
	// avoid an extra user lookup per row.
	Rider  *userView `json:"rider,omitempty"`
	Driver *userView `json:"driver,omitempty"`
}

func toRideView(r *domain.Ride) rideView {
	v := rideView{
		ID:            r.ID,
		RiderID:       r.RiderID,
		DriverID:      r.DriverID,
		Status:        string(r.Status),
		StartLocation: r.StartLocation,
		EndLocation:   r.EndLocation,
		OfferAttempts: r.OfferAttempts,
		Fare:          r.Fare,
		CreatedAt:     r.CreatedAt.Unix(),
	}
	if r.StartPoint != nil {
		v.PickupLat = r.StartPoint.Latitude
		v.PickupLng = r.StartPoint.Longitude
	}
	if r.EndPoint != nil {
		v.DestLat = r.EndPoint.Latitude
		v.DestLng = r.EndPoint.Longitude
	}
	if r.OfferedToDriverID != nil {
		v.OfferedToDriverID = r.OfferedToDriverID
	}
	if r.ExpiresAt != nil {
		unix := r.ExpiresAt.Unix()
		v.ExpiresAt = &unix
	}
	if r.CancelReason != nil {
		reason := string(*r.CancelReason)
		v.CancelReason = &reason
	}
	return v
}

type userView struct {
	ID           int64    `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	IsDriver     bool     `json:"is_driver"`
	Availability bool     `json:"availability,omitempty"`
	Vehicle      *string  `json:"vehicle,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
}

func toUserView(u *domain.User) userView {
	return userView{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		IsDriver:     u.IsDriver,
		Availability: u.Availability,
		Vehicle:      u.Vehicle,
		Rating:       u.Rating,
	}
}

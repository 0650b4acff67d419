package api

import "github.com/go-playground/validator/v10"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("latitude", validateLatitude)
	_ = v.RegisterValidation("longitude", validateLongitude)
	return v
}

func validateLatitude(fl validator.FieldLevel) bool {
	lat := fl.Field().Float()
	return lat >= -90 && lat <= 90
}

func validateLongitude(fl validator.FieldLevel) bool {
	lng := fl.Field().Float()
	return lng >= -180 && lng <= 180
}

// RideRequestInput is the POST /ride/request body, validated with
// struct tags before touching the Ride Store (spec.md §4.9), grounded
// on richxcame-ride-hailing's validator/v10 DTO style.
type RideRequestInput struct {
	SourceLocation string  `json:"source_location" validate:"required"`
	DestLocation   string  `json:"dest_location"`
	UserID         int64   `json:"user_id" validate:"required"`
	PickupLat      float64 `json:"pickup_lat" validate:"required,latitude"`
	PickupLng      float64 `json:"pickup_lng" validate:"required,longitude"`
	DestLat        float64 `json:"dest_lat,omitempty"`
	DestLng        float64 `json:"dest_lng,omitempty"`
	HasDest        bool    `json:"-"`
}

type driverActionInput struct {
	DriverID int64 `json:"driver_id" validate:"required"`
}

type locationInput struct {
	Latitude  float64 `json:"latitude" validate:"required,latitude"`
	Longitude float64 `json:"longitude" validate:"required,longitude"`
}

type availabilityInput struct {
	Availability bool `json:"availability"`
}

// SignupInput is the POST /auth/register body.
type SignupInput struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	IsDriver bool   `json:"is_driver"`
}

// LoginInput is the POST /auth/login body.
type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

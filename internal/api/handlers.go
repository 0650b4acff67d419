package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/auth"
	"ridehail/internal/domain"
	"ridehail/internal/matching"
	"ridehail/internal/notify"
	"ridehail/internal/ridestore"
	"ridehail/internal/storage"
)

// Handler wires the HTTP surface (spec.md §6) to the matching engine and
// the underlying stores, grounded on the teacher's Handler but scoped to
// the dispatch-core vocabulary.
type Handler struct {
	Engine   *matching.Engine
	Store    ridestore.Store
	Sessions auth.Store
	Bus      *notify.Bus
	AuthTTL  time.Duration
	Metrics  *metrics

	// EventsPool is non-nil only when running against PostgreSQL; the
	// ride-events endpoint degrades to 501 under the in-memory store.
	EventsPool *pgxpool.Pool
}

// GetRideEvents returns the audit trail for a ride (oldest first),
// grounded on the teacher's ListRideEvents/CountRideEvents handlers.
func (h *Handler) GetRideEvents(w http.ResponseWriter, r *http.Request) {
	rideID, ok := parseIDParam(w, r, "rideID")
	if !ok {
		return
	}
	if h.EventsPool == nil {
		respondError(w, http.StatusNotImplemented, "ride event history requires PostgreSQL persistence")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 100)
	offset := parseOffset(r.URL.Query().Get("offset"))
	events, err := storage.ListEvents(r.Context(), h.EventsPool, rideID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list ride events")
		return
	}
	total, err := storage.CountEvents(r.Context(), h.EventsPool, rideID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count ride events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": events, "total": total, "limit": limit, "offset": offset})
}

func (h *Handler) RequestRide(w http.ResponseWriter, r *http.Request) {
	var in RideRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	id, _ := identityFromContext(r.Context())
	riderID := id.UserID

	if err := validate.Struct(in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var dest *domain.Coordinate
	if in.DestLat != 0 || in.DestLng != 0 {
		dest = &domain.Coordinate{Latitude: in.DestLat, Longitude: in.DestLng}
	}

	ride, err := h.Engine.RequestRide(r.Context(), riderID, in.SourceLocation, in.DestLocation, in.PickupLat, in.PickupLng, dest)
	if err != nil {
		writeRequestRideError(w, err)
		return
	}
	atomic.AddInt64(&h.Metrics.rideRequests, 1)
	respondJSON(w, http.StatusCreated, toRideView(ride))
}

func writeRequestRideError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, matching.ErrBadCoordinates):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, matching.ErrDriverCannotRequest):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, matching.ErrActiveRideExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ridestore.ErrNotFound):
		respondError(w, http.StatusNotFound, "rider not found")
	default:
		respondError(w, http.StatusInternalServerError, "failed to request ride")
	}
}

// GetRide returns a ride with embedded rider and driver summaries.
func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	rideID, ok := parseIDParam(w, r, "rideID")
	if !ok {
		return
	}
	ride, err := h.Store.GetRide(r.Context(), rideID)
	if err != nil {
		respondError(w, http.StatusNotFound, "ride not found")
		return
	}
	view := toRideView(ride)
	if rider, err := h.Store.GetUser(r.Context(), ride.RiderID); err == nil {
		uv := toUserView(rider)
		view.Rider = &uv
	}
	if ride.DriverID != nil {
		if driver, err := h.Store.GetUser(r.Context(), *ride.DriverID); err == nil {
			uv := toUserView(driver)
			view.Driver = &uv
		}
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) ListRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ridestore.RideFilter{Limit: parseLimit(q.Get("limit"), 100), Offset: parseOffset(q.Get("offset"))}
	if s := q.Get("status"); s != "" {
		status := domain.RideStatus(s)
		filter.Status = &status
	}
	if s := q.Get("rider_id"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			filter.RiderID = &v
		}
	}
	if s := q.Get("driver_id"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			filter.DriverID = &v
		}
	}
	rides, err := h.Store.ListRides(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rides")
		return
	}
	views := make([]rideView, len(rides))
	for i := range rides {
		views[i] = toRideView(&rides[i])
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": views, "limit": filter.Limit, "offset": filter.Offset})
}

func (h *Handler) AcceptRide(w http.ResponseWriter, r *http.Request) {
	rideID, ok := parseIDParam(w, r, "rideID")
	if !ok {
		return
	}
	var in driverActionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	ride, err := h.Engine.Accept(r.Context(), rideID, in.DriverID)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	atomic.AddInt64(&h.Metrics.rideAccepts, 1)
	respondJSON(w, http.StatusOK, toRideView(ride))
}

func (h *Handler) DeclineRide(w http.ResponseWriter, r *http.Request) {
	rideID, ok := parseIDParam(w, r, "rideID")
	if !ok {
		return
	}
	var in driverActionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	ride, err := h.Engine.Decline(r.Context(), rideID, in.DriverID)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	atomic.AddInt64(&h.Metrics.rideDeclines, 1)
	respondJSON(w, http.StatusOK, toRideView(ride))
}

func (h *Handler) CancelRide(w http.ResponseWriter, r *http.Request) {
	rideID, ok := parseIDParam(w, r, "rideID")
	if !ok {
		return
	}
	ride, err := h.Engine.CancelByRider(r.Context(), rideID)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	atomic.AddInt64(&h.Metrics.rideCancels, 1)
	respondJSON(w, http.StatusOK, toRideView(ride))
}

func (h *Handler) StartRide(w http.ResponseWriter, r *http.Request) {
	rideID, ok := parseIDParam(w, r, "rideID")
	if !ok {
		return
	}
	ride, err := h.Engine.Start(r.Context(), rideID)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRideView(ride))
}

func (h *Handler) CompleteRide(w http.ResponseWriter, r *http.Request) {
	rideID, ok := parseIDParam(w, r, "rideID")
	if !ok {
		return
	}
	var in struct {
		Fare *float64 `json:"fare,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && err.Error() != "EOF" {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	ride, err := h.Engine.Complete(r.Context(), rideID, in.Fare)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRideView(ride))
}

func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ridestore.ErrNotFound), errors.Is(err, matching.ErrNotFound):
		respondError(w, http.StatusNotFound, "ride not found")
	case errors.Is(err, matching.ErrTerminal), errors.Is(err, matching.ErrInvalidState), errors.Is(err, matching.ErrExpired), errors.Is(err, matching.ErrNotOfferedToYou):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "failed to update ride")
	}
}

func (h *Handler) UpdateUserLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}
	var in locationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validate.Struct(in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.Store.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	user.Location = &domain.Coordinate{Latitude: in.Latitude, Longitude: in.Longitude}
	if err := h.saveUserLocation(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save location")
		return
	}
	if user.IsDriver {
		_ = h.Engine.Locator.Add(user.ID, in.Latitude, in.Longitude)
	}
	respondJSON(w, http.StatusOK, toUserView(user))
}

func (h *Handler) UpdateUserAvailability(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r, "userID")
	if !ok {
		return
	}
	var in availabilityInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.Store.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if !user.IsDriver {
		respondError(w, http.StatusForbidden, "only drivers have availability")
		return
	}
	user.Availability = in.Availability
	if err := h.saveUserLocation(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save availability")
		return
	}
	if !in.Availability {
		_ = h.Engine.Locator.Remove(user.ID)
	} else if user.Location != nil {
		_ = h.Engine.Locator.Add(user.ID, user.Location.Latitude, user.Location.Longitude)
	}
	respondJSON(w, http.StatusOK, toUserView(user))
}

// saveUserLocation persists a user's mutable fields inside its own
// single-statement transaction, since this sits outside the matching
// engine's multi-step workflows.
func (h *Handler) saveUserLocation(ctx context.Context, user *domain.User) error {
	tx, err := h.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := h.Store.SaveUser(ctx, tx, user); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var in SignupInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validate.Struct(in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	user := &domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsDriver:     in.IsDriver,
		CreatedAt:    time.Now(),
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusConflict, "username already taken")
		return
	}
	sess, err := h.Sessions.Issue(r.Context(), user.ID, h.AuthTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"token": sess.Token, "user": toUserView(user)})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validate.Struct(in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.Store.GetUserByUsername(r.Context(), in.Username)
	if err != nil || !auth.VerifyPassword(user.PasswordHash, in.Password) {
		respondError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	sess, err := h.Sessions.Issue(r.Context(), user.ID, h.AuthTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"token": sess.Token, "user": toUserView(user)})
}

// Notifications upgrades the caller's connection to a websocket session
// on the Notification Bus, grounded on notify.Bus.Upgrade/Pump.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conn, err := h.Bus.Upgrade(w, r, id.UserID)
	if err != nil {
		return
	}
	go h.Bus.Pump(id.UserID, conn)
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 1000 {
		return v
	}
	return def
}

func parseOffset(raw string) int {
	if raw == "" {
		return 0
	}
	if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
		return v
	}
	return 0
}

package ridestore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridehail/internal/domain"
)

// PostgresStore is the production Store, grounded on the teacher's
// internal/storage/postgres.go: a thin pgxpool.Pool wrapper with one
// struct per table and hand-written SQL, no ORM.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func DefaultPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnLifetime = time.Hour
	return pgxpool.NewWithConfig(ctx, cfg)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func unwrap(tx Tx) pgx.Tx {
	return tx.(*pgTx).tx
}

func (p *PostgresStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

const rideColumns = `id, rider_id, start_location, end_location,
	start_lat, start_lng, end_lat, end_lng,
	status, driver_id, offered_to_driver_id, offered_at, expires_at,
	offer_attempts, declined_driver_ids, cancel_reason, fare,
	created_at, completed_at, cancelled_at`

func scanRide(row pgx.Row) (*domain.Ride, error) {
	var r domain.Ride
	var startLat, startLng *float64
	var endLat, endLng *float64
	if err := row.Scan(
		&r.ID, &r.RiderID, &r.StartLocation, &r.EndLocation,
		&startLat, &startLng, &endLat, &endLng,
		&r.Status, &r.DriverID, &r.OfferedToDriverID, &r.OfferedAt, &r.ExpiresAt,
		&r.OfferAttempts, &r.DeclinedDriverIDs, &r.CancelReason, &r.Fare,
		&r.CreatedAt, &r.CompletedAt, &r.CancelledAt,
	); err != nil {
		return nil, err
	}
	if startLat != nil && startLng != nil {
		r.StartPoint = &domain.Coordinate{Latitude: *startLat, Longitude: *startLng}
	}
	if endLat != nil && endLng != nil {
		r.EndPoint = &domain.Coordinate{Latitude: *endLat, Longitude: *endLng}
	}
	return &r, nil
}

func (p *PostgresStore) FindOldestUnofferedRequested(ctx context.Context, tx Tx) (*domain.Ride, error) {
	row := unwrap(tx).QueryRow(ctx, `
SELECT `+rideColumns+`
FROM rides
WHERE status = $1 AND offered_to_driver_id IS NULL
ORDER BY created_at ASC, id ASC
FOR UPDATE SKIP LOCKED
LIMIT 1
`, domain.StatusRequested)
	ride, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ride, err
}

func (p *PostgresStore) LockedGetRide(ctx context.Context, tx Tx, rideID int64) (*domain.Ride, error) {
	row := unwrap(tx).QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, rideID)
	ride, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ride, err
}

const userColumns = `id, username, email, password_hash, is_driver, availability,
	vehicle, rating, current_lat, current_lng, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var lat, lng *float64
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsDriver, &u.Availability,
		&u.Vehicle, &u.Rating, &lat, &lng, &u.CreatedAt,
	); err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		u.Location = &domain.Coordinate{Latitude: *lat, Longitude: *lng}
	}
	return &u, nil
}

func (p *PostgresStore) LockedGetUser(ctx context.Context, tx Tx, userID int64) (*domain.User, error) {
	row := unwrap(tx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (p *PostgresStore) InsertRide(ctx context.Context, tx Tx, ride *domain.Ride) error {
	var startLat, startLng, endLat, endLng *float64
	if ride.StartPoint != nil {
		startLat, startLng = &ride.StartPoint.Latitude, &ride.StartPoint.Longitude
	}
	if ride.EndPoint != nil {
		endLat, endLng = &ride.EndPoint.Latitude, &ride.EndPoint.Longitude
	}
	return unwrap(tx).QueryRow(ctx, `
INSERT INTO rides (rider_id, start_location, end_location,
	start_lat, start_lng, end_lat, end_lng, status,
	declined_driver_ids, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id
`, ride.RiderID, ride.StartLocation, ride.EndLocation, startLat, startLng, endLat, endLng,
		ride.Status, ride.DeclinedDriverIDs, ride.CreatedAt).Scan(&ride.ID)
}

func (p *PostgresStore) SaveRide(ctx context.Context, tx Tx, ride *domain.Ride) error {
	_, err := unwrap(tx).Exec(ctx, `
UPDATE rides SET
	status = $2,
	driver_id = $3,
	offered_to_driver_id = $4,
	offered_at = $5,
	expires_at = $6,
	offer_attempts = $7,
	declined_driver_ids = $8,
	cancel_reason = $9,
	fare = $10,
	completed_at = $11,
	cancelled_at = $12
WHERE id = $1
`, ride.ID, ride.Status, ride.DriverID, ride.OfferedToDriverID, ride.OfferedAt,
		ride.ExpiresAt, ride.OfferAttempts, ride.DeclinedDriverIDs, ride.CancelReason,
		ride.Fare, ride.CompletedAt, ride.CancelledAt)
	return err
}

func (p *PostgresStore) SaveUser(ctx context.Context, tx Tx, user *domain.User) error {
	var lat, lng *float64
	if user.Location != nil {
		lat, lng = &user.Location.Latitude, &user.Location.Longitude
	}
	_, err := unwrap(tx).Exec(ctx, `
UPDATE users SET availability = $2, current_lat = $3, current_lng = $4 WHERE id = $1
`, user.ID, user.Availability, lat, lng)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, rideID int64) (*domain.Ride, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, rideID)
	ride, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ride, err
}

func (p *PostgresStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (p *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (p *PostgresStore) CreateUser(ctx context.Context, user *domain.User) error {
	var lat, lng *float64
	if user.Location != nil {
		lat, lng = &user.Location.Latitude, &user.Location.Longitude
	}
	return p.pool.QueryRow(ctx, `
INSERT INTO users (username, email, password_hash, is_driver, availability,
	vehicle, rating, current_lat, current_lng, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id
`, user.Username, user.Email, user.PasswordHash, user.IsDriver, user.Availability,
		user.Vehicle, user.Rating, lat, lng, user.CreatedAt).Scan(&user.ID)
}

func (p *PostgresStore) ListRides(ctx context.Context, filter RideFilter) ([]domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}
	if filter.Status != nil {
		query += ` AND status = ` + arg(*filter.Status)
	}
	if filter.RiderID != nil {
		query += ` AND rider_id = ` + arg(*filter.RiderID)
	}
	if filter.DriverID != nil {
		query += ` AND driver_id = ` + arg(*filter.DriverID)
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ExpiredOfferingRideIDs(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id FROM rides WHERE status = $1 AND expires_at <= $2
`, domain.StatusOffering, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (p *PostgresStore) StaleRequestedRideIDs(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id FROM rides WHERE status = $1 AND created_at <= $2
`, domain.StatusRequested, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EligibleDrivers returns every available driver with a known location
// that is not in excluded and is not the offered_to_driver_id of any
// ride currently busy with a live offer (status=offering and
// expires_at in the future — an offering ride whose timer has already
// lapsed but hasn't been swept by the Expiry Worker yet does not hold
// its driver busy). This mirrors the original's SQLAlchemy filter
// chain, translated into one query so the candidate set is taken from
// tx's own snapshot.
func (p *PostgresStore) EligibleDrivers(ctx context.Context, tx Tx, excluded []int64) ([]domain.User, error) {
	rows, err := unwrap(tx).Query(ctx, `
SELECT `+userColumns+`
FROM users
WHERE is_driver = true
  AND availability = true
  AND current_lat IS NOT NULL
  AND current_lng IS NOT NULL
  AND NOT (id = ANY($1))
  AND id NOT IN (
	SELECT offered_to_driver_id FROM rides
	WHERE status = $2 AND offered_to_driver_id IS NOT NULL AND expires_at > now()
  )
`, excluded, domain.StatusOffering)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RiderHasActiveRide(ctx context.Context, tx Tx, riderID int64) (bool, error) {
	var exists bool
	err := unwrap(tx).QueryRow(ctx, `
SELECT EXISTS(
	SELECT 1 FROM rides
	WHERE rider_id = $1 AND status NOT IN ($2, $3)
)
`, riderID, domain.StatusCompleted, domain.StatusCancelled).Scan(&exists)
	return exists, err
}

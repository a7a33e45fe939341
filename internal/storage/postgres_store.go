package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/taxi-booking/internal/models"
)

const rideColumns = `id, created_at, customer_id, driver_id, status, pickup_location, dropoff_location,
	price, rating, feedback, payment_status, payment_ref`

const profileColumns = `id, full_name, role, is_available, is_verified, image_url, created_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) InsertRide(ctx context.Context, r models.Ride) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `INSERT INTO rides(customer_id, driver_id, status, pickup_location, dropoff_location, price, payment_status)
		VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING `+rideColumns,
		r.CustomerID, r.DriverID, r.Status, r.PickupLocation, r.DropoffLocation, r.Price, r.PaymentStatus)
	out, err := scanRide(row)
	if err != nil {
		return models.Ride{}, fmt.Errorf("insert ride: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id int64) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, ErrNotFound
	}
	if err != nil {
		return models.Ride{}, fmt.Errorf("get ride %d: %w", id, err)
	}
	return r, nil
}

func (p *PostgresStore) UpdateRide(ctx context.Context, f RideFilter, patch RidePatch) (models.Ride, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.PaymentStatus != nil {
		add("payment_status", *patch.PaymentStatus)
	}
	if patch.PaymentRef != nil {
		add("payment_ref", *patch.PaymentRef)
	}
	if patch.Rating != nil {
		add("rating", *patch.Rating)
	}
	if patch.Feedback != nil {
		add("feedback", *patch.Feedback)
	}
	if len(sets) == 0 {
		return models.Ride{}, errors.New("update ride: empty patch")
	}

	args = append(args, f.ID)
	where := []string{fmt.Sprintf("id = $%d", len(args))}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PaymentStatus != "" {
		args = append(args, f.PaymentStatus)
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	if f.Unrated {
		where = append(where, "rating IS NULL")
	}

	q := `UPDATE rides SET ` + strings.Join(sets, ", ") + ` WHERE ` + strings.Join(where, " AND ") + ` RETURNING ` + rideColumns
	r, err := scanRide(p.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, ErrNotFound
	}
	if err != nil {
		return models.Ride{}, fmt.Errorf("update ride %d: %w", f.ID, err)
	}
	return r, nil
}

func (p *PostgresStore) ListRidesByDriver(ctx context.Context, driverID string) ([]models.Ride, error) {
	return p.listRides(ctx, "driver_id", driverID)
}

func (p *PostgresStore) ListRidesByCustomer(ctx context.Context, customerID string) ([]models.Ride, error) {
	return p.listRides(ctx, "customer_id", customerID)
}

func (p *PostgresStore) listRides(ctx context.Context, col, id string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE `+col+` = $1 ORDER BY created_at DESC, id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list rides by %s: %w", col, err)
	}
	defer rows.Close()
	out := make([]models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	pr, err := scanProfile(p.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return pr, nil
}

func (p *PostgresStore) EnsureProfile(ctx context.Context, id, fullName string) (models.Profile, error) {
	const q = `INSERT INTO profiles(id, full_name) VALUES($1, NULLIF($2, ''))
ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name
WHERE COALESCE(profiles.full_name, '') = '' AND EXCLUDED.full_name IS NOT NULL`
	if _, err := p.db.ExecContext(ctx, q, id, fullName); err != nil {
		return models.Profile{}, fmt.Errorf("ensure profile: %w", err)
	}
	return p.GetProfile(ctx, id)
}

func (p *PostgresStore) UpdateProfile(ctx context.Context, f ProfileFilter, patch ProfilePatch) (models.Profile, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Role != nil {
		add("role", *patch.Role)
	}
	if patch.IsAvailable != nil {
		add("is_available", *patch.IsAvailable)
	}
	if patch.ImageURL != nil {
		add("image_url", *patch.ImageURL)
	}
	if len(sets) == 0 {
		return models.Profile{}, errors.New("update profile: empty patch")
	}
	args = append(args, f.ID)
	where := []string{fmt.Sprintf("id = $%d", len(args))}
	if f.NoRole {
		where = append(where, "role IS NULL")
	}
	if f.HasRole != "" {
		args = append(args, f.HasRole)
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	q := `UPDATE profiles SET ` + strings.Join(sets, ", ") + ` WHERE ` + strings.Join(where, " AND ") + ` RETURNING ` + profileColumns
	pr, err := scanProfile(p.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return pr, nil
}

// RecommendedDrivers calls the get_recommended_drivers database function.
// Ranking lives entirely in SQL; rows come back in rank order.
func (p *PostgresStore) RecommendedDrivers(ctx context.Context, customerID string) ([]models.RecommendedDriver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, full_name, average_rating, ride_count, is_verified, image_url FROM get_recommended_drivers($1)`, customerID)
	if err != nil {
		return nil, fmt.Errorf("get_recommended_drivers: %w", err)
	}
	defer rows.Close()
	out := make([]models.RecommendedDriver, 0)
	for rows.Next() {
		var (
			d        models.RecommendedDriver
			name     sql.NullString
			image    sql.NullString
			avg      sql.NullFloat64
			count    sql.NullInt64
			verified sql.NullBool
		)
		if err := rows.Scan(&d.ID, &name, &avg, &count, &verified, &image); err != nil {
			return nil, err
		}
		d.FullName = name.String
		d.ImageURL = image.String
		d.AverageRating = avg.Float64
		d.RideCount = int(count.Int64)
		d.IsVerified = verified.Bool
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (models.Ride, error) {
	var (
		r        models.Ride
		pickup   sql.NullString
		dropoff  sql.NullString
		price    sql.NullFloat64
		rating   sql.NullInt64
		feedback sql.NullString
		payment  sql.NullString
		ref      sql.NullString
	)
	if err := s.Scan(&r.ID, &r.CreatedAt, &r.CustomerID, &r.DriverID, &r.Status, &pickup, &dropoff,
		&price, &rating, &feedback, &payment, &ref); err != nil {
		return models.Ride{}, err
	}
	r.PickupLocation = pickup.String
	r.DropoffLocation = dropoff.String
	r.Price = price.Float64
	if rating.Valid {
		v := int(rating.Int64)
		r.Rating = &v
	}
	if feedback.Valid {
		v := feedback.String
		r.Feedback = &v
	}
	r.PaymentStatus = models.PaymentUnpaid
	if payment.Valid && payment.String != "" {
		r.PaymentStatus = models.PaymentStatus(payment.String)
	}
	r.PaymentRef = ref.String
	return r, nil
}

func scanProfile(s scanner) (models.Profile, error) {
	var (
		pr    models.Profile
		name  sql.NullString
		role  sql.NullString
		image sql.NullString
	)
	if err := s.Scan(&pr.ID, &name, &role, &pr.IsAvailable, &pr.IsVerified, &image, &pr.CreatedAt); err != nil {
		return models.Profile{}, err
	}
	pr.FullName = name.String
	pr.Role = models.Role(role.String)
	pr.ImageURL = image.String
	return pr, nil
}

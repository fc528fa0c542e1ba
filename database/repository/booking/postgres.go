package bookingRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablebook/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, tenant_id, user_phone, name, people, start_at, end_at, status, version, created_at, updated_at`

// PostgresBookingRepo implements BookingRepository on a pgx pool.
type PostgresBookingRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresBookingRepo(pool *pgxpool.Pool) *PostgresBookingRepo {
	return &PostgresBookingRepo{pool: pool}
}

// EnsureSchema creates the bookings table and its indexes if missing.
func (r *PostgresBookingRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bookings (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			user_phone TEXT NOT NULL DEFAULT '',
			name       TEXT NOT NULL,
			people     INTEGER NOT NULL CHECK (people > 0),
			start_at   TIMESTAMPTZ NOT NULL,
			end_at     TIMESTAMPTZ NOT NULL,
			status     TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CHECK (end_at > start_at)
		);
		CREATE INDEX IF NOT EXISTS bookings_tenant_window_idx ON bookings (tenant_id, status, start_at, end_at);
		CREATE INDEX IF NOT EXISTS bookings_tenant_user_idx ON bookings (tenant_id, user_phone, start_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure bookings schema: %w", err)
	}
	return nil
}

func (r *PostgresBookingRepo) Create(ctx context.Context, b *models.Booking) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, b.ID, b.TenantID, b.UserPhone, b.Name, b.People, b.StartAt, b.EndAt, b.Status, b.Version, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *PostgresBookingRepo) FindByID(ctx context.Context, tenantID, id string) (*models.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

func (r *PostgresBookingRepo) FindByUser(ctx context.Context, tenantID, userPhone string) ([]models.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE tenant_id = $1 AND user_phone = $2
		ORDER BY start_at DESC
	`, tenantID, userPhone)
	if err != nil {
		return nil, fmt.Errorf("query user bookings: %w", err)
	}
	return collectBookings(rows)
}

func (r *PostgresBookingRepo) FindOverlapping(ctx context.Context, tenantID string, from, to time.Time) ([]models.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE tenant_id = $1 AND status = $2 AND start_at < $3 AND end_at > $4
		ORDER BY start_at
	`, tenantID, models.BookingConfirmed, to, from)
	if err != nil {
		return nil, fmt.Errorf("query overlapping bookings: %w", err)
	}
	return collectBookings(rows)
}

func (r *PostgresBookingRepo) UpdateVersioned(ctx context.Context, tenantID, id string, patch models.BookingPatch, expectedVersion int, now time.Time) (*models.Booking, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	current, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	applyPatch(current, patch)

	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET name = $1, people = $2, start_at = $3, end_at = $4, status = $5, version = version + 1, updated_at = $6
		WHERE id = $7 AND tenant_id = $8 AND version = $9
	`, current.Name, current.People, current.StartAt, current.EndAt, current.Status, now, id, tenantID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrVersionConflict
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	current.Version = expectedVersion + 1
	current.UpdatedAt = now
	return current, nil
}

func (r *PostgresBookingRepo) Cancel(ctx context.Context, tenantID, id string, now time.Time) (*models.Booking, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE bookings SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4
		RETURNING `+bookingColumns, models.BookingCancelled, now, id, tenantID)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	if err := row.Scan(&b.ID, &b.TenantID, &b.UserPhone, &b.Name, &b.People, &b.StartAt, &b.EndAt, &b.Status, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]models.Booking, error) {
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

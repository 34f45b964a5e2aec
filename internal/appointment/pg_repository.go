package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanBarber(row pgx.Row) (*Barber, error) {
	var b Barber
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.Phone,
		&b.WorkingHours.Start,
		&b.WorkingHours.End,
		&b.DaysOff,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	if err := row.Scan(&s.ID, &s.Name, &s.Price, &s.Duration); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.ClientID,
		&a.ClientName,
		&a.BarberID,
		&a.BarberName,
		&a.Date,
		&a.Time,
		&a.Phone,
		&a.Status,
		&a.Services,
		&a.TotalPrice,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// getOne runs a single-row query and maps pgx.ErrNoRows to ErrNotFound.
func getOne[T any](ctx context.Context, pool *pgxpool.Pool, scan func(pgx.Row) (*T, error), kind, id, query string) (*T, error) {
	v, err := scan(pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(kind, id)
		}
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	return v, nil
}

func listAll[T any](ctx context.Context, pool *pgxpool.Pool, scan func(pgx.Row) (*T, error), kind, query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) deleteByID(ctx context.Context, kind, query, id string) error {
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(kind, id)
	}
	return nil
}

// Interface methods

func (r *PgRepository) ListBarbers(ctx context.Context) ([]Barber, error) {
	return listAll(ctx, r.pool, scanBarber, "barbers", `
		SELECT id, name, phone, work_start, work_end, days_off
		FROM barbers
		ORDER BY id
	`)
}

func (r *PgRepository) GetBarber(ctx context.Context, id string) (*Barber, error) {
	return getOne(ctx, r.pool, scanBarber, "barber", id, `
		SELECT id, name, phone, work_start, work_end, days_off
		FROM barbers
		WHERE id = $1
	`)
}

func (r *PgRepository) PutBarber(ctx context.Context, b Barber) error {
	daysOff := b.DaysOff
	if daysOff == nil {
		daysOff = []int{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO barbers (id, name, phone, work_start, work_end, days_off, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    work_start = EXCLUDED.work_start,
		    work_end = EXCLUDED.work_end,
		    days_off = EXCLUDED.days_off,
		    updated_at = now()
	`, b.ID, b.Name, b.Phone, b.WorkingHours.Start, b.WorkingHours.End, daysOff)
	if err != nil {
		return fmt.Errorf("put barber: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteBarber(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "barber", `DELETE FROM barbers WHERE id = $1`, id)
}

func (r *PgRepository) ListClients(ctx context.Context) ([]Client, error) {
	return listAll(ctx, r.pool, scanClient, "clients", `
		SELECT id, name, phone, email
		FROM clients
		ORDER BY id
	`)
}

func (r *PgRepository) GetClient(ctx context.Context, id string) (*Client, error) {
	return getOne(ctx, r.pool, scanClient, "client", id, `
		SELECT id, name, phone, email
		FROM clients
		WHERE id = $1
	`)
}

func (r *PgRepository) PutClient(ctx context.Context, c Client) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clients (id, name, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    phone = EXCLUDED.phone,
		    email = EXCLUDED.email,
		    updated_at = now()
	`, c.ID, c.Name, c.Phone, c.Email)
	if err != nil {
		return fmt.Errorf("put client: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteClient(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "client", `DELETE FROM clients WHERE id = $1`, id)
}

func (r *PgRepository) ListServices(ctx context.Context) ([]Service, error) {
	return listAll(ctx, r.pool, scanService, "services", `
		SELECT id, name, price, duration
		FROM services
		ORDER BY id
	`)
}

func (r *PgRepository) GetService(ctx context.Context, id string) (*Service, error) {
	return getOne(ctx, r.pool, scanService, "service", id, `
		SELECT id, name, price, duration
		FROM services
		WHERE id = $1
	`)
}

func (r *PgRepository) PutService(ctx context.Context, s Service) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, name, price, duration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    duration = EXCLUDED.duration,
		    updated_at = now()
	`, s.ID, s.Name, s.Price, s.Duration)
	if err != nil {
		return fmt.Errorf("put service: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteService(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "service", `DELETE FROM services WHERE id = $1`, id)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	return listAll(ctx, r.pool, scanAppointment, "appointments", `
		SELECT id, client_id, client_name, barber_id, barber_name, appt_date, appt_time,
		       phone, status, services, total_price, created_at, updated_at
		FROM appointments
		WHERE ($1::text = '' OR barber_id = $1)
		  AND ($2::text = '' OR appt_date = $2)
		  AND ($3::text = '' OR status = $3)
		ORDER BY appt_date, appt_time, id
	`, f.BarberID, f.Date, string(f.Status))
}

func (r *PgRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	return getOne(ctx, r.pool, scanAppointment, "appointment", id, `
		SELECT id, client_id, client_name, barber_id, barber_name, appt_date, appt_time,
		       phone, status, services, total_price, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`)
}

func (r *PgRepository) PutAppointment(ctx context.Context, a Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (id, client_id, client_name, barber_id, barber_name, appt_date,
		                          appt_time, phone, status, services, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at
	`, a.ID, a.ClientID, a.ClientName, a.BarberID, a.BarberName, a.Date, a.Time,
		a.Phone, string(a.Status), a.Services, a.TotalPrice, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("put appointment: %w", ErrSlotConflict)
		}
		return fmt.Errorf("put appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

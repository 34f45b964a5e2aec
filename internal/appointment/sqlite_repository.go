package appointment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// SQLiteRepository stores collections in SQLite. Queries are built with
// squirrel and scanned through sqlx struct tags.
type SQLiteRepository struct {
	db *sqlx.DB
}

func NewSQLiteRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type barberRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Phone     string `db:"phone"`
	WorkStart string `db:"work_start"`
	WorkEnd   string `db:"work_end"`
	DaysOff   string `db:"days_off"`
}

func (r barberRow) barber() (Barber, error) {
	b := Barber{
		ID:           r.ID,
		Name:         r.Name,
		Phone:        r.Phone,
		WorkingHours: WorkingHours{Start: r.WorkStart, End: r.WorkEnd},
	}
	if err := json.Unmarshal([]byte(r.DaysOff), &b.DaysOff); err != nil {
		return Barber{}, fmt.Errorf("decode days_off for barber %s: %w", r.ID, err)
	}
	return b, nil
}

type appointmentRow struct {
	ID         string    `db:"id"`
	ClientID   string    `db:"client_id"`
	ClientName string    `db:"client_name"`
	BarberID   string    `db:"barber_id"`
	BarberName string    `db:"barber_name"`
	Date       string    `db:"appt_date"`
	Time       string    `db:"appt_time"`
	Phone      string    `db:"phone"`
	Status     string    `db:"status"`
	Services   string    `db:"services"`
	TotalPrice float64   `db:"total_price"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r appointmentRow) appointment() (Appointment, error) {
	a := Appointment{
		ID:         r.ID,
		ClientID:   r.ClientID,
		ClientName: r.ClientName,
		BarberID:   r.BarberID,
		BarberName: r.BarberName,
		Date:       r.Date,
		Time:       r.Time,
		Phone:      r.Phone,
		Status:     Status(r.Status),
		TotalPrice: r.TotalPrice,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Services), &a.Services); err != nil {
		return Appointment{}, fmt.Errorf("decode services for appointment %s: %w", r.ID, err)
	}
	return a, nil
}

var (
	barberColumns      = []string{"id", "name", "phone", "work_start", "work_end", "days_off"}
	clientColumns      = []string{"id", "name", "phone", "email"}
	serviceColumns     = []string{"id", "name", "price", "duration"}
	appointmentColumns = []string{
		"id", "client_id", "client_name", "barber_id", "barber_name", "appt_date",
		"appt_time", "phone", "status", "services", "total_price", "created_at", "updated_at",
	}
)

func (r *SQLiteRepository) get(ctx context.Context, dest any, kind, table string, cols []string, id string) error {
	query, args, err := sq.Select(cols...).From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	if err := r.db.GetContext(ctx, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(kind, id)
		}
		return fmt.Errorf("get %s: %w", kind, err)
	}
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, dest any, table string, cols []string) error {
	query, args, err := sq.Select(cols...).From(table).OrderBy("id").ToSql()
	if err != nil {
		return err
	}
	return r.db.SelectContext(ctx, dest, query, args...)
}

func (r *SQLiteRepository) upsert(ctx context.Context, table string, cols []string, values ...any) error {
	suffix := "ON CONFLICT(id) DO UPDATE SET "
	for i, c := range cols[1:] {
		if i > 0 {
			suffix += ", "
		}
		suffix += c + " = excluded." + c
	}

	query, args, err := sq.Insert(table).Columns(cols...).Values(values...).Suffix(suffix).ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("upsert %s: %w", table, ErrSlotConflict)
		}
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

func (r *SQLiteRepository) delete(ctx context.Context, kind, table, id string) error {
	query, args, err := sq.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func (r *SQLiteRepository) ListBarbers(ctx context.Context) ([]Barber, error) {
	var rows []barberRow
	if err := r.list(ctx, &rows, "barbers", barberColumns); err != nil {
		return nil, fmt.Errorf("list barbers: %w", err)
	}
	out := make([]Barber, 0, len(rows))
	for _, row := range rows {
		b, err := row.barber()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *SQLiteRepository) GetBarber(ctx context.Context, id string) (*Barber, error) {
	var row barberRow
	if err := r.get(ctx, &row, "barber", "barbers", barberColumns, id); err != nil {
		return nil, err
	}
	b, err := row.barber()
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *SQLiteRepository) PutBarber(ctx context.Context, b Barber) error {
	daysOff := b.DaysOff
	if daysOff == nil {
		daysOff = []int{}
	}
	raw, err := json.Marshal(daysOff)
	if err != nil {
		return err
	}
	return r.upsert(ctx, "barbers", barberColumns,
		b.ID, b.Name, b.Phone, b.WorkingHours.Start, b.WorkingHours.End, string(raw))
}

func (r *SQLiteRepository) DeleteBarber(ctx context.Context, id string) error {
	return r.delete(ctx, "barber", "barbers", id)
}

func (r *SQLiteRepository) ListClients(ctx context.Context) ([]Client, error) {
	var out []Client
	if err := r.list(ctx, &out, "clients", clientColumns); err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetClient(ctx context.Context, id string) (*Client, error) {
	var c Client
	if err := r.get(ctx, &c, "client", "clients", clientColumns, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *SQLiteRepository) PutClient(ctx context.Context, c Client) error {
	return r.upsert(ctx, "clients", clientColumns, c.ID, c.Name, c.Phone, c.Email)
}

func (r *SQLiteRepository) DeleteClient(ctx context.Context, id string) error {
	return r.delete(ctx, "client", "clients", id)
}

func (r *SQLiteRepository) ListServices(ctx context.Context) ([]Service, error) {
	var out []Service
	if err := r.list(ctx, &out, "services", serviceColumns); err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetService(ctx context.Context, id string) (*Service, error) {
	var s Service
	if err := r.get(ctx, &s, "service", "services", serviceColumns, id); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SQLiteRepository) PutService(ctx context.Context, s Service) error {
	return r.upsert(ctx, "services", serviceColumns, s.ID, s.Name, s.Price, s.Duration)
}

func (r *SQLiteRepository) DeleteService(ctx context.Context, id string) error {
	return r.delete(ctx, "service", "services", id)
}

func (r *SQLiteRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	b := sq.Select(appointmentColumns...).From("appointments").OrderBy("appt_date", "appt_time", "id")
	if f.BarberID != "" {
		b = b.Where(sq.Eq{"barber_id": f.BarberID})
	}
	if f.Date != "" {
		b = b.Where(sq.Eq{"appt_date": f.Date})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []appointmentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	out := make([]Appointment, 0, len(rows))
	for _, row := range rows {
		a, err := row.appointment()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *SQLiteRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	var row appointmentRow
	if err := r.get(ctx, &row, "appointment", "appointments", appointmentColumns, id); err != nil {
		return nil, err
	}
	a, err := row.appointment()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLiteRepository) PutAppointment(ctx context.Context, a Appointment) error {
	raw, err := json.Marshal(a.Services)
	if err != nil {
		return err
	}
	return r.upsert(ctx, "appointments", appointmentColumns,
		a.ID, a.ClientID, a.ClientName, a.BarberID, a.BarberName, a.Date, a.Time,
		a.Phone, string(a.Status), string(raw), a.TotalPrice, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

package appointment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/barbershop-scheduling/internal/availability"
	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
	"github.com/hackgods/barbershop-scheduling/internal/metrics"
	redisclient "github.com/hackgods/barbershop-scheduling/internal/redis"
	"github.com/hackgods/barbershop-scheduling/internal/reminder"
)

// Reminders is the part of the reminder scheduler the engine drives.
type Reminders interface {
	Arm(job reminder.Job)
	Disarm(id string) bool
	FireAt(job reminder.Job) time.Time
}

// ProtectedFunc reports whether an entity is excluded from removal.
type ProtectedFunc func(kind broadcast.Kind, id string) bool

type Options struct {
	Location  *time.Location
	Now       func() time.Time
	Locker    redisclient.Locker
	Protected ProtectedFunc
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Engine is the single writer over the store. Every mutation runs under mu,
// which gives all accepted mutations one global order; the bus sees them in
// that order.
type Engine struct {
	mu sync.Mutex

	repo      Repository
	bus       *broadcast.Bus
	reminders Reminders
	locker    redisclient.Locker
	protected ProtectedFunc
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

func NewEngine(repo Repository, bus *broadcast.Bus, reminders Reminders, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Locker == nil {
		opts.Locker = redisclient.LocalLocker{}
	}
	if opts.Protected == nil {
		opts.Protected = func(broadcast.Kind, string) bool { return false }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewUnregistered()
	}
	return &Engine{
		repo:      repo,
		bus:       bus,
		reminders: reminders,
		locker:    opts.Locker,
		protected: opts.Protected,
		loc:       opts.Location,
		now:       opts.Now,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("appointment"),
	}
}

type originKey struct{}

// WithOrigin tags ctx with the request id of the mutation it carries. The id
// is echoed on the broadcast event.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func OriginFrom(ctx context.Context) string {
	v, _ := ctx.Value(originKey{}).(string)
	return v
}

// CreateAppointment books c. The slot is checked against the barber's
// schedule and the server clock, then against every non-cancelled
// appointment of the barber at the same date and time.
func (s *Engine) CreateAppointment(ctx context.Context, c Candidate) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.create", trace.WithAttributes(
		attribute.String("barber_id", c.BarberID),
		attribute.String("date", c.Date),
		attribute.String("time", c.Time),
	))
	defer func() { s.finish(span, "create_appointment", err) }()

	if err := validateCandidate(c); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	barber, err := s.repo.GetBarber(ctx, c.BarberID)
	if err != nil {
		return nil, storeErr("load barber", err)
	}
	sched, err := barber.Schedule()
	if err != nil {
		return nil, fmt.Errorf("%w: barber %s schedule: %w", ErrInvalidSlot, barber.ID, err)
	}

	day, err := availability.ParseDate(c.Date, s.loc)
	if err != nil {
		return nil, invalid("%v", err)
	}
	at, err := availability.ParseTimeOfDay(c.Time)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if err := availability.ValidateSlot(sched, day, at, s.now()); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrInvalidSlot, c.Date, at, err)
	}

	total := decimal.Zero
	for _, id := range c.Services {
		svc, err := s.repo.GetService(ctx, id)
		if err != nil {
			return nil, storeErr("load service", err)
		}
		total = total.Add(decimal.NewFromFloat(svc.Price))
	}

	clientName, phone := c.ClientName, c.Phone
	if c.ClientID != "" {
		client, err := s.repo.GetClient(ctx, c.ClientID)
		if err != nil {
			return nil, storeErr("load client", err)
		}
		clientName = client.Name
		if phone == "" {
			phone = client.Phone
		}
	}
	if phone == "" {
		return nil, invalid("phone is required")
	}

	now := s.now()
	a := Appointment{
		ID:         uuid.NewString(),
		ClientID:   c.ClientID,
		ClientName: clientName,
		BarberID:   barber.ID,
		BarberName: barber.Name,
		Date:       c.Date,
		Time:       at.String(),
		Phone:      phone,
		Status:     StatusScheduled,
		Services:   slices.Clone(c.Services),
		TotalPrice: total.Round(2).InexactFloat64(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	key := redisclient.SlotKey(a.BarberID, a.Date, a.Time)
	err = s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		existing, err := s.repo.ListAppointments(lockCtx, AppointmentFilter{BarberID: a.BarberID, Date: a.Date})
		if err != nil {
			return storeErr("list appointments", err)
		}
		if slices.Contains(BookedTimes(existing, a.BarberID, a.Date), at) {
			return fmt.Errorf("%w: barber %s at %s %s", ErrSlotConflict, a.BarberID, a.Date, a.Time)
		}
		if err := s.repo.PutAppointment(lockCtx, a); err != nil {
			return storeErr("put appointment", err)
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			return nil, fmt.Errorf("%w: %w", ErrSlotConflict, err)
		case errors.Is(err, ErrSlotConflict), errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrNotFound):
			return nil, err
		default:
			return nil, storeErr("slot lock", err)
		}
	}

	s.reminders.Arm(reminder.Job{AppointmentID: a.ID, Phone: a.Phone, At: at.On(day)})
	s.publish(ctx, broadcast.KindAppointment, broadcast.OpCreated, a.ID, a)
	s.metrics.AppointmentsCreated.Inc()

	s.logger.Info("appointment created",
		"appointment_id", a.ID,
		"barber_id", a.BarberID,
		"date", a.Date,
		"time", a.Time,
	)
	return &a, nil
}

func validateCandidate(c Candidate) error {
	if c.BarberID == "" {
		return invalid("barberId is required")
	}
	if c.ClientID == "" && c.ClientName == "" {
		return invalid("clientId or clientName is required")
	}
	if c.Date == "" || c.Time == "" {
		return invalid("date and time are required")
	}
	if len(c.Services) == 0 {
		return invalid("at least one service is required")
	}
	seen := make(map[string]struct{}, len(c.Services))
	for _, id := range c.Services {
		if _, dup := seen[id]; dup {
			return invalid("service %q listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Transition moves a scheduled appointment to completed or cancelled. Both
// targets are terminal.
func (s *Engine) Transition(ctx context.Context, id string, to Status) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "appointment.transition", trace.WithAttributes(
		attribute.String("appointment_id", id),
		attribute.String("to", string(to)),
	))
	defer func() { s.finish(span, "transition", err) }()

	if to != StatusCompleted && to != StatusCancelled {
		return nil, fmt.Errorf("%w: target %q", ErrInvalidTransition, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, storeErr("load appointment", err)
	}
	if cur.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}

	disarmed := s.reminders.Disarm(id)

	next := *cur
	next.Status = to
	next.UpdatedAt = s.now()
	if err := s.repo.PutAppointment(ctx, next); err != nil {
		if disarmed {
			s.rearm(*cur)
		}
		return nil, storeErr("put appointment", err)
	}

	s.publish(ctx, broadcast.KindAppointment, broadcast.OpUpdated, next.ID, next)
	s.metrics.Transitions.WithLabelValues(string(to)).Inc()

	s.logger.Info("appointment status changed",
		"appointment_id", next.ID,
		"from", cur.Status,
		"to", to,
	)
	return &next, nil
}

func (s *Engine) Complete(ctx context.Context, id string) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCompleted)
}

func (s *Engine) Cancel(ctx context.Context, id string) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCancelled)
}

func (s *Engine) rearm(a Appointment) {
	start, err := a.Start(s.loc)
	if err != nil {
		s.logger.Error("re-arm reminder", "appointment_id", a.ID, "err", err)
		return
	}
	s.reminders.Arm(reminder.Job{AppointmentID: a.ID, Phone: a.Phone, At: start})
}

func (s *Engine) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, storeErr("get appointment", err)
	}
	return a, nil
}

func (s *Engine) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	appts, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, storeErr("list appointments", err)
	}
	return appts, nil
}

// Slots lists the open slot starts of barberID on date.
func (s *Engine) Slots(ctx context.Context, barberID, date string) ([]availability.TimeOfDay, error) {
	barber, err := s.repo.GetBarber(ctx, barberID)
	if err != nil {
		return nil, storeErr("load barber", err)
	}
	sched, err := barber.Schedule()
	if err != nil {
		return nil, invalid("barber %s schedule: %v", barberID, err)
	}
	day, err := availability.ParseDate(date, s.loc)
	if err != nil {
		return nil, invalid("%v", err)
	}
	appts, err := s.repo.ListAppointments(ctx, AppointmentFilter{BarberID: barberID, Date: date})
	if err != nil {
		return nil, storeErr("list appointments", err)
	}
	return availability.ComputeSlots(sched, BookedTimes(appts, barberID, date), day, s.now().In(s.loc)), nil
}

// NextSlot finds the first open slot of barberID within the default
// lookahead. availability.ErrNoSlotFound is returned as is.
func (s *Engine) NextSlot(ctx context.Context, barberID string) (availability.Slot, error) {
	barber, err := s.repo.GetBarber(ctx, barberID)
	if err != nil {
		return availability.Slot{}, storeErr("load barber", err)
	}
	sched, err := barber.Schedule()
	if err != nil {
		return availability.Slot{}, invalid("barber %s schedule: %v", barberID, err)
	}
	appts, err := s.repo.ListAppointments(ctx, AppointmentFilter{BarberID: barberID})
	if err != nil {
		return availability.Slot{}, storeErr("list appointments", err)
	}
	bookedOn := func(day time.Time) []availability.TimeOfDay {
		return BookedTimes(appts, barberID, day.Format(availability.DateFormat))
	}
	return availability.NextAvailable(sched, bookedOn, s.now().In(s.loc), availability.DefaultHorizonDays)
}

func (s *Engine) publish(ctx context.Context, kind broadcast.Kind, op broadcast.Op, id string, payload any) {
	if _, err := s.bus.Publish(kind, op, id, OriginFrom(ctx), payload); err != nil {
		s.logger.Error("publish event", "kind", kind, "op", op, "id", id, "err", err)
	}
}

func (s *Engine) finish(span trace.Span, op string, err error) {
	if err != nil {
		code := Code(err)
		s.metrics.Rejected.WithLabelValues(code).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		s.logger.Info("mutation rejected", "op", op, "code", code, "err", err)
	}
	span.End()
}

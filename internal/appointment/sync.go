package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
	"github.com/hackgods/barbershop-scheduling/internal/config"
	"github.com/hackgods/barbershop-scheduling/internal/reminder"
)

// Snapshot copies every collection at the current bus position.
func (s *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(ctx)
}

func (s *Engine) snapshotLocked(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Epoch: s.bus.Epoch(), Seq: s.bus.Seq()}

	var err error
	if snap.Appointments, err = s.repo.ListAppointments(ctx, AppointmentFilter{}); err != nil {
		return nil, storeErr("snapshot appointments", err)
	}
	if snap.Barbers, err = s.repo.ListBarbers(ctx); err != nil {
		return nil, storeErr("snapshot barbers", err)
	}
	if snap.Clients, err = s.repo.ListClients(ctx); err != nil {
		return nil, storeErr("snapshot clients", err)
	}
	if snap.Services, err = s.repo.ListServices(ctx); err != nil {
		return nil, storeErr("snapshot services", err)
	}
	return snap, nil
}

// Subscribe returns a snapshot and a subscription starting right after it.
// No mutation can land between the two.
func (s *Engine) Subscribe(ctx context.Context) (*Snapshot, *broadcast.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.snapshotLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.bus.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	return snap, sub, nil
}

// Resume replays the buffered events after seq `after` of epoch. When the
// history no longer reaches back that far it falls back to Subscribe and the
// returned snapshot is non-nil.
func (s *Engine) Resume(ctx context.Context, epoch string, after uint64) (*Snapshot, *broadcast.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok, err := s.bus.SubscribeFrom(epoch, after)
	if err != nil {
		return nil, nil, fmt.Errorf("resume: %w", err)
	}
	if ok {
		return nil, sub, nil
	}

	snap, err := s.snapshotLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	sub, err = s.bus.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}
	return snap, sub, nil
}

// Bootstrap writes the seed entities that are not in the store yet. Existing
// records are left as they are, so edits survive restarts.
func (s *Engine) Bootstrap(ctx context.Context, seed config.Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sb := range seed.Barbers {
		b := Barber{
			ID:           sb.ID,
			Name:         sb.Name,
			Phone:        sb.Phone,
			WorkingHours: WorkingHours{Start: sb.WorkStart, End: sb.WorkEnd},
			DaysOff:      sb.DaysOff,
		}
		if _, err := b.Schedule(); err != nil {
			return fmt.Errorf("seed barber %s: %w", sb.ID, err)
		}
		if err := putIfAbsent(ctx, s.repo.GetBarber, s.repo.PutBarber, b.ID, b); err != nil {
			return storeErr("seed barber", err)
		}
	}
	for _, sc := range seed.Clients {
		c := Client{ID: sc.ID, Name: sc.Name, Phone: sc.Phone, Email: sc.Email}
		if err := putIfAbsent(ctx, s.repo.GetClient, s.repo.PutClient, c.ID, c); err != nil {
			return storeErr("seed client", err)
		}
	}
	for _, ss := range seed.Services {
		svc := Service{ID: ss.ID, Name: ss.Name, Price: ss.Price, Duration: ss.Duration}
		if err := validateService(svc); err != nil {
			return fmt.Errorf("seed service %s: %w", ss.ID, err)
		}
		if err := putIfAbsent(ctx, s.repo.GetService, s.repo.PutService, svc.ID, svc); err != nil {
			return storeErr("seed service", err)
		}
	}
	return nil
}

func putIfAbsent[T any](ctx context.Context, get func(context.Context, string) (*T, error), put func(context.Context, T) error, id string, v T) error {
	_, err := get(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return put(ctx, v)
}

// ProtectedFromSeed builds the protected-id predicate from the entities the
// seed marks as protected.
func ProtectedFromSeed(seed config.Seed) ProtectedIDs {
	p := ProtectedIDs{}
	for _, b := range seed.Barbers {
		if b.Protected {
			p.add(broadcast.KindBarber, b.ID)
		}
	}
	for _, c := range seed.Clients {
		if c.Protected {
			p.add(broadcast.KindClient, c.ID)
		}
	}
	for _, svc := range seed.Services {
		if svc.Protected {
			p.add(broadcast.KindService, svc.ID)
		}
	}
	return p
}

// Rehydrate arms a reminder for every scheduled appointment whose reminder
// is still due. It is called once at start so timers survive a restart. A
// fire time already reached is skipped: that reminder may have gone out
// before the restart, and a missed reminder beats a duplicate.
func (s *Engine) Rehydrate(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheduled, err := s.repo.ListAppointments(ctx, AppointmentFilter{Status: StatusScheduled})
	if err != nil {
		return 0, storeErr("list appointments", err)
	}

	now := s.now()
	armed := 0
	for _, a := range scheduled {
		start, err := a.Start(s.loc)
		if err != nil {
			s.logger.Warn("skip reminder for unparsable appointment", "appointment_id", a.ID, "err", err)
			continue
		}
		job := reminder.Job{AppointmentID: a.ID, Phone: a.Phone, At: start}
		if !s.reminders.FireAt(job).After(now) {
			continue
		}
		s.reminders.Arm(job)
		armed++
	}
	return armed, nil
}

// Ping checks the store.
func (s *Engine) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
)

// AddBarber creates a barber, or updates the schedule of an existing one.
// Name and phone of an existing barber are never changed.
func (s *Engine) AddBarber(ctx context.Context, b Barber) (out *Barber, err error) {
	ctx, span := s.tracer.Start(ctx, "barber.add")
	defer func() { s.finish(span, "add_barber", err) }()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if _, err := b.Schedule(); err != nil {
		return nil, invalid("barber schedule: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op := broadcast.OpCreated
	existing, err := s.repo.GetBarber(ctx, b.ID)
	switch {
	case err == nil:
		op = broadcast.OpUpdated
		b.Name = existing.Name
		b.Phone = existing.Phone
	case errors.Is(err, ErrNotFound):
		if strings.TrimSpace(b.Name) == "" {
			return nil, invalid("barber name is required")
		}
	default:
		return nil, storeErr("load barber", err)
	}

	if err := s.repo.PutBarber(ctx, b); err != nil {
		return nil, storeErr("put barber", err)
	}
	s.publish(ctx, broadcast.KindBarber, op, b.ID, b)
	return &b, nil
}

// RemoveBarber deletes a barber that has no scheduled appointment still to
// come. Past scheduled appointments do not block removal.
func (s *Engine) RemoveBarber(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "barber.remove")
	defer func() { s.finish(span, "remove_barber", err) }()

	if s.protected(broadcast.KindBarber, id) {
		return fmt.Errorf("barber %q: %w", id, ErrProtected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.GetBarber(ctx, id); err != nil {
		return storeErr("load barber", err)
	}

	scheduled, err := s.repo.ListAppointments(ctx, AppointmentFilter{BarberID: id, Status: StatusScheduled})
	if err != nil {
		return storeErr("list appointments", err)
	}
	now := s.now()
	for _, a := range scheduled {
		start, err := a.Start(s.loc)
		if err != nil {
			continue
		}
		if !start.Before(now) {
			return fmt.Errorf("barber %q: %w", id, ErrBarberBusy)
		}
	}

	if err := s.repo.DeleteBarber(ctx, id); err != nil {
		return storeErr("delete barber", err)
	}
	s.publish(ctx, broadcast.KindBarber, broadcast.OpDeleted, id, idPayload{ID: id})
	return nil
}

func (s *Engine) ListBarbers(ctx context.Context) ([]Barber, error) {
	out, err := s.repo.ListBarbers(ctx)
	if err != nil {
		return nil, storeErr("list barbers", err)
	}
	return out, nil
}

func (s *Engine) AddClient(ctx context.Context, c Client) (out *Client, err error) {
	ctx, span := s.tracer.Start(ctx, "client.add")
	defer func() { s.finish(span, "add_client", err) }()

	if strings.TrimSpace(c.Name) == "" {
		return nil, invalid("client name is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op, err := s.upsertOp(ctx, func(ctx context.Context) error {
		_, err := s.repo.GetClient(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, storeErr("load client", err)
	}
	if err := s.repo.PutClient(ctx, c); err != nil {
		return nil, storeErr("put client", err)
	}
	s.publish(ctx, broadcast.KindClient, op, c.ID, c)
	return &c, nil
}

func (s *Engine) RemoveClient(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "client.remove")
	defer func() { s.finish(span, "remove_client", err) }()

	if s.protected(broadcast.KindClient, id) {
		return fmt.Errorf("client %q: %w", id, ErrProtected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.DeleteClient(ctx, id); err != nil {
		return storeErr("delete client", err)
	}
	s.publish(ctx, broadcast.KindClient, broadcast.OpDeleted, id, idPayload{ID: id})
	return nil
}

func (s *Engine) ListClients(ctx context.Context) ([]Client, error) {
	out, err := s.repo.ListClients(ctx)
	if err != nil {
		return nil, storeErr("list clients", err)
	}
	return out, nil
}

// AddService upserts a service. Prices already copied into appointments are
// not touched.
func (s *Engine) AddService(ctx context.Context, svc Service) (out *Service, err error) {
	ctx, span := s.tracer.Start(ctx, "service.add")
	defer func() { s.finish(span, "add_service", err) }()

	if err := validateService(svc); err != nil {
		return nil, err
	}
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op, err := s.upsertOp(ctx, func(ctx context.Context) error {
		_, err := s.repo.GetService(ctx, svc.ID)
		return err
	})
	if err != nil {
		return nil, storeErr("load service", err)
	}
	if err := s.repo.PutService(ctx, svc); err != nil {
		return nil, storeErr("put service", err)
	}
	s.publish(ctx, broadcast.KindService, op, svc.ID, svc)
	return &svc, nil
}

// UpdateService replaces an existing service. Unknown ids are NotFound.
func (s *Engine) UpdateService(ctx context.Context, svc Service) (out *Service, err error) {
	ctx, span := s.tracer.Start(ctx, "service.update")
	defer func() { s.finish(span, "update_service", err) }()

	if svc.ID == "" {
		return nil, invalid("service id is required")
	}
	if err := validateService(svc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.GetService(ctx, svc.ID); err != nil {
		return nil, storeErr("load service", err)
	}
	if err := s.repo.PutService(ctx, svc); err != nil {
		return nil, storeErr("put service", err)
	}
	s.publish(ctx, broadcast.KindService, broadcast.OpUpdated, svc.ID, svc)
	return &svc, nil
}

func (s *Engine) RemoveService(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "service.remove")
	defer func() { s.finish(span, "remove_service", err) }()

	if s.protected(broadcast.KindService, id) {
		return fmt.Errorf("service %q: %w", id, ErrProtected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.DeleteService(ctx, id); err != nil {
		return storeErr("delete service", err)
	}
	s.publish(ctx, broadcast.KindService, broadcast.OpDeleted, id, idPayload{ID: id})
	return nil
}

func (s *Engine) ListServices(ctx context.Context) ([]Service, error) {
	out, err := s.repo.ListServices(ctx)
	if err != nil {
		return nil, storeErr("list services", err)
	}
	return out, nil
}

func validateService(svc Service) error {
	if strings.TrimSpace(svc.Name) == "" {
		return invalid("service name is required")
	}
	if svc.Price < 0 {
		return invalid("service price must not be negative")
	}
	if svc.Duration <= 0 {
		return invalid("service duration must be positive")
	}
	return nil
}

// upsertOp picks created or updated depending on whether get finds the id.
func (s *Engine) upsertOp(ctx context.Context, get func(context.Context) error) (broadcast.Op, error) {
	err := get(ctx)
	switch {
	case err == nil:
		return broadcast.OpUpdated, nil
	case errors.Is(err, ErrNotFound):
		return broadcast.OpCreated, nil
	default:
		return "", err
	}
}

// idPayload is the body of a deleted event.
type idPayload struct {
	ID string `json:"id"`
}

// ProtectedIDs is a fixed protected-id predicate.
type ProtectedIDs map[broadcast.Kind]map[string]bool

func (p ProtectedIDs) Protected(kind broadcast.Kind, id string) bool {
	return p[kind][id]
}

func (p ProtectedIDs) add(kind broadcast.Kind, id string) {
	if p[kind] == nil {
		p[kind] = make(map[string]bool)
	}
	p[kind][id] = true
}

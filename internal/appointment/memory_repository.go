package appointment

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryRepository keeps every collection in maps. Values are copied on the
// way in and out so callers never share state with the store.
type MemoryRepository struct {
	mu           sync.RWMutex
	barbers      map[string]Barber
	clients      map[string]Client
	services     map[string]Service
	appointments map[string]Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		barbers:      make(map[string]Barber),
		clients:      make(map[string]Client),
		services:     make(map[string]Service),
		appointments: make(map[string]Appointment),
	}
}

func sortedValues[T any](m map[string]T, clone func(T) T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(m[k]))
	}
	return out
}

func cloneBarber(b Barber) Barber {
	b.DaysOff = slices.Clone(b.DaysOff)
	return b
}

func cloneAppointment(a Appointment) Appointment {
	a.Services = slices.Clone(a.Services)
	return a
}

func same[T any](v T) T { return v }

func (r *MemoryRepository) ListBarbers(context.Context) ([]Barber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedValues(r.barbers, cloneBarber), nil
}

func (r *MemoryRepository) GetBarber(_ context.Context, id string) (*Barber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.barbers[id]
	if !ok {
		return nil, notFound("barber", id)
	}
	b = cloneBarber(b)
	return &b, nil
}

func (r *MemoryRepository) PutBarber(_ context.Context, b Barber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.barbers[b.ID] = cloneBarber(b)
	return nil
}

func (r *MemoryRepository) DeleteBarber(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.barbers[id]; !ok {
		return notFound("barber", id)
	}
	delete(r.barbers, id)
	return nil
}

func (r *MemoryRepository) ListClients(context.Context) ([]Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedValues(r.clients, same[Client]), nil
}

func (r *MemoryRepository) GetClient(_ context.Context, id string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, notFound("client", id)
	}
	return &c, nil
}

func (r *MemoryRepository) PutClient(_ context.Context, c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
	return nil
}

func (r *MemoryRepository) DeleteClient(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return notFound("client", id)
	}
	delete(r.clients, id)
	return nil
}

func (r *MemoryRepository) ListServices(context.Context) ([]Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedValues(r.services, same[Service]), nil
}

func (r *MemoryRepository) GetService(_ context.Context, id string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	if !ok {
		return nil, notFound("service", id)
	}
	return &s, nil
}

func (r *MemoryRepository) PutService(_ context.Context, s Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s
	return nil
}

func (r *MemoryRepository) DeleteService(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[id]; !ok {
		return notFound("service", id)
	}
	delete(r.services, id)
	return nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if f.match(a) {
			out = append(out, cloneAppointment(a))
		}
	}
	SortAppointments(out)
	return out, nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, notFound("appointment", id)
	}
	a = cloneAppointment(a)
	return &a, nil
}

func (r *MemoryRepository) PutAppointment(_ context.Context, a Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments[a.ID] = cloneAppointment(a)
	return nil
}

func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

// SortAppointments orders by date, time, then id.
func SortAppointments(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.ID < b.ID
	})
}

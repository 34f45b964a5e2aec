// Package observer keeps a local copy of the engine state fed by the
// websocket stream, plus the client that drives it.
package observer

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
)

// Item is one row of the appointment view. Provisional rows are local
// bookings the engine has not answered yet.
type Item struct {
	appointment.Appointment
	RequestID   string `json:"requestId,omitempty"`
	Provisional bool   `json:"provisional,omitempty"`
}

// Replica applies events keyed by entity id, so replaying an event it has
// already seen changes nothing.
type Replica struct {
	mu    sync.RWMutex
	epoch string
	seq   uint64

	appointments map[string]appointment.Appointment
	barbers      map[string]appointment.Barber
	clients      map[string]appointment.Client
	services     map[string]appointment.Service
	provisional  map[string]appointment.Appointment
}

func NewReplica() *Replica {
	r := &Replica{provisional: make(map[string]appointment.Appointment)}
	r.reset()
	return r
}

func (r *Replica) reset() {
	r.appointments = make(map[string]appointment.Appointment)
	r.barbers = make(map[string]appointment.Barber)
	r.clients = make(map[string]appointment.Client)
	r.services = make(map[string]appointment.Service)
}

// Load replaces the replicated state with snap. Provisional entries are kept.
func (r *Replica) Load(snap appointment.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reset()
	for _, a := range snap.Appointments {
		r.appointments[a.ID] = a
	}
	for _, b := range snap.Barbers {
		r.barbers[b.ID] = b
	}
	for _, c := range snap.Clients {
		r.clients[c.ID] = c
	}
	for _, s := range snap.Services {
		r.services[s.ID] = s
	}
	r.epoch = snap.Epoch
	r.seq = snap.Seq
}

// Position is the stream point to resume from.
func (r *Replica) Position() (string, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch, r.seq
}

// Apply folds one broadcast message into the replica. It reports false for
// messages that are not broadcasts or that it has already applied.
func (r *Replica) Apply(m broadcast.Message) (bool, error) {
	kind, op, ok := broadcast.ParseEventType(m.Type)
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m.Seq != 0 && m.Seq <= r.seq {
		return false, nil
	}

	if err := r.applyLocked(kind, op, m.Data); err != nil {
		return false, fmt.Errorf("apply %s: %w", m.Type, err)
	}
	if m.Origin != "" {
		delete(r.provisional, m.Origin)
	}
	if m.Seq != 0 {
		r.seq = m.Seq
	}
	return true, nil
}

func (r *Replica) applyLocked(kind broadcast.Kind, op broadcast.Op, data json.RawMessage) error {
	if op == broadcast.OpDeleted {
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		switch kind {
		case broadcast.KindAppointment:
			delete(r.appointments, ref.ID)
		case broadcast.KindBarber:
			delete(r.barbers, ref.ID)
		case broadcast.KindClient:
			delete(r.clients, ref.ID)
		case broadcast.KindService:
			delete(r.services, ref.ID)
		}
		return nil
	}

	switch kind {
	case broadcast.KindAppointment:
		return upsert(r.appointments, data, func(a appointment.Appointment) string { return a.ID })
	case broadcast.KindBarber:
		return upsert(r.barbers, data, func(b appointment.Barber) string { return b.ID })
	case broadcast.KindClient:
		return upsert(r.clients, data, func(c appointment.Client) string { return c.ID })
	case broadcast.KindService:
		return upsert(r.services, data, func(s appointment.Service) string { return s.ID })
	}
	return nil
}

func upsert[T any](m map[string]T, data json.RawMessage, id func(T) string) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m[id(v)] = v
	return nil
}

// AddProvisional shows a booking before the engine has accepted it.
func (r *Replica) AddProvisional(requestID string, c appointment.Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.provisional[requestID] = appointment.Appointment{
		ClientID:   c.ClientID,
		ClientName: c.ClientName,
		BarberID:   c.BarberID,
		Date:       c.Date,
		Time:       c.Time,
		Phone:      c.Phone,
		Status:     appointment.StatusScheduled,
		Services:   c.Services,
	}
}

// Confirm swaps the provisional entry for the accepted appointment.
func (r *Replica) Confirm(requestID string, a appointment.Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.provisional, requestID)
	r.appointments[a.ID] = a
}

// Reject drops a provisional entry the engine refused.
func (r *Replica) Reject(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.provisional, requestID)
}

// Items lists confirmed and provisional appointments by date and time.
func (r *Replica) Items() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Item, 0, len(r.appointments)+len(r.provisional))
	for _, a := range r.appointments {
		out = append(out, Item{Appointment: a})
	}
	for id, a := range r.provisional {
		out = append(out, Item{Appointment: a, RequestID: id, Provisional: true})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.ID+a.RequestID < b.ID+b.RequestID
	})
	return out
}

// Snapshot copies the replicated collections.
func (r *Replica) Snapshot() appointment.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := appointment.Snapshot{Epoch: r.epoch, Seq: r.seq}
	for _, a := range r.appointments {
		snap.Appointments = append(snap.Appointments, a)
	}
	appointment.SortAppointments(snap.Appointments)
	snap.Barbers = sortedByID(r.barbers, func(b appointment.Barber) string { return b.ID })
	snap.Clients = sortedByID(r.clients, func(c appointment.Client) string { return c.ID })
	snap.Services = sortedByID(r.services, func(s appointment.Service) string { return s.ID })
	return snap
}

func sortedByID[T any](m map[string]T, id func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}

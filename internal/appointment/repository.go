package appointment

import (
	"context"
)

// AppointmentFilter narrows ListAppointments. Empty fields match everything.
type AppointmentFilter struct {
	BarberID string
	Date     string
	Status   Status
}

func (f AppointmentFilter) match(a Appointment) bool {
	if f.BarberID != "" && a.BarberID != f.BarberID {
		return false
	}
	if f.Date != "" && a.Date != f.Date {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}

// Repository is the durable keyed store. Get and Delete return ErrNotFound
// for unknown ids; Put is an upsert. Lists are ordered by id, appointments by
// date, time and id.
type Repository interface {
	ListBarbers(ctx context.Context) ([]Barber, error)
	GetBarber(ctx context.Context, id string) (*Barber, error)
	PutBarber(ctx context.Context, b Barber) error
	DeleteBarber(ctx context.Context, id string) error

	ListClients(ctx context.Context) ([]Client, error)
	GetClient(ctx context.Context, id string) (*Client, error)
	PutClient(ctx context.Context, c Client) error
	DeleteClient(ctx context.Context, id string) error

	ListServices(ctx context.Context) ([]Service, error)
	GetService(ctx context.Context, id string) (*Service, error)
	PutService(ctx context.Context, s Service) error
	DeleteService(ctx context.Context, id string) error

	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	PutAppointment(ctx context.Context, a Appointment) error

	Ping(ctx context.Context) error
}

package appointment

import (
	"fmt"
	"time"

	"github.com/hackgods/barbershop-scheduling/internal/availability"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Barber struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Phone        string       `json:"phone"`
	WorkingHours WorkingHours `json:"workingHours"`
	DaysOff      []int        `json:"daysOff"`
}

// Schedule converts the stored working hours into an availability policy.
func (b Barber) Schedule() (availability.Schedule, error) {
	start, err := availability.ParseTimeOfDay(b.WorkingHours.Start)
	if err != nil {
		return availability.Schedule{}, err
	}
	end, err := availability.ParseTimeOfDay(b.WorkingHours.End)
	if err != nil {
		return availability.Schedule{}, err
	}

	s := availability.Schedule{Start: start, End: end}
	for _, d := range b.DaysOff {
		if d < 0 || d > 6 {
			return availability.Schedule{}, fmt.Errorf("day off %d out of range 0..6", d)
		}
		s.DaysOff = append(s.DaysOff, time.Weekday(d))
	}
	if err := s.Validate(); err != nil {
		return availability.Schedule{}, err
	}
	return s, nil
}

type Client struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type Service struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Duration int     `json:"duration"` // minutes
}

// Appointment keeps copies of the client, barber and price data as they were
// at booking time. They are never re-resolved against live records.
type Appointment struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"clientId,omitempty"`
	ClientName string    `json:"clientName"`
	BarberID   string    `json:"barberId"`
	BarberName string    `json:"barberName"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Phone      string    `json:"phone"`
	Status     Status    `json:"status"`
	Services   []string  `json:"services"`
	TotalPrice float64   `json:"totalPrice"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Start is the appointment instant in loc.
func (a Appointment) Start(loc *time.Location) (time.Time, error) {
	day, err := availability.ParseDate(a.Date, loc)
	if err != nil {
		return time.Time{}, err
	}
	at, err := availability.ParseTimeOfDay(a.Time)
	if err != nil {
		return time.Time{}, err
	}
	return at.On(day), nil
}

// Candidate is a booking request. Either ClientID or ClientName must be set.
type Candidate struct {
	BarberID   string   `json:"barberId"`
	ClientID   string   `json:"clientId,omitempty"`
	ClientName string   `json:"clientName,omitempty"`
	Phone      string   `json:"phone,omitempty"`
	Date       string   `json:"date"`
	Time       string   `json:"time"`
	Services   []string `json:"services"`
}

// Snapshot is a consistent copy of every collection at one bus position.
type Snapshot struct {
	Epoch        string        `json:"epoch"`
	Seq          uint64        `json:"seq"`
	Appointments []Appointment `json:"appointments"`
	Barbers      []Barber      `json:"barbers"`
	Clients      []Client      `json:"clients"`
	Services     []Service     `json:"services"`
}

// BookedTimes returns the times held by non-cancelled appointments of
// barberID on date.
func BookedTimes(appts []Appointment, barberID, date string) []availability.TimeOfDay {
	var out []availability.TimeOfDay
	for _, a := range appts {
		if a.BarberID != barberID || a.Date != date || a.Status == StatusCancelled {
			continue
		}
		if t, err := availability.ParseTimeOfDay(a.Time); err == nil {
			out = append(out, t)
		}
	}
	return out
}

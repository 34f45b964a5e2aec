// Package availability computes bookable slots from a weekly working-hours
// policy. Every function here is pure: the reference instant is always an
// explicit argument.
package availability

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateFormat = "2006-01-02"
	TimeFormat = "15:04"

	// SlotMinutes is the fixed slot granularity.
	SlotMinutes = 30

	// DefaultHorizonDays bounds NextAvailable.
	DefaultHorizonDays = 7
)

var (
	ErrNoSlotFound   = errors.New("no slot found within horizon")
	ErrDayOff        = errors.New("day off")
	ErrOutsideHours  = errors.New("outside working hours")
	ErrOffBoundary   = errors.New("not on a slot boundary")
	ErrInPast        = errors.New("slot is in the past")
	ErrInvalidWindow = errors.New("work start must be before work end")
)

// TimeOfDay is minutes since midnight.
type TimeOfDay int

// EndOfDay is "24:00", valid only as a closing time.
const EndOfDay TimeOfDay = 24 * 60

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" {
		return EndOfDay, nil
	}
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// On returns the instant at t on the calendar day of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, day.Location())
}

// Schedule is a barber's weekly working-hours policy.
type Schedule struct {
	Start   TimeOfDay
	End     TimeOfDay
	DaysOff []time.Weekday
}

func (s Schedule) Validate() error {
	if s.Start < 0 || s.End > EndOfDay || s.Start >= s.End {
		return ErrInvalidWindow
	}
	return nil
}

func (s Schedule) IsDayOff(day time.Time) bool {
	wd := day.Weekday()
	for _, off := range s.DaysOff {
		if off == wd {
			return true
		}
	}
	return false
}

// LastSlot is the final start that still fits before closing time.
func (s Schedule) LastSlot() TimeOfDay {
	return s.End - SlotMinutes
}

// ComputeSlots lists the bookable slot starts for day in ascending order.
// booked holds the times of non-cancelled appointments for the same barber
// on that day. On now's calendar day, starts strictly before now are dropped;
// a start equal to now is kept.
func ComputeSlots(s Schedule, booked []TimeOfDay, day, now time.Time) []TimeOfDay {
	if s.IsDayOff(day) || s.Validate() != nil {
		return nil
	}

	taken := make(map[TimeOfDay]struct{}, len(booked))
	for _, b := range booked {
		taken[b] = struct{}{}
	}

	today := SameDay(day, now)

	var slots []TimeOfDay
	for t := s.Start; t <= s.LastSlot(); t += SlotMinutes {
		if today && t.On(day).Before(now) {
			continue
		}
		if _, ok := taken[t]; ok {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}

// ValidateSlot reports why a start time cannot be booked on day, ignoring
// existing appointments.
func ValidateSlot(s Schedule, day time.Time, at TimeOfDay, now time.Time) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.IsDayOff(day) {
		return ErrDayOff
	}
	if at < s.Start || at > s.LastSlot() {
		return ErrOutsideHours
	}
	if (at-s.Start)%SlotMinutes != 0 {
		return ErrOffBoundary
	}
	if at.On(day).Before(now) {
		return ErrInPast
	}
	return nil
}

// Slot is a concrete opening returned by NextAvailable.
type Slot struct {
	Date string    `json:"date"`
	Time TimeOfDay `json:"time"`
}

func (s Slot) String() string {
	return s.Date + " " + s.Time.String()
}

// NextAvailable walks calendar days starting at now's day and returns the
// first slot of the first day with any opening. bookedOn supplies the booked
// times for a given day. ErrNoSlotFound means the horizon was exhausted.
func NextAvailable(s Schedule, bookedOn func(day time.Time) []TimeOfDay, now time.Time, horizonDays int) (Slot, error) {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}

	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	for i := 0; i < horizonDays; i++ {
		day := start.AddDate(0, 0, i)
		slots := ComputeSlots(s, bookedOn(day), day, now)
		if len(slots) > 0 {
			return Slot{Date: day.Format(DateFormat), Time: slots[0]}, nil
		}
	}
	return Slot{}, ErrNoSlotFound
}

// ParseDate parses a YYYY-MM-DD calendar day in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateFormat, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

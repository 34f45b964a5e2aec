// Package dashboard derives the shop overview from a snapshot: today's load
// per barber, the next opening of each barber, monthly revenue and the
// upcoming bookings.
package dashboard

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/availability"
)

// UpcomingLimit caps Dashboard.Upcoming.
const UpcomingLimit = 10

// NoSlot is reported when a barber has no opening within the lookahead.
const NoSlot = "none"

type Dashboard struct {
	Date       string          `json:"date"`
	Month      string          `json:"month"`
	TodayCount int             `json:"todayCount"`
	Barbers    []BarberLoad    `json:"barbers"`
	Revenue    []Revenue       `json:"revenue"`
	MonthTotal decimal.Decimal `json:"monthTotal"`
	Upcoming   []Upcoming      `json:"upcoming"`
}

type BarberLoad struct {
	BarberID string `json:"barberId"`
	Name     string `json:"name"`
	Today    int    `json:"today"`
	NextSlot string `json:"nextSlot"`
}

// Revenue sums the non-cancelled bookings of one barber in the current month.
type Revenue struct {
	BarberID   string          `json:"barberId"`
	BarberName string          `json:"barberName"`
	Scheduled  decimal.Decimal `json:"scheduled"`
	Completed  decimal.Decimal `json:"completed"`
	Total      decimal.Decimal `json:"total"`
	Count      int             `json:"count"`
}

type Upcoming struct {
	ID         string          `json:"id"`
	Date       string          `json:"date"`
	Time       string          `json:"time"`
	BarberID   string          `json:"barberId"`
	BarberName string          `json:"barberName"`
	ClientName string          `json:"clientName"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// Build computes the dashboard as seen at now. Dates are interpreted in
// now's location.
func Build(snap appointment.Snapshot, now time.Time) Dashboard {
	today := now.Format(availability.DateFormat)
	month := now.Format("2006-01")

	d := Dashboard{
		Date:       today,
		Month:      month,
		Barbers:    make([]BarberLoad, 0, len(snap.Barbers)),
		Revenue:    []Revenue{},
		MonthTotal: decimal.Zero,
		Upcoming:   []Upcoming{},
	}

	for _, b := range snap.Barbers {
		load := BarberLoad{BarberID: b.ID, Name: b.Name, NextSlot: NoSlot}
		for _, a := range snap.Appointments {
			if a.BarberID == b.ID && a.Date == today && a.Status == appointment.StatusScheduled {
				load.Today++
			}
		}
		if sched, err := b.Schedule(); err == nil {
			bookedOn := func(day time.Time) []availability.TimeOfDay {
				return appointment.BookedTimes(snap.Appointments, b.ID, day.Format(availability.DateFormat))
			}
			if slot, err := availability.NextAvailable(sched, bookedOn, now, availability.DefaultHorizonDays); err == nil {
				load.NextSlot = slot.String()
			}
		}
		d.TodayCount += load.Today
		d.Barbers = append(d.Barbers, load)
	}

	d.Revenue = monthlyRevenue(snap.Appointments, month)
	for _, r := range d.Revenue {
		d.MonthTotal = d.MonthTotal.Add(r.Total)
	}

	d.Upcoming = upcoming(snap.Appointments, now, UpcomingLimit)
	return d
}

func monthlyRevenue(appts []appointment.Appointment, month string) []Revenue {
	byBarber := make(map[string]*Revenue)
	for _, a := range appts {
		if a.Status == appointment.StatusCancelled || len(a.Date) < len(month) || a.Date[:len(month)] != month {
			continue
		}
		r, ok := byBarber[a.BarberID]
		if !ok {
			r = &Revenue{
				BarberID:   a.BarberID,
				BarberName: a.BarberName,
				Scheduled:  decimal.Zero,
				Completed:  decimal.Zero,
				Total:      decimal.Zero,
			}
			byBarber[a.BarberID] = r
		}

		price := decimal.NewFromFloat(a.TotalPrice)
		switch a.Status {
		case appointment.StatusScheduled:
			r.Scheduled = r.Scheduled.Add(price)
		case appointment.StatusCompleted:
			r.Completed = r.Completed.Add(price)
		}
		r.Total = r.Total.Add(price)
		r.Count++
	}

	out := make([]Revenue, 0, len(byBarber))
	for _, r := range byBarber {
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b Revenue) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.BarberID, b.BarberID)
	})
	return out
}

func upcoming(appts []appointment.Appointment, now time.Time, limit int) []Upcoming {
	var next []appointment.Appointment
	for _, a := range appts {
		if a.Status != appointment.StatusScheduled {
			continue
		}
		start, err := a.Start(now.Location())
		if err != nil || start.Before(now) {
			continue
		}
		next = append(next, a)
	}
	appointment.SortAppointments(next)
	if len(next) > limit {
		next = next[:limit]
	}

	out := make([]Upcoming, 0, len(next))
	for _, a := range next {
		out = append(out, Upcoming{
			ID:         a.ID,
			Date:       a.Date,
			Time:       a.Time,
			BarberID:   a.BarberID,
			BarberName: a.BarberName,
			ClientName: a.ClientName,
			TotalPrice: decimal.NewFromFloat(a.TotalPrice),
		})
	}
	return out
}

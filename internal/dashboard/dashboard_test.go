package dashboard

import (
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
)

// Tuesday 2024-06-04 10:10 UTC
var now = time.Date(2024, 6, 4, 10, 10, 0, 0, time.UTC)

func appt(id, barberID, barberName, client, date, at string, status appointment.Status, price float64) appointment.Appointment {
	return appointment.Appointment{
		ID:         id,
		BarberID:   barberID,
		BarberName: barberName,
		ClientName: client,
		Date:       date,
		Time:       at,
		Status:     status,
		Services:   []string{"1"},
		TotalPrice: price,
	}
}

func fixtureSnapshot() appointment.Snapshot {
	const (
		joao   = "João Silva"
		rafael = "Rafael Costa"
	)
	return appointment.Snapshot{
		Barbers: []appointment.Barber{
			{ID: "1", Name: joao, WorkingHours: appointment.WorkingHours{Start: "09:00", End: "18:00"}, DaysOff: []int{0}},
			{ID: "2", Name: rafael, WorkingHours: appointment.WorkingHours{Start: "09:00", End: "12:00"}, DaysOff: []int{0, 1, 2, 3, 4, 5, 6}},
		},
		Appointments: []appointment.Appointment{
			appt("a1", "1", joao, "Ana", "2024-06-04", "09:00", appointment.StatusCompleted, 45),
			appt("a2", "1", joao, "Bruno", "2024-06-04", "10:30", appointment.StatusScheduled, 80),
			appt("a3", "1", joao, "Caio", "2024-06-04", "11:00", appointment.StatusCancelled, 35),
			appt("a4", "1", joao, "Duda", "2024-06-05", "09:00", appointment.StatusScheduled, 70),
			appt("a5", "2", rafael, "Eva", "2024-06-03", "09:00", appointment.StatusCompleted, 90),
			appt("a6", "2", rafael, "Fábio", "2024-06-20", "10:00", appointment.StatusScheduled, 125.5),
			appt("a7", "1", joao, "Gil", "2024-05-31", "09:00", appointment.StatusCompleted, 45),
			appt("a8", "1", joao, "Hugo", "2024-06-04", "10:00", appointment.StatusScheduled, 45),
		},
	}
}

func TestBuild(t *testing.T) {
	d := Build(fixtureSnapshot(), now)

	assert.Equal(t, "2024-06-04", d.Date)
	assert.Equal(t, 2, d.TodayCount)

	require.Len(t, d.Barbers, 2)
	assert.Equal(t, 2, d.Barbers[0].Today)
	assert.Equal(t, "2024-06-04 11:00", d.Barbers[0].NextSlot)
	assert.Equal(t, NoSlot, d.Barbers[1].NextSlot)

	require.Len(t, d.Revenue, 2)
	assert.Equal(t, "1", d.Revenue[0].BarberID)
	assert.Equal(t, "240", d.Revenue[0].Total.String())
	assert.Equal(t, "195", d.Revenue[0].Scheduled.String())
	assert.Equal(t, 4, d.Revenue[0].Count)
	assert.Equal(t, "215.5", d.Revenue[1].Total.String())
	assert.Equal(t, "455.5", d.MonthTotal.String())

	ids := make([]string, 0, len(d.Upcoming))
	for _, u := range d.Upcoming {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"a2", "a4", "a6"}, ids)
}

func TestBuildGolden(t *testing.T) {
	g := goldie.New(t)
	g.AssertJson(t, "dashboard", Build(fixtureSnapshot(), now))
}

func TestUpcomingLimit(t *testing.T) {
	var snap appointment.Snapshot
	for i := 0; i < UpcomingLimit+5; i++ {
		at := fmt.Sprintf("%02d:00", 9+i%8)
		date := fmt.Sprintf("2024-06-%02d", 5+i/8)
		snap.Appointments = append(snap.Appointments,
			appt(fmt.Sprintf("u%02d", i), "1", "João Silva", "X", date, at, appointment.StatusScheduled, 10))
	}

	d := Build(snap, now)
	require.Len(t, d.Upcoming, UpcomingLimit)
	assert.Equal(t, "u00", d.Upcoming[0].ID)
	assert.Empty(t, d.Barbers)
}

func TestBuildEmpty(t *testing.T) {
	d := Build(appointment.Snapshot{}, now)
	assert.Equal(t, "0", d.MonthTotal.String())
	assert.Empty(t, d.Revenue)
	assert.Empty(t, d.Upcoming)
}

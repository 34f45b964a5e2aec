package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
)

func TestAuditFindsDoubleBooking(t *testing.T) {
	appts := []appointment.Appointment{
		{ID: "a", BarberID: "1", Date: "2024-06-04", Time: "10:00", Status: appointment.StatusScheduled},
		{ID: "b", BarberID: "1", Date: "2024-06-04", Time: "10:00", Status: appointment.StatusCompleted},
		{ID: "c", BarberID: "1", Date: "2024-06-04", Time: "10:00", Status: appointment.StatusScheduled},
		{ID: "d", BarberID: "1", Date: "2024-06-04", Time: "10:30", Status: appointment.StatusCancelled},
		{ID: "e", BarberID: "2", Date: "2024-06-04", Time: "10:00", Status: appointment.StatusScheduled},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/appointments", r.URL.Path)
		_ = json.NewEncoder(w).Encode(appts)
	}))
	defer srv.Close()

	sim := &simulator{base: srv.URL, client: srv.Client()}
	res, err := sim.audit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.live)
	assert.Equal(t, 1, res.cancelled)
	assert.Equal(t, []slotKey{{barberID: "1", date: "2024-06-04", at: "10:00"}}, res.doubleBooked)
}

func TestMixNormalized(t *testing.T) {
	m := mix{book: 3, cancel: 1, read: 0}.normalized()
	assert.InDelta(t, 0.75, m.book, 1e-9)
	assert.InDelta(t, 0.25, m.cancel, 1e-9)

	assert.Equal(t, mix{book: 1}, mix{}.normalized())
}

func TestPrintReport(t *testing.T) {
	stats := newRunStats()
	for i := 1; i <= 10; i++ {
		stats.record(opBook, outcomeOK, time.Duration(i)*time.Millisecond)
	}
	stats.record(opBook, outcomeRejected, 20*time.Millisecond)

	var out bytes.Buffer
	printReport(&out, time.Second, 4, 12, stats, auditResult{live: 10})

	report := out.String()
	assert.Contains(t, report, "4 workers over 12 open slots")
	assert.Contains(t, report, "double bookings: none")
	assert.NotContains(t, report, opListDay)
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(6), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 95))
	assert.Zero(t, percentile(nil, 50))
}

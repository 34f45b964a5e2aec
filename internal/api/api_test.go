package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/availability"
	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
	"github.com/hackgods/barbershop-scheduling/internal/config"
	"github.com/hackgods/barbershop-scheduling/internal/dashboard"
	"github.com/hackgods/barbershop-scheduling/internal/metrics"
	"github.com/hackgods/barbershop-scheduling/internal/reminder"
)

// Tuesday 2024-06-04 08:00 UTC
var testNow = time.Date(2024, 6, 4, 8, 0, 0, 0, time.UTC)

type nopReminders struct{}

func (nopReminders) Arm(reminder.Job)                 {}
func (nopReminders) Disarm(string) bool              { return false }
func (nopReminders) FireAt(j reminder.Job) time.Time { return j.At }

type testServer struct {
	*httptest.Server
	engine *appointment.Engine
	bus    *broadcast.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	bus := broadcast.New(broadcast.Options{History: 64})
	t.Cleanup(bus.Close)

	seed := config.DefaultSeed()
	engine := appointment.NewEngine(appointment.NewMemoryRepository(), bus, nopReminders{}, appointment.Options{
		Location:  time.UTC,
		Now:       func() time.Time { return testNow },
		Protected: appointment.ProtectedFromSeed(seed).Protected,
		Logger:    logger,
		Metrics:   m,
	})
	require.NoError(t, engine.Bootstrap(context.Background(), seed))

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Service:  engine,
		Env:      "test",
		Version:  "dev",
		Logger:   logger,
		Metrics:  m,
		Gatherer: reg,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	}))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, engine: engine, bus: bus}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func booking(date, at string) appointment.Candidate {
	return appointment.Candidate{
		BarberID: "1",
		ClientID: "1",
		Date:     date,
		Time:     at,
		Services: []string{"1"},
	}
}

func TestCreateAppointmentEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/appointments", booking("2024-06-04", "10:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	appt := decode[appointment.Appointment](t, resp)
	assert.Equal(t, appointment.StatusScheduled, appt.Status)
	assert.Equal(t, "Maria Santos", appt.ClientName)
	assert.Equal(t, "João Silva", appt.BarberName)
	assert.Equal(t, 45.0, appt.TotalPrice)

	resp = s.do(t, http.MethodGet, "/appointments/"+appt.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, appt.ID, decode[appointment.Appointment](t, resp).ID)

	resp = s.do(t, http.MethodGet, "/appointments?barber_id=1&date=2024-06-04", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]appointment.Appointment](t, resp), 1)

	resp = s.do(t, http.MethodGet, "/appointments?date=2024-06-05", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]appointment.Appointment](t, resp))
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/appointments", booking("2024-06-04", "10:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	booked := decode[appointment.Appointment](t, resp)

	resp = s.do(t, http.MethodPost, "/appointments/"+booked.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"slot taken", http.MethodPost, "/appointments", booking("2024-06-04", "10:00"), http.StatusConflict, "SlotConflict"},
		{"day off", http.MethodPost, "/appointments", booking("2024-06-09", "10:00"), http.StatusUnprocessableEntity, "InvalidSlot"},
		{"off boundary", http.MethodPost, "/appointments", booking("2024-06-04", "10:15"), http.StatusUnprocessableEntity, "InvalidSlot"},
		{"unknown barber", http.MethodPost, "/appointments", appointment.Candidate{BarberID: "9", ClientID: "1", Date: "2024-06-04", Time: "10:00", Services: []string{"1"}}, http.StatusNotFound, "NotFound"},
		{"no services", http.MethodPost, "/appointments", appointment.Candidate{BarberID: "1", ClientID: "1", Date: "2024-06-04", Time: "11:00"}, http.StatusBadRequest, "InvalidInput"},
		{"terminal state", http.MethodPost, "/appointments/" + booked.ID + "/cancel", nil, http.StatusConflict, "InvalidTransition"},
		{"missing appointment", http.MethodGet, "/appointments/nope", nil, http.StatusNotFound, "NotFound"},
		{"protected barber", http.MethodDelete, "/barbers/1", nil, http.StatusForbidden, "Protected"},
		{"unknown status filter", http.MethodGet, "/appointments?status=pending", nil, http.StatusBadRequest, "InvalidInput"},
		{"unknown service update", http.MethodPut, "/services/99", appointment.Service{Name: "Ghost", Price: 1, Duration: 10}, http.StatusNotFound, "NotFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, resp).Error)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.Client().Post(s.URL+"/appointments", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidInput", decode[ErrorResponse](t, resp).Error)
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/barbers", appointment.Barber{
		ID:           "2",
		Name:         "Pedro Lima",
		Phone:        "(11) 97777-7777",
		WorkingHours: appointment.WorkingHours{Start: "10:00", End: "14:00"},
		DaysOff:      []int{0, 1},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/barbers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]appointment.Barber](t, resp), 2)

	resp = s.do(t, http.MethodDelete, "/barbers/2", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/clients", appointment.Client{ID: "2", Name: "Ana", Phone: "(11) 96666-6666"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/clients", nil)
	assert.Len(t, decode[[]appointment.Client](t, resp), 2)

	resp = s.do(t, http.MethodPut, "/services/1", appointment.Service{Name: "Corte", Price: 50, Duration: 30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 50.0, decode[appointment.Service](t, resp).Price)

	resp = s.do(t, http.MethodGet, "/services", nil)
	assert.Len(t, decode[[]appointment.Service](t, resp), 6)
}

func TestSlotEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/barbers/1/slots?date=2024-06-04", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := decode[SlotsResponse](t, resp)
	require.NotEmpty(t, slots.Slots)
	first := slots.Slots[0]

	resp = s.do(t, http.MethodGet, "/barbers/1/slots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2024-06-04", decode[SlotsResponse](t, resp).Date)

	resp = s.do(t, http.MethodGet, "/barbers/1/next-slot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	next := decode[NextSlotResponse](t, resp)
	require.NotNil(t, next.Slot)
	assert.Equal(t, "2024-06-04", next.Slot.Date)
	assert.Equal(t, first, next.Slot.Time)

	resp = s.do(t, http.MethodGet, "/barbers/1/slots?date=2024-06-09", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []availability.TimeOfDay{}, decode[SlotsResponse](t, resp).Slots)

	resp = s.do(t, http.MethodGet, "/barbers/9/next-slot", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDashboardEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/appointments", booking("2024-06-04", "10:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	d := decode[dashboard.Dashboard](t, resp)
	assert.Equal(t, "2024-06-04", d.Date)
	assert.Equal(t, 1, d.TodayCount)
	require.Len(t, d.Upcoming, 1)
	assert.Equal(t, "10:00", d.Upcoming[0].Time)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[LivenessResponse](t, resp).Status)

	resp = s.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ready := decode[ReadinessResponse](t, resp)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["redis"])

	resp = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "barbershop_http_request_duration_seconds")
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return appointment.ErrStoreUnavailable }

func TestReadinessStoreDown(t *testing.T) {
	h := NewHealthHandler(downStore{}, nil, "test", "dev")

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "down", body.Dependencies["store"])
}

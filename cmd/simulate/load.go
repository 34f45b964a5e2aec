package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hackgods/barbershop-scheduling/internal/api"
	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/availability"
)

// slotKey is one bookable barber slot that workers race for.
type slotKey struct {
	barberID string
	date     string
	at       string
}

type simulator struct {
	base   string
	mix    mix
	client *http.Client
	logger *slog.Logger
	stats  *runStats

	clients  []string
	services []string
	targets  []slotKey

	mu     sync.Mutex
	booked []string
}

func (s *simulator) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// load collects every open slot of the next days. All workers draw from the
// same list, so bookings collide on purpose.
func (s *simulator) load(ctx context.Context, days int) error {
	var (
		barbers  []appointment.Barber
		clients  []appointment.Client
		services []appointment.Service
	)
	for path, dst := range map[string]any{"/barbers": &barbers, "/clients": &clients, "/services": &services} {
		if err := s.get(ctx, path, dst); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	for _, c := range clients {
		s.clients = append(s.clients, c.ID)
	}
	for _, svc := range services {
		s.services = append(s.services, svc.ID)
	}

	today := time.Now()
	for _, b := range barbers {
		for d := range days {
			date := today.AddDate(0, 0, d).Format(availability.DateFormat)
			var open api.SlotsResponse
			if err := s.get(ctx, slotsPath(b.ID, date), &open); err != nil {
				return fmt.Errorf("load slots: %w", err)
			}
			for _, t := range open.Slots {
				s.targets = append(s.targets, slotKey{barberID: b.ID, date: date, at: t.String()})
			}
		}
	}

	switch {
	case len(s.clients) == 0:
		return errors.New("server has no clients")
	case len(s.services) == 0:
		return errors.New("server has no services")
	case len(s.targets) == 0:
		return errors.New("no open slots in range")
	}
	return nil
}

// race runs workers until d elapses.
func (s *simulator) race(ctx context.Context, workers int, d time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	s.logger.Info("race started", "workers", workers, "duration", d.String())
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx)
		}()
	}
	wg.Wait()
	s.logger.Info("race finished")
}

func (s *simulator) work(ctx context.Context) {
	for ctx.Err() == nil {
		t := s.targets[rand.IntN(len(s.targets))]
		switch p := rand.Float64(); {
		case p < s.mix.book:
			s.book(ctx, t)
		case p < s.mix.book+s.mix.cancel:
			s.cancel(ctx)
		case rand.IntN(2) == 0:
			s.timed(ctx, opReadSlots, http.MethodGet, slotsPath(t.barberID, t.date), nil)
		default:
			s.timed(ctx, opListDay, http.MethodGet,
				fmt.Sprintf("/appointments?barber_id=%s&date=%s", url.QueryEscape(t.barberID), t.date), nil)
		}
	}
}

func (s *simulator) book(ctx context.Context, t slotKey) {
	body, _ := json.Marshal(appointment.Candidate{
		BarberID: t.barberID,
		ClientID: s.clients[rand.IntN(len(s.clients))],
		Date:     t.date,
		Time:     t.at,
		Services: []string{s.services[rand.IntN(len(s.services))]},
	})
	resp := s.timed(ctx, opBook, http.MethodPost, "/appointments", body)
	if resp == nil {
		return
	}
	var appt appointment.Appointment
	if json.Unmarshal(resp, &appt) == nil && appt.ID != "" {
		s.mu.Lock()
		s.booked = append(s.booked, appt.ID)
		s.mu.Unlock()
	}
}

func (s *simulator) cancel(ctx context.Context) {
	s.mu.Lock()
	if len(s.booked) == 0 {
		s.mu.Unlock()
		return
	}
	id := s.booked[rand.IntN(len(s.booked))]
	s.mu.Unlock()

	s.timed(ctx, opCancel, http.MethodPost, "/appointments/"+url.PathEscape(id)+"/cancel", nil)
}

// timed issues one request and records its outcome. It returns the body of
// a successful response.
func (s *simulator) timed(ctx context.Context, op, method, path string, body []byte) []byte {
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, bytes.NewReader(body))
	if err != nil {
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	took := time.Since(start)
	if ctx.Err() != nil {
		// cut off by the deadline, not a server result
		if err == nil {
			resp.Body.Close()
		}
		return nil
	}
	if err != nil {
		s.stats.record(op, outcomeError, took)
		return nil
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		s.stats.record(op, outcomeOK, took)
		return buf.Bytes()
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// lost the race, or the slot slid into the past
		s.stats.record(op, outcomeRejected, took)
	default:
		s.stats.record(op, outcomeError, took)
	}
	return nil
}

func slotsPath(barberID, date string) string {
	return fmt.Sprintf("/barbers/%s/slots?date=%s", url.PathEscape(barberID), date)
}

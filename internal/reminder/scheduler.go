// Package reminder arms one cancellable timer per scheduled appointment and
// sends a text message when it fires.
//
// Delivery is at-most-once. A failed send is logged and counted and the
// reminder is consumed; nothing retries it.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var ErrDeliveryFailure = errors.New("reminder delivery failed")

// Job describes one reminder: who to message and when the appointment starts.
type Job struct {
	AppointmentID string
	Phone         string
	At            time.Time
}

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Options struct {
	Lead        time.Duration
	Message     string
	SendTimeout time.Duration
	Clock       Clock
	Logger      *slog.Logger
	Sent        prometheus.Counter
	Failed      prometheus.Counter
}

type entry struct {
	gen   uint64
	job   Job
	timer Timer
}

type Scheduler struct {
	mu       sync.Mutex
	pending  map[string]*entry
	gen      uint64
	stopped  bool
	inflight sync.WaitGroup

	notifier Notifier
	opts     Options
}

func NewScheduler(notifier Notifier, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Scheduler{
		pending:  make(map[string]*entry),
		notifier: notifier,
		opts:     opts,
	}
}

// FireAt is when the reminder for job goes out.
func (s *Scheduler) FireAt(job Job) time.Time {
	return job.At.Add(-s.opts.Lead)
}

// Arm schedules the reminder for job, replacing any pending one for the same
// appointment. A fire time already in the past fires right away.
func (s *Scheduler) Arm(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if old, ok := s.pending[job.AppointmentID]; ok {
		old.timer.Stop()
	}

	s.gen++
	gen := s.gen
	e := &entry{gen: gen, job: job}

	delay := s.FireAt(job).Sub(s.opts.Clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.pending[job.AppointmentID] = e
	e.timer = s.opts.Clock.AfterFunc(delay, func() { s.fire(job.AppointmentID, gen) })

	s.opts.Logger.Debug("reminder armed",
		"appointment_id", job.AppointmentID,
		"fire_in", delay.String(),
	)
}

// Disarm cancels the pending reminder for id. It reports whether one was
// pending. After Disarm returns the reminder will not start; a send that
// already claimed it may still be in flight.
func (s *Scheduler) Disarm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	e.timer.Stop()
	return true
}

func (s *Scheduler) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id]
	return ok
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending reminder and waits for in-flight sends.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.inflight.Wait()
}

func (s *Scheduler) fire(id string, gen uint64) {
	// Claim under the lock: whoever removes the entry first wins, so a
	// Disarm that returned true guarantees this send never starts.
	s.mu.Lock()
	e, ok := s.pending[id]
	if !ok || e.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
	defer cancel()

	if err := s.send(ctx, e.job); err != nil {
		s.opts.Logger.Error("reminder not delivered",
			"appointment_id", id,
			"provider", s.notifier.ProviderID(),
			"err", err,
		)
		if s.opts.Failed != nil {
			s.opts.Failed.Inc()
		}
		return
	}

	s.opts.Logger.Info("reminder sent",
		"appointment_id", id,
		"provider", s.notifier.ProviderID(),
	)
	if s.opts.Sent != nil {
		s.opts.Sent.Inc()
	}
}

func (s *Scheduler) send(ctx context.Context, job Job) error {
	if err := s.notifier.Send(ctx, job.Phone, s.opts.Message); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	return nil
}

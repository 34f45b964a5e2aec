package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	if d <= 0 {
		t.fired = true
		go f()
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due callbacks on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type message struct {
	to   string
	body string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []message
	err  error
	ch   chan message
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan message, 64)}
}

func (n *recordingNotifier) ProviderID() string { return "test" }

func (n *recordingNotifier) Send(_ context.Context, to, body string) error {
	n.mu.Lock()
	n.sent = append(n.sent, message{to: to, body: body})
	err := n.err
	n.mu.Unlock()
	n.ch <- message{to: to, body: body}
	return err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var start = time.Date(2024, 6, 4, 8, 0, 0, 0, time.UTC)

func newTestScheduler(n Notifier, clock Clock) (*Scheduler, prometheus.Counter, prometheus.Counter) {
	sent := prometheus.NewCounter(prometheus.CounterOpts{Name: "sent"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{Name: "failed"})
	s := NewScheduler(n, Options{
		Lead:    30 * time.Minute,
		Message: "see you soon",
		Clock:   clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sent:    sent,
		Failed:  failed,
	})
	return s, sent, failed
}

func TestArmFiresAtLeadBeforeAppointment(t *testing.T) {
	clock := newFakeClock(start)
	n := newRecordingNotifier()
	s, sent, _ := newTestScheduler(n, clock)

	s.Arm(Job{AppointmentID: "a1", Phone: "555", At: start.Add(2 * time.Hour)})
	assert.True(t, s.Armed("a1"))
	assert.Equal(t, start.Add(90*time.Minute), s.FireAt(Job{At: start.Add(2 * time.Hour)}))

	clock.Advance(89 * time.Minute)
	assert.Equal(t, 0, n.count())

	clock.Advance(time.Minute)
	require.Equal(t, 1, n.count())
	assert.Equal(t, message{to: "555", body: "see you soon"}, n.sent[0])
	assert.False(t, s.Armed("a1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(sent))
}

func TestDisarmBeforeFirePreventsSend(t *testing.T) {
	clock := newFakeClock(start)
	n := newRecordingNotifier()
	s, _, _ := newTestScheduler(n, clock)

	s.Arm(Job{AppointmentID: "a1", Phone: "555", At: start.Add(2 * time.Hour)})
	assert.True(t, s.Disarm("a1"))
	assert.False(t, s.Disarm("a1"))

	clock.Advance(3 * time.Hour)
	assert.Equal(t, 0, n.count())
	assert.Equal(t, 0, s.Pending())
}

func TestPastFireTimeFiresImmediately(t *testing.T) {
	clock := newFakeClock(start)
	n := newRecordingNotifier()
	s, _, _ := newTestScheduler(n, clock)

	s.Arm(Job{AppointmentID: "soon", Phone: "555", At: start.Add(10 * time.Minute)})

	select {
	case m := <-n.ch:
		assert.Equal(t, "555", m.to)
	case <-time.After(time.Second):
		t.Fatal("reminder did not fire")
	}
}

func TestDeliveryFailureIsCountedAndNotRetried(t *testing.T) {
	clock := newFakeClock(start)
	n := newRecordingNotifier()
	n.err = errors.New("gateway down")
	s, sent, failed := newTestScheduler(n, clock)

	s.Arm(Job{AppointmentID: "a1", Phone: "555", At: start.Add(time.Hour)})
	clock.Advance(30 * time.Minute)
	clock.Advance(24 * time.Hour)

	assert.Equal(t, 1, n.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(failed))
	assert.Equal(t, 0.0, testutil.ToFloat64(sent))
	assert.False(t, s.Disarm("a1"), "disarm after fire is a no-op")
}

func TestRearmReplacesPendingTimer(t *testing.T) {
	clock := newFakeClock(start)
	n := newRecordingNotifier()
	s, _, _ := newTestScheduler(n, clock)

	s.Arm(Job{AppointmentID: "a1", Phone: "old", At: start.Add(time.Hour)})
	s.Arm(Job{AppointmentID: "a1", Phone: "new", At: start.Add(3 * time.Hour)})
	assert.Equal(t, 1, s.Pending())

	clock.Advance(time.Hour)
	assert.Equal(t, 0, n.count())

	clock.Advance(2 * time.Hour)
	require.Equal(t, 1, n.count())
	assert.Equal(t, "new", n.sent[0].to)
}

func TestStopCancelsPending(t *testing.T) {
	clock := newFakeClock(start)
	n := newRecordingNotifier()
	s, _, _ := newTestScheduler(n, clock)

	s.Arm(Job{AppointmentID: "a1", Phone: "1", At: start.Add(time.Hour)})
	s.Arm(Job{AppointmentID: "a2", Phone: "2", At: start.Add(2 * time.Hour)})
	s.Stop()

	clock.Advance(5 * time.Hour)
	assert.Equal(t, 0, n.count())

	s.Arm(Job{AppointmentID: "a3", Phone: "3", At: start.Add(6 * time.Hour)})
	assert.Equal(t, 0, s.Pending())
}

func TestDisarmRaceNeverSendsAfterSuccessfulDisarm(t *testing.T) {
	n := newRecordingNotifier()
	n.ch = make(chan message, 1000)
	s := NewScheduler(n, Options{
		Lead:   30 * time.Minute,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	const count = 200
	disarmed := make([]bool, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("a%d", i)
		s.Arm(Job{AppointmentID: id, Phone: id, At: time.Now().Add(30 * time.Minute)})
		disarmed[i] = s.Disarm(id)
	}
	s.Stop()

	got := make(map[string]int)
	n.mu.Lock()
	for _, m := range n.sent {
		got[m.to]++
	}
	n.mu.Unlock()

	for i := 0; i < count; i++ {
		id := fmt.Sprintf("a%d", i)
		assert.LessOrEqual(t, got[id], 1)
		if disarmed[i] {
			assert.Zero(t, got[id], "reminder %s fired after disarm", id)
		}
	}
}

func TestWebhookNotifier(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "tok", time.Second)
	require.NoError(t, n.Send(context.Background(), "(11) 98888-8888", "hello"))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, map[string]string{"to": "(11) 98888-8888", "body": "hello"}, gotBody)
	assert.Equal(t, "webhook", n.ProviderID())
}

func TestWebhookNotifierErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.ErrorContains(t, NewWebhookNotifier(srv.URL, "", time.Second).Send(context.Background(), "1", "x"), "502")
	assert.Error(t, NewWebhookNotifier("", "", time.Second).Send(context.Background(), "1", "x"))
	assert.Error(t, NewWebhookNotifier(srv.URL, "", time.Second).Send(context.Background(), " ", "x"))
}

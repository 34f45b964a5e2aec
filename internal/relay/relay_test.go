package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
)

type fakeWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	fails   int
	block   chan struct{}
	started chan struct{}
	closed  bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		select {
		case w.started <- struct{}{}:
		default:
		}
		select {
		case <-w.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fails > 0 {
		w.fails--
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) seqs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.msgs))
	for _, m := range w.msgs {
		out = append(out, header(m, "seq"))
	}
	return out
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func startRelay(t *testing.T, bus *broadcast.Bus, w *fakeWriter) (wait func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := New(bus, w, nil)
	r.backoff = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, time.Millisecond)
	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

func TestRelayForwardsInOrder(t *testing.T) {
	bus := broadcast.New(broadcast.Options{History: 16})
	w := &fakeWriter{fails: 1}
	wait := startRelay(t, bus, w)

	_, err := bus.Publish(broadcast.KindAppointment, broadcast.OpCreated, "a1", "req-9", map[string]string{"id": "a1"})
	require.NoError(t, err)
	_, err = bus.Publish(broadcast.KindBarber, broadcast.OpDeleted, "b1", "", map[string]string{"id": "b1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(w.seqs()) == 2 }, time.Second, time.Millisecond)
	wait()

	assert.Equal(t, []string{"1", "2"}, w.seqs())
	first := w.msgs[0]
	assert.Equal(t, "a1", string(first.Key))
	assert.Equal(t, broadcast.TypeAppointmentCreated, header(first, "event_type"))
	assert.Equal(t, "req-9", header(first, "origin"))
	assert.Equal(t, bus.Epoch()+":1", header(first, "event_id"))
	assert.JSONEq(t, `{"id":"a1"}`, string(first.Value))
	assert.Equal(t, broadcast.TypeBarberRemoved, header(w.msgs[1], "event_type"))
	assert.True(t, w.closed)
}

func TestRelayResumesAfterBeingDropped(t *testing.T) {
	bus := broadcast.New(broadcast.Options{History: 16, MaxBacklog: 1})
	w := &fakeWriter{block: make(chan struct{}), started: make(chan struct{}, 1)}
	wait := startRelay(t, bus, w)

	_, err := bus.Publish(broadcast.KindClient, broadcast.OpCreated, "c1", "", map[string]string{"id": "c1"})
	require.NoError(t, err)
	<-w.started

	for _, id := range []string{"c2", "c3"} {
		_, err := bus.Publish(broadcast.KindClient, broadcast.OpCreated, id, "", map[string]string{"id": id})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, bus.Subscribers())

	close(w.block)
	require.Eventually(t, func() bool { return len(w.seqs()) == 3 }, time.Second, time.Millisecond)
	wait()

	assert.Equal(t, []string{"1", "2", "3"}, w.seqs())
}

func TestRelayStopsWhenBusCloses(t *testing.T) {
	bus := broadcast.New(broadcast.Options{})
	w := &fakeWriter{}
	r := New(bus, w, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, time.Millisecond)

	bus.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

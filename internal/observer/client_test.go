package observer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/barbershop-scheduling/internal/api"
	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
	"github.com/hackgods/barbershop-scheduling/internal/config"
	"github.com/hackgods/barbershop-scheduling/internal/reminder"
)

type nopReminders struct{}

func (nopReminders) Arm(reminder.Job)                 {}
func (nopReminders) Disarm(string) bool              { return false }
func (nopReminders) FireAt(j reminder.Job) time.Time { return j.At }

func startEngine(t *testing.T) (*appointment.Engine, string) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := broadcast.New(broadcast.Options{History: 64})
	t.Cleanup(bus.Close)

	now := time.Date(2024, 6, 4, 8, 0, 0, 0, time.UTC)
	engine := appointment.NewEngine(appointment.NewMemoryRepository(), bus, nopReminders{}, appointment.Options{
		Location: time.UTC,
		Now:      func() time.Time { return now },
		Logger:   logger,
	})
	require.NoError(t, engine.Bootstrap(context.Background(), config.DefaultSeed()))

	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Service:  engine,
		Logger:   logger,
		Location: time.UTC,
		Now:      func() time.Time { return now },
	}))
	t.Cleanup(srv.Close)

	return engine, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func runClient(t *testing.T, url string) (*Client, *Replica, chan broadcast.Message) {
	t.Helper()

	replica := NewReplica()
	client := NewClient(url, replica, slog.New(slog.NewTextHandler(io.Discard, nil)))
	changes := make(chan broadcast.Message, 16)
	client.OnChange(func(m broadcast.Message) { changes <- m })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-client.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
	return client, replica, changes
}

func waitFor(t *testing.T, changes chan broadcast.Message, msgType string) broadcast.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-changes:
			if m.Type == msgType {
				return m
			}
		case <-timeout:
			t.Fatalf("no %s message", msgType)
		}
	}
}

func TestClientBookAndReplicate(t *testing.T) {
	engine, url := startEngine(t)

	booker, _, bookerChanges := runClient(t, url)
	_, watcher, watcherChanges := runClient(t, url)
	waitFor(t, bookerChanges, broadcast.TypeSnapshot)
	waitFor(t, watcherChanges, broadcast.TypeSnapshot)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	appt, err := booker.Book(ctx, appointment.Candidate{
		BarberID: "1",
		ClientID: "1",
		Date:     "2024-06-04",
		Time:     "10:00",
		Services: []string{"1"},
	})
	require.NoError(t, err)

	waitFor(t, watcherChanges, broadcast.TypeAppointmentCreated)
	items := watcher.Items()
	require.Len(t, items, 1)
	assert.Equal(t, appt.ID, items[0].ID)
	assert.False(t, items[0].Provisional)

	_, err = engine.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	waitFor(t, watcherChanges, broadcast.TypeAppointmentUpdated)
	assert.Equal(t, appointment.StatusCancelled, watcher.Items()[0].Status)
}

func TestClientBookRejected(t *testing.T) {
	_, url := startEngine(t)
	client, replica, changes := runClient(t, url)
	waitFor(t, changes, broadcast.TypeSnapshot)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Book(ctx, appointment.Candidate{
		BarberID: "1",
		ClientID: "1",
		Date:     "2024-06-09",
		Time:     "10:00",
		Services: []string{"1"},
	})
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "InvalidSlot", remote.Code)
	assert.Empty(t, replica.Items())
}

func TestRequestWithoutConnection(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/ws", NewReplica(), nil)
	_, err := client.Request(context.Background(), broadcast.TypeGetBarbers, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

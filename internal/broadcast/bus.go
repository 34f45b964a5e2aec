package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type Kind string

const (
	KindAppointment Kind = "appointment"
	KindBarber      Kind = "barber"
	KindClient      Kind = "client"
	KindService     Kind = "service"
)

type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

var (
	ErrClosed       = errors.New("bus closed")
	ErrUnsubscribed = errors.New("subscription closed")
	ErrSlowConsumer = errors.New("subscriber dropped: backlog limit exceeded")
)

// Event is one accepted mutation. Payload is the entity as JSON (for deletes,
// the id object). Origin is the request id of the mutation, if any.
type Event struct {
	Seq     uint64          `json:"seq"`
	Kind    Kind            `json:"kind"`
	Op      Op              `json:"op"`
	ID      string          `json:"id"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Options struct {
	// History is how many recent events are kept for resume.
	History int
	// MaxBacklog drops a subscriber whose queue grows past it. Zero disables.
	MaxBacklog int

	Subscribers prometheus.Gauge
	Dropped     prometheus.Counter
}

// Bus fans out events to subscribers. It owns no entity state.
//
// Publish and Subscribe are expected to be called under the writer's lock so
// that a snapshot taken next to Subscribe lines up exactly with the stream.
type Bus struct {
	mu      sync.Mutex
	epoch   string
	clock   *Clock
	subs    map[uint64]*Subscription
	nextID  uint64
	closed  bool
	history []Event
	histCap int
	head    int
	opts    Options
}

func New(opts Options) *Bus {
	if opts.History < 0 {
		opts.History = 0
	}
	return &Bus{
		epoch:   uuid.NewString(),
		clock:   NewClock(),
		subs:    make(map[uint64]*Subscription),
		histCap: opts.History,
		history: make([]Event, 0, opts.History),
		opts:    opts,
	}
}

// Epoch identifies this bus instance. Seq values are only comparable within
// one epoch.
func (b *Bus) Epoch() string {
	return b.epoch
}

func (b *Bus) Seq() uint64 {
	return b.clock.Current()
}

func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish stamps and fans out one event. It never waits on subscribers.
func (b *Bus) Publish(kind Kind, op Op, id, origin string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Event{}, ErrClosed
	}

	e := Event{
		Seq:     b.clock.Next(),
		Kind:    kind,
		Op:      op,
		ID:      id,
		Origin:  origin,
		Payload: raw,
	}
	b.remember(e)

	for _, sub := range b.subs {
		n := sub.q.Enqueue(e)
		if b.opts.MaxBacklog > 0 && n > b.opts.MaxBacklog {
			b.dropLocked(sub, ErrSlowConsumer)
			if b.opts.Dropped != nil {
				b.opts.Dropped.Inc()
			}
		}
	}

	return e, nil
}

// Subscribe registers a subscriber that receives every event published after
// the current seq.
func (b *Bus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	return b.addLocked(b.clock.Current()), nil
}

// SubscribeFrom registers a subscriber that first receives the buffered
// events after seq `after`. It returns false when the history no longer
// covers that point, or the epoch does not match, and the caller needs a
// fresh snapshot instead.
func (b *Bus) SubscribeFrom(epoch string, after uint64) (*Subscription, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, false, ErrClosed
	}
	if epoch != b.epoch {
		return nil, false, nil
	}

	missed, ok := b.sinceLocked(after)
	if !ok {
		return nil, false, nil
	}

	sub := b.addLocked(after)
	for _, e := range missed {
		sub.q.Enqueue(e)
	}
	return sub, true, nil
}

// Close ends every subscription with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		b.dropLocked(sub, ErrClosed)
	}
}

func (b *Bus) addLocked(from uint64) *Subscription {
	b.nextID++
	sub := &Subscription{
		id:   b.nextID,
		bus:  b,
		q:    newEventQueue(),
		From: from,
	}
	b.subs[sub.id] = sub
	if b.opts.Subscribers != nil {
		b.opts.Subscribers.Inc()
	}
	return sub
}

func (b *Bus) dropLocked(sub *Subscription, reason error) {
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	sub.setErr(reason)
	sub.q.Close()
	if b.opts.Subscribers != nil {
		b.opts.Subscribers.Dec()
	}
}

func (b *Bus) remember(e Event) {
	if b.histCap == 0 {
		return
	}
	if len(b.history) < b.histCap {
		b.history = append(b.history, e)
		return
	}
	b.history[b.head] = e
	b.head = (b.head + 1) % b.histCap
}

func (b *Bus) sinceLocked(after uint64) ([]Event, bool) {
	cur := b.clock.Current()
	if after > cur {
		return nil, false
	}
	if after == cur {
		return nil, true
	}

	n := len(b.history)
	if n == 0 {
		return nil, false
	}
	oldest := b.history[b.head%n]
	if after+1 < oldest.Seq {
		return nil, false
	}

	out := make([]Event, 0, cur-after)
	for i := 0; i < n; i++ {
		e := b.history[(b.head+i)%n]
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, true
}

// Subscription is one observer's ordered view of the event stream.
type Subscription struct {
	id  uint64
	bus *Bus
	q   *eventQueue

	// From is the seq the subscription starts after.
	From uint64

	errMu sync.Mutex
	err   error
}

// Next blocks until the next event, ctx is done, or the subscription ends.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if s.q.Closed() {
			return Event{}, s.Err()
		}
		if e, ok := s.q.TryDequeue(); ok {
			return e, nil
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.q.Wait():
		}
	}
}

// Backlog is the number of queued, undelivered events.
func (s *Subscription) Backlog() int {
	return s.q.Len()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.dropLocked(s, ErrUnsubscribed)
}

// Err reports why the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

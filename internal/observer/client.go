package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
)

var ErrNotConnected = errors.New("observer not connected")

// RemoteError is an error reply from the engine.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// Client keeps a Replica in sync over the engine's websocket endpoint and
// resumes from the replica's position after a reconnect.
type Client struct {
	url      string
	replica  *Replica
	logger   *slog.Logger
	dialer   *websocket.Dialer
	onChange func(broadcast.Message)

	mu      sync.Mutex
	conn    *websocket.Conn
	waiters map[string]chan broadcast.Message

	readyOnce sync.Once
	ready     chan struct{}
}

func NewClient(wsURL string, replica *Replica, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     wsURL,
		replica: replica,
		logger:  logger,
		dialer:  websocket.DefaultDialer,
		waiters: make(map[string]chan broadcast.Message),
		ready:   make(chan struct{}),
	}
}

// OnChange registers fn to run after every message that touched the replica.
// Set it before Run.
func (c *Client) OnChange(fn func(broadcast.Message)) {
	c.onChange = fn
}

// Ready is closed once the first connection is up.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Run connects and reconnects until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = minBackoff
		}

		c.logger.Warn("observer connection lost", "err", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if epoch, seq := c.replica.Position(); epoch != "" {
		q := u.Query()
		q.Set("epoch", epoch)
		q.Set("since", strconv.FormatUint(seq, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) session(ctx context.Context) (bool, error) {
	target, err := c.endpoint()
	if err != nil {
		return false, err
	}

	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.setConn(conn)
	defer c.setConn(nil)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Info("observer connected", "url", target)

	for {
		var m broadcast.Message
		if err := conn.ReadJSON(&m); err != nil {
			return true, err
		}
		c.handle(m)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if conn == nil {
		for id, ch := range c.waiters {
			close(ch)
			delete(c.waiters, id)
		}
	}
}

func (c *Client) handle(m broadcast.Message) {
	switch m.Type {
	case broadcast.TypeSnapshot:
		var snap appointment.Snapshot
		if err := json.Unmarshal(m.Data, &snap); err != nil {
			c.logger.Error("decode snapshot", "err", err)
			return
		}
		c.replica.Load(snap)

	case broadcast.TypeAck, broadcast.TypeError:
		c.mu.Lock()
		ch, ok := c.waiters[m.RequestID]
		delete(c.waiters, m.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- m
		} else if m.Type == broadcast.TypeError {
			c.logger.Warn("engine error", "code", m.Code, "message", m.Message)
		}
		return

	default:
		applied, err := c.replica.Apply(m)
		if err != nil {
			c.logger.Error("apply event", "type", m.Type, "seq", m.Seq, "err", err)
			return
		}
		if !applied {
			return
		}
	}

	if c.onChange != nil {
		c.onChange(m)
	}
}

// Request sends one request and waits for its ack or error reply.
func (c *Client) Request(ctx context.Context, msgType string, data any) (broadcast.Message, error) {
	return c.request(ctx, uuid.NewString(), msgType, data)
}

func (c *Client) request(ctx context.Context, requestID, msgType string, data any) (broadcast.Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return broadcast.Message{}, fmt.Errorf("marshal %s: %w", msgType, err)
	}

	ch := make(chan broadcast.Message, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return broadcast.Message{}, ErrNotConnected
	}
	c.waiters[requestID] = ch
	err = c.conn.WriteJSON(broadcast.Message{Type: msgType, RequestID: requestID, Data: raw})
	if err != nil {
		delete(c.waiters, requestID)
	}
	c.mu.Unlock()
	if err != nil {
		return broadcast.Message{}, fmt.Errorf("send %s: %w", msgType, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, requestID)
		c.mu.Unlock()
		return broadcast.Message{}, ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return broadcast.Message{}, ErrNotConnected
		}
		if reply.Type == broadcast.TypeError {
			return reply, &RemoteError{Code: reply.Code, Message: reply.Message}
		}
		return reply, nil
	}
}

// Book shows the booking as provisional right away and reconciles it with
// the engine's answer.
func (c *Client) Book(ctx context.Context, cand appointment.Candidate) (*appointment.Appointment, error) {
	requestID := uuid.NewString()
	c.replica.AddProvisional(requestID, cand)

	reply, err := c.request(ctx, requestID, broadcast.TypeCreateAppointment, cand)
	if err != nil {
		c.replica.Reject(requestID)
		return nil, err
	}

	var a appointment.Appointment
	if err := json.Unmarshal(reply.Data, &a); err != nil {
		c.replica.Reject(requestID)
		return nil, fmt.Errorf("decode ack: %w", err)
	}
	c.replica.Confirm(requestID, a)
	return &a, nil
}

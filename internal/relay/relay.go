// Package relay copies every bus event to a kafka topic.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
)

// MessageWriter is the part of *kafka.Writer the relay uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
}

type Relay struct {
	bus      *broadcast.Bus
	writer   MessageWriter
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

func New(bus *broadcast.Bus, writer MessageWriter, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		bus:      bus,
		writer:   writer,
		logger:   logger,
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
}

// Run forwards events until ctx is done or the bus closes. When the relay
// falls behind and the bus drops it, it resumes after the last event it
// wrote.
func (r *Relay) Run(ctx context.Context) error {
	defer r.writer.Close()

	sub, err := r.bus.Subscribe()
	if err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	last := sub.From
	defer func() { sub.Close() }()

	for {
		e, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, broadcast.ErrSlowConsumer) {
				if errors.Is(err, broadcast.ErrClosed) {
					return nil
				}
				return err
			}

			sub, err = r.resume(last)
			if err != nil {
				return err
			}
			continue
		}

		if err := r.write(ctx, e); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("relay event dropped", "seq", e.Seq, "kind", e.Kind, "id", e.ID, "err", err)
		}
		last = e.Seq
	}
}

func (r *Relay) resume(last uint64) (*broadcast.Subscription, error) {
	sub, ok, err := r.bus.SubscribeFrom(r.bus.Epoch(), last)
	if err != nil {
		return nil, fmt.Errorf("relay resume: %w", err)
	}
	if ok {
		r.logger.Warn("relay fell behind, resumed from history", "after_seq", last)
		return sub, nil
	}

	sub, err = r.bus.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}
	r.logger.Error("relay fell behind history, events skipped", "after_seq", last, "resumed_at", sub.From)
	return sub, nil
}

func (r *Relay) write(ctx context.Context, e broadcast.Event) error {
	msg := Message(ctx, r.bus.Epoch(), e)

	var err error
	for i := 0; i < r.attempts; i++ {
		if err = r.writer.WriteMessages(ctx, msg); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff * time.Duration(i+1)):
		}
	}
	return err
}

// Message converts a bus event into a kafka message keyed by entity id.
func Message(ctx context.Context, epoch string, e broadcast.Event) kafka.Message {
	headers := &headerCarrier{headers: []kafka.Header{
		{Key: "event_id", Value: []byte(epoch + ":" + strconv.FormatUint(e.Seq, 10))},
		{Key: "event_type", Value: []byte(broadcast.EventType(e.Kind, e.Op))},
		{Key: "seq", Value: []byte(strconv.FormatUint(e.Seq, 10))},
	}}
	if e.Origin != "" {
		headers.Set("origin", e.Origin)
	}
	otel.GetTextMapPropagator().Inject(ctx, headers)

	return kafka.Message{
		Key:     []byte(e.ID),
		Value:   e.Payload,
		Headers: headers.headers,
	}
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

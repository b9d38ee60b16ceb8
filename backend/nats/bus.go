// Package nats publishes saved events over NATS and feeds them to read-side
// event handlers. Bus implements repository.Publisher.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/codec"
	"github.com/modernice/mnemo/event"
	"github.com/modernice/mnemo/internal/concurrent"
	"github.com/nats-io/nats.go"
)

var _ repository.Publisher = (*Bus)(nil)

// Bus is a NATS event bus. Events are published as JSON-encoded codec.Records
// to the subject "<prefix>.<aggregate id>".
type Bus struct {
	codec    *codec.Codec
	url      string
	prefix   string
	queue    string
	logger   *slog.Logger
	conn     *nats.Conn
	natsOpts []nats.Option

	onceConnect sync.Once
	connectErr  error
}

// Option is a Bus option.
type Option func(*Bus)

// URL returns an Option that sets the NATS server URL. Defaults to the
// environment variable "NATS_URL" and then to nats.DefaultURL.
func URL(url string) Option {
	return func(b *Bus) {
		b.url = url
	}
}

// Conn returns an Option that provides the underlying *nats.Conn.
func Conn(conn *nats.Conn) Option {
	return func(b *Bus) {
		b.conn = conn
	}
}

// SubjectPrefix returns an Option that sets the subject prefix. Defaults to
// "mnemo.events".
func SubjectPrefix(prefix string) Option {
	return func(b *Bus) {
		b.prefix = strings.TrimSuffix(prefix, ".")
	}
}

// QueueGroup returns an Option that subscribes handlers in the given queue
// group, so that every event is handled by only one subscriber of the group.
func QueueGroup(queue string) Option {
	return func(b *Bus) {
		b.queue = queue
	}
}

// Logger returns an Option that sets the logger of the Bus.
func Logger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// NATSOptions returns an Option that passes opts to nats.Connect.
func NATSOptions(opts ...nats.Option) Option {
	return func(b *Bus) {
		b.natsOpts = append(b.natsOpts, opts...)
	}
}

// New returns a Bus that encodes payloads with c.
func New(c *codec.Codec, opts ...Option) *Bus {
	b := &Bus{codec: c, prefix: "mnemo.events"}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Connect connects to NATS. Connect is called automatically by Publish and
// Subscribe.
func (b *Bus) Connect(ctx context.Context) error {
	b.onceConnect.Do(func() {
		if b.conn != nil {
			return
		}
		url := b.natsURL()
		conn, err := nats.Connect(url, b.natsOpts...)
		if err != nil {
			b.connectErr = fmt.Errorf("connect: %w [url=%v]", err, url)
			return
		}
		b.conn = conn
	})
	return b.connectErr
}

// Close drains and closes the connection.
func (b *Bus) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}

func (b *Bus) natsURL() string {
	if b.url != "" {
		return b.url
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

func (b *Bus) subject(id uuid.UUID) string {
	return b.prefix + "." + id.String()
}

// Publish publishes the events of frame in version order and flushes the
// connection.
func (b *Bus) Publish(ctx context.Context, frame repository.EventFrame) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}

	subject := b.subject(frame.AggregateID)
	for _, evt := range frame.Events {
		rec, err := b.codec.EventRecord(frame.Type, evt)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", evt.ID(), err)
		}

		data, err := codec.MarshalRecord(rec)
		if err != nil {
			return err
		}

		if err := b.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats: %w [subject=%v]", err, subject)
		}
	}

	if err := b.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return nil
}

// Subscribe subscribes h to the events of all aggregates until ctx is
// canceled. Errors from decoding and from h are sent into the returned
// channel, which is closed when the subscription ends. Events of a single
// aggregate are handled in the order they were published.
func (b *Bus) Subscribe(ctx context.Context, h event.Handler) (<-chan error, error) {
	if err := b.Connect(ctx); err != nil {
		return nil, err
	}

	errs, fail := concurrent.Errors(ctx)

	handle := func(msg *nats.Msg) {
		rec, err := codec.UnmarshalRecord(msg.Data)
		if err != nil {
			fail(err)
			return
		}

		evt, err := b.codec.Event(rec)
		if err != nil {
			fail(err)
			return
		}

		if err := h.HandleEvents(ctx, evt); err != nil {
			fail(fmt.Errorf("handle event %s: %w", evt.ID(), err))
		}
	}

	subject := b.prefix + ".>"

	var (
		sub *nats.Subscription
		err error
	)
	if b.queue != "" {
		sub, err = b.conn.QueueSubscribe(subject, b.queue, handle)
	} else {
		sub, err = b.conn.Subscribe(subject, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w [subject=%v queue=%v]", err, subject, b.queue)
	}

	if err := b.conn.FlushWithContext(ctx); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Error("drain subscription", "subject", sub.Subject, "queue", sub.Queue, "error", err)
		}
	}()

	return errs, nil
}

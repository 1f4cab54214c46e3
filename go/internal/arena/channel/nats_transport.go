package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS transport
type NATSConfig struct {
	URL           string
	SubjectPrefix string // e.g. "arena" -> arena.<room>.events
	MaxReconnects int
	ReconnectWait time.Duration
	JetStream     bool // publish through JetStream so retried writes dedupe on event ID
	BufferSize    int
}

// DefaultNATSConfig returns default NATS configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "arena",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		BufferSize:    64,
	}
}

// NATSTransport multiplexes arena rooms over one NATS connection
type NATSTransport struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NATSConfig

	mu    sync.Mutex
	conns map[*natsConn]struct{}
}

// NewNATSTransport connects to NATS. Room connections share the underlying client.
func NewNATSTransport(config NATSConfig) (*NATSTransport, error) {
	t := &NATSTransport{
		config: config,
		conns:  make(map[*natsConn]struct{}),
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			t.notifyReconnected()
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	t.nc = nc

	if config.JetStream {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		t.js = js
	}

	return t, nil
}

func (t *NATSTransport) eventsSubject(room string) string {
	return fmt.Sprintf("%s.%s.events", t.config.SubjectPrefix, room)
}

func (t *NATSTransport) clientSubject(room string) string {
	return fmt.Sprintf("%s.%s.client", t.config.SubjectPrefix, room)
}

func (t *NATSTransport) Dial(ctx context.Context, room string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.nc.IsClosed() {
		return nil, ErrConnClosed
	}

	size := t.config.BufferSize
	if size <= 0 {
		size = 64
	}
	c := &natsConn{
		transport:   t,
		room:        room,
		msgs:        make(chan *nats.Msg, size),
		reconnected: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	sub, err := t.nc.ChanSubscribe(t.eventsSubject(room), c.msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.eventsSubject(room), err)
	}
	c.sub = sub

	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()

	log.Debug().
		Str("room", room).
		Str("subject", sub.Subject).
		Msg("subscribed to arena room")

	return c, nil
}

// Close drains the shared NATS connection
func (t *NATSTransport) Close() error {
	if t.nc == nil || t.nc.IsClosed() {
		return nil
	}
	return t.nc.Drain()
}

func (t *NATSTransport) notifyReconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.conns {
		select {
		case c.reconnected <- struct{}{}:
		default:
		}
	}
}

func (t *NATSTransport) forget(c *natsConn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

type natsConn struct {
	transport   *NATSTransport
	room        string
	sub         *nats.Subscription
	msgs        chan *nats.Msg
	reconnected chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// Read surfaces NATS's own reconnects as a local reconnected event so callers refetch state.
func (c *natsConn) Read() (*ArenaEvent, error) {
	for {
		select {
		case <-c.done:
			return nil, ErrConnClosed
		case <-c.reconnected:
			return localEvent(c.room, EventTypeReconnected), nil
		case msg := <-c.msgs:
			var event ArenaEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed message")
				continue
			}
			if event.ArenaID == "" {
				event.ArenaID = c.room
			}
			return &event, nil
		}
	}
}

func (c *natsConn) Write(ctx context.Context, event *ArenaEvent) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}

	subject := c.transport.clientSubject(c.room)
	if c.transport.js != nil {
		if _, err := c.transport.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
			return fmt.Errorf("publish %s to JetStream: %w", event.Type, err)
		}
		return nil
	}

	if err := c.transport.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (c *natsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.transport.forget(c)
		if c.sub != nil && c.sub.IsValid() {
			err = c.sub.Unsubscribe()
		}
	})
	return err
}

package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ManagerConfig holds configuration for the room manager
type ManagerConfig struct {
	SubscriberBuffer int
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	Clock            clockwork.Clock
}

// DefaultManagerConfig returns default room manager configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SubscriberBuffer: 32,
		ReconnectInitial: 500 * time.Millisecond,
		ReconnectMax:     15 * time.Second,
		Clock:            clockwork.NewRealClock(),
	}
}

// Manager hands out ref-counted subscriptions to arena rooms. Each room holds
// at most one live connection no matter how many subscribers it has.
type Manager struct {
	transport Transport
	config    ManagerConfig

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

// Room is the shared connection for one arena
type Room struct {
	name    string
	manager *Manager

	dialMu sync.Mutex

	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	conn     Conn
	cancel   context.CancelFunc
	loopDone chan struct{}
	closed   bool
}

// Subscription is one consumer's handle on a room. Its event channel is never
// closed; consumers select on Done as well.
type Subscription struct {
	ID string

	room      *Room
	events    chan *ArenaEvent
	done      chan struct{}
	closeOnce sync.Once
}

func NewManager(transport Transport, config ManagerConfig) *Manager {
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = 32
	}
	if config.ReconnectInitial <= 0 {
		config.ReconnectInitial = 500 * time.Millisecond
	}
	if config.ReconnectMax < config.ReconnectInitial {
		config.ReconnectMax = config.ReconnectInitial
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Manager{
		transport: transport,
		config:    config,
		rooms:     make(map[string]*Room),
	}
}

// Acquire subscribes to a room, connecting it on first use
func (m *Manager) Acquire(ctx context.Context, room string) (*Subscription, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}

	r, ok := m.rooms[room]
	if !ok {
		r = &Room{
			name:    room,
			manager: m,
			subs:    make(map[*Subscription]struct{}),
		}
		m.rooms[room] = r
	}

	sub := &Subscription{
		ID:     uuid.New().String(),
		room:   r,
		events: make(chan *ArenaEvent, m.config.SubscriberBuffer),
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	count := len(r.subs)
	r.mu.Unlock()
	m.mu.Unlock()

	log.Debug().
		Str("room", room).
		Str("subscription_id", sub.ID).
		Int("subscribers", count).
		Msg("subscription acquired")

	if err := r.ensureConnected(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// Stats returns statistics about open rooms
func (m *Manager) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	counts := make(map[string]int, len(m.rooms))
	for name, r := range m.rooms {
		r.mu.Lock()
		counts[name] = len(r.subs)
		total += len(r.subs)
		r.mu.Unlock()
	}

	return map[string]interface{}{
		"total_subscriptions": total,
		"active_rooms":        len(m.rooms),
		"room_subscriptions":  counts,
	}
}

// Close releases every subscription and tears down every room
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	var subs []*Subscription
	for _, r := range m.rooms {
		r.mu.Lock()
		for s := range r.subs {
			subs = append(subs, s)
		}
		r.mu.Unlock()
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	log.Info().Int("subscriptions", len(subs)).Msg("channel manager closed")
}

func (r *Room) ensureConnected(ctx context.Context) error {
	r.dialMu.Lock()
	defer r.dialMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrSubscriptionClosed
	}
	if r.loopDone != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	conn, err := r.manager.transport.Dial(ctx, r.name)
	if err != nil {
		return fmt.Errorf("connect room %s: %w", r.name, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return ErrSubscriptionClosed
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.conn = conn
	r.cancel = cancel
	r.loopDone = done
	r.mu.Unlock()

	go r.run(loopCtx, conn, done)

	log.Info().Str("room", r.name).Msg("room connected")
	return nil
}

func (r *Room) run(ctx context.Context, conn Conn, done chan struct{}) {
	defer close(done)

	for {
		event, err := conn.Read()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("room", r.name).Msg("room connection lost")

			r.setConn(nil)
			_ = conn.Close()
			r.broadcast(ctx, localEvent(r.name, EventTypeDisconnected))

			conn, err = r.redial(ctx)
			if err != nil {
				return
			}
			r.broadcast(ctx, localEvent(r.name, EventTypeReconnected))
			continue
		}

		r.broadcast(ctx, event)
	}
}

func (r *Room) redial(ctx context.Context) (Conn, error) {
	cfg := r.manager.config
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectInitial
	b.MaxInterval = cfg.ReconnectMax

	for attempt := 1; ; attempt++ {
		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-cfg.Clock.After(wait):
		}

		conn, err := r.manager.transport.Dial(ctx, r.name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().
				Err(err).
				Str("room", r.name).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("room reconnect failed")
			continue
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = conn.Close()
			return nil, ErrSubscriptionClosed
		}
		r.conn = conn
		r.mu.Unlock()

		log.Info().Str("room", r.name).Int("attempt", attempt).Msg("room reconnected")
		return conn, nil
	}
}

func (r *Room) setConn(conn Conn) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
}

func (r *Room) currentConn() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// broadcast delivers to every subscriber. A full subscriber applies backpressure
// rather than losing events; closed subscribers are skipped.
func (r *Room) broadcast(ctx context.Context, event *ArenaEvent) {
	r.mu.Lock()
	targets := make([]*Subscription, 0, len(r.subs))
	for s := range r.subs {
		targets = append(targets, s)
	}
	r.mu.Unlock()

	for _, s := range targets {
		select {
		case s.events <- event:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Str("room", r.name).
		Int("subscribers", len(targets)).
		Msg("event broadcasted")
}

func (r *Room) release(sub *Subscription) {
	m := r.manager

	m.mu.Lock()
	r.mu.Lock()
	delete(r.subs, sub)
	last := len(r.subs) == 0 && !r.closed
	if last {
		r.closed = true
		if m.rooms[r.name] == r {
			delete(m.rooms, r.name)
		}
	}
	r.mu.Unlock()
	m.mu.Unlock()

	if last {
		r.shutdown()
	}
}

func (r *Room) shutdown() {
	r.mu.Lock()
	cancel, conn, done := r.cancel, r.conn, r.loopDone
	r.conn = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Str("room", r.name).Msg("error closing room connection")
		}
	}
	if done != nil {
		<-done
	}
	log.Info().Str("room", r.name).Msg("room closed")
}

// Room returns the arena this subscription is attached to
func (s *Subscription) Room() string { return s.room.name }

func (s *Subscription) Events() <-chan *ArenaEvent { return s.events }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Send writes an event to the room's live connection
func (s *Subscription) Send(ctx context.Context, eventType EventType, payload any) error {
	select {
	case <-s.done:
		return ErrSubscriptionClosed
	default:
	}

	event, err := NewEvent(s.room.name, eventType, payload)
	if err != nil {
		return err
	}

	conn := s.room.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ctx, event)
}

// Close releases the subscription. The last release closes the room's connection
// and returns only once its reader has exited.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.room.release(s)
	})
}

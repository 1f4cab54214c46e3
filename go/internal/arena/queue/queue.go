// Package queue is the client side of the matchmaking handshake: join the lobby queue,
// wait for a match, or leave.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codearena/go/clients/arena_api_client"
	"github.com/mcdev12/codearena/go/internal/arena/channel"
	"github.com/mcdev12/codearena/go/internal/arena/clock"
	"github.com/mcdev12/codearena/go/internal/arena/events"
)

// LobbyRoom is the room matchmaking events are exchanged on
const LobbyRoom = "lobby"

var (
	ErrAlreadyQueued = errors.New("already queued")
	ErrNotQueued     = errors.New("not queued")
)

type Status int

const (
	StatusIdle Status = iota
	StatusQueued
	StatusMatched
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusMatched:
		return "matched"
	case StatusCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// QueueSession is the ephemeral state of one pass through matchmaking
type QueueSession struct {
	Status     Status    `json:"status"`
	ArenaID    string    `json:"arena_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Acquirer hands out room subscriptions; satisfied by *channel.Manager
type Acquirer interface {
	Acquire(ctx context.Context, room string) (*channel.Subscription, error)
}

// QuickMatcher is the REST shortcut into an open arena
type QuickMatcher interface {
	QuickMatch(ctx context.Context) (*arena_api_client.QuickMatchResult, error)
}

type Client struct {
	channel Acquirer
	api     QuickMatcher
	clock   clock.Reconciler

	mu      sync.Mutex
	session QueueSession
	userID  string
	sub     *channel.Subscription
	matched chan string
}

func NewClient(ch Acquirer, api QuickMatcher, c clock.Clock) *Client {
	return &Client{
		channel: ch,
		api:     api,
		clock:   clock.NewReconciler(c),
		matched: make(chan string, 1),
	}
}

// Enqueue joins the matchmaking queue as userID
func (c *Client) Enqueue(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status == StatusQueued {
		return ErrAlreadyQueued
	}
	if c.sub != nil {
		// a previous match was never cancelled; release it first
		c.sub.Close()
		c.sub = nil
	}

	sub, err := c.channel.Acquire(ctx, LobbyRoom)
	if err != nil {
		return fmt.Errorf("subscribe to lobby: %w", err)
	}
	if err := sub.Send(ctx, channel.EventTypeJoinQueue, events.QueuePayload{UserID: userID}); err != nil {
		sub.Close()
		return fmt.Errorf("join queue: %w", err)
	}

	c.sub = sub
	c.userID = userID
	c.session = QueueSession{Status: StatusQueued, EnqueuedAt: c.clock.Now()}
	c.matched = make(chan string, 1)

	go c.listen(sub, c.matched)

	log.Info().Str("user_id", userID).Msg("joined matchmaking queue")
	return nil
}

// Cancel leaves the queue. leave_queue is sent even if a match was already found; a
// match_found processed after this call is ignored.
func (c *Client) Cancel(ctx context.Context) error {
	c.mu.Lock()
	sub, userID := c.sub, c.userID
	c.sub = nil
	if sub == nil {
		c.mu.Unlock()
		return ErrNotQueued
	}
	if c.session.Status == StatusQueued {
		c.session.Status = StatusCancelled
		c.session.ResolvedAt = c.clock.Now()
	}
	status := c.session.Status
	c.mu.Unlock()

	err := sub.Send(ctx, channel.EventTypeLeaveQueue, events.QueuePayload{UserID: userID})
	sub.Close()

	log.Info().Str("user_id", userID).Str("status", status.String()).Msg("left matchmaking queue")
	if err != nil {
		return fmt.Errorf("leave queue: %w", err)
	}
	return nil
}

// Matched delivers the arena id once a match is found
func (c *Client) Matched() <-chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matched
}

func (c *Client) Session() QueueSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// QueueTime is how long the user has waited, in whole seconds. It stops at the
// match or cancellation.
func (c *Client) QueueTime() time.Duration {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s.EnqueuedAt.IsZero() {
		return 0
	}
	if !s.ResolvedAt.IsZero() {
		return clock.Elapsed(s.EnqueuedAt, s.ResolvedAt).Truncate(time.Second)
	}
	return c.clock.Elapsed(s.EnqueuedAt).Truncate(time.Second)
}

// QuickMatch skips the queue and asks the API for any open arena
func (c *Client) QuickMatch(ctx context.Context) (string, error) {
	if c.api == nil {
		return "", errors.New("quick match unavailable")
	}
	res, err := c.api.QuickMatch(ctx)
	if err != nil {
		return "", err
	}
	if res.ArenaID == "" {
		return "", errors.New("quick match returned no arena")
	}
	return res.ArenaID, nil
}

func (c *Client) listen(sub *channel.Subscription, matched chan string) {
	for {
		select {
		case <-sub.Done():
			return
		case ev := <-sub.Events():
			switch ev.Type {
			case channel.EventTypeMatchFound:
				c.handleMatchFound(sub, ev, matched)
			case channel.EventTypeReconnected:
				c.rejoin(sub)
			}
		}
	}
}

func (c *Client) handleMatchFound(sub *channel.Subscription, ev *channel.ArenaEvent, matched chan string) {
	payload, err := channel.ParseEventPayload(ev)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable match_found")
		return
	}
	found, ok := payload.(events.MatchFoundPayload)
	if !ok || found.ArenaID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != sub || c.session.Status != StatusQueued {
		log.Debug().Str("arena_id", found.ArenaID).Msg("ignoring match_found after queue resolved")
		return
	}
	c.session.Status = StatusMatched
	c.session.ArenaID = found.ArenaID
	c.session.ResolvedAt = c.clock.Now()
	matched <- found.ArenaID

	log.Info().
		Str("user_id", c.userID).
		Str("arena_id", found.ArenaID).
		Str("opponent_id", found.OpponentID).
		Msg("match found")
}

// rejoin re-announces the user after a reconnect; the server forgets queue membership
func (c *Client) rejoin(sub *channel.Subscription) {
	c.mu.Lock()
	queued := c.sub == sub && c.session.Status == StatusQueued
	userID := c.userID
	c.mu.Unlock()
	if !queued {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sub.Send(ctx, channel.EventTypeJoinQueue, events.QueuePayload{UserID: userID}); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to rejoin queue")
	}
}

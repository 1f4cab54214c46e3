// Package channeltest provides an in-memory channel.Transport for tests.
package channeltest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/mcdev12/codearena/go/internal/arena/channel"
)

var ErrDialRefused = errors.New("dial refused")

// Transport records every dial and write and lets tests push server events
type Transport struct {
	mu     sync.Mutex
	open   map[string]*Conn
	dials  map[string]int
	sent   map[string][]*channel.ArenaEvent
	refuse map[string]bool
	dialed chan string
}

func NewTransport() *Transport {
	return &Transport{
		open:   make(map[string]*Conn),
		dials:  make(map[string]int),
		sent:   make(map[string][]*channel.ArenaEvent),
		refuse: make(map[string]bool),
		dialed: make(chan string, 64),
	}
}

func (t *Transport) Dial(ctx context.Context, room string) (channel.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.dials[room]++
	if t.refuse[room] {
		t.mu.Unlock()
		return nil, ErrDialRefused
	}
	c := &Conn{
		transport: t,
		room:      room,
		in:        make(chan *channel.ArenaEvent, 64),
		done:      make(chan struct{}),
	}
	t.open[room] = c
	t.mu.Unlock()

	select {
	case t.dialed <- room:
	default:
	}
	return c, nil
}

// Dialed yields the room name of every successful dial
func (t *Transport) Dialed() <-chan string { return t.dialed }

// Refuse makes subsequent dials to room fail until called again with false
func (t *Transport) Refuse(room string, refuse bool) {
	t.mu.Lock()
	t.refuse[room] = refuse
	t.mu.Unlock()
}

// Push delivers a server event on the room's current connection
func (t *Transport) Push(room string, event *channel.ArenaEvent) bool {
	t.mu.Lock()
	c := t.open[room]
	t.mu.Unlock()
	if c == nil {
		return false
	}
	if event.ArenaID == "" {
		event.ArenaID = room
	}
	select {
	case c.in <- event:
		return true
	case <-c.done:
		return false
	}
}

// PushPayload builds and pushes a server event
func (t *Transport) PushPayload(room string, eventType channel.EventType, payload any) bool {
	event, err := channel.NewEvent(room, eventType, payload)
	if err != nil {
		return false
	}
	return t.Push(room, event)
}

// Drop simulates a network loss on the room's current connection
func (t *Transport) Drop(room string) {
	t.mu.Lock()
	c := t.open[room]
	delete(t.open, room)
	t.mu.Unlock()
	if c != nil {
		c.fail()
	}
}

// Open reports whether the room has a live connection
func (t *Transport) Open(room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.open[room]
	return ok
}

func (t *Transport) Dials(room string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials[room]
}

// Sent returns every event written to room, in order
func (t *Transport) Sent(room string) []*channel.ArenaEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*channel.ArenaEvent, len(t.sent[room]))
	copy(out, t.sent[room])
	return out
}

// SentOfType returns written events of one type
func (t *Transport) SentOfType(room string, eventType channel.EventType) []*channel.ArenaEvent {
	var out []*channel.ArenaEvent
	for _, e := range t.Sent(room) {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// DecodeSent unmarshals the data of a written event
func DecodeSent[T any](event *channel.ArenaEvent) (T, error) {
	var v T
	err := json.Unmarshal(event.Data, &v)
	return v, err
}

// Conn is one in-memory connection
type Conn struct {
	transport *Transport
	room      string
	in        chan *channel.ArenaEvent
	done      chan struct{}

	mu     sync.Mutex
	closed bool
	failed bool
}

func (c *Conn) Read() (*channel.ArenaEvent, error) {
	select {
	case event := <-c.in:
		return event, nil
	case <-c.done:
		c.mu.Lock()
		failed := c.failed
		c.mu.Unlock()
		if failed {
			return nil, errors.New("connection reset")
		}
		return nil, channel.ErrConnClosed
	}
}

func (c *Conn) Write(ctx context.Context, event *channel.ArenaEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return channel.ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.transport.mu.Lock()
	c.transport.sent[c.room] = append(c.transport.sent[c.room], event)
	c.transport.mu.Unlock()
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	c.transport.mu.Lock()
	if c.transport.open[c.room] == c {
		delete(c.transport.open, c.room)
	}
	c.transport.mu.Unlock()
	return nil
}

func (c *Conn) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.failed = true
	c.closed = true
	close(c.done)
}

// WaitSent polls until n events of eventType were written to room or the timeout elapses
func (t *Transport) WaitSent(room string, eventType channel.EventType, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(t.SentOfType(room, eventType)) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return len(t.SentOfType(room, eventType)) >= n
}

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketConfig holds configuration for arena WebSocket connections
type WebSocketConfig struct {
	URL              string // e.g. ws://localhost:5000/ws/arena
	Token            string // Sent as a bearer token on the handshake
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
}

// DefaultWebSocketConfig returns default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		URL:              "ws://localhost:5000/ws/arena",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   64 * 1024, // code payloads ride on this connection
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// WebSocketTransport dials one WebSocket per arena room
type WebSocketTransport struct {
	config WebSocketConfig
	dialer *websocket.Dialer
}

func NewWebSocketTransport(config WebSocketConfig) *WebSocketTransport {
	return &WebSocketTransport{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
	}
}

// Dial connects to the room and starts the keepalive pump
func (t *WebSocketTransport) Dial(ctx context.Context, room string) (Conn, error) {
	u, err := url.Parse(t.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if t.config.Token != "" {
		header.Set("Authorization", "Bearer "+t.config.Token)
	}

	ws, _, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	c := &wsConn{
		room:   room,
		conn:   ws,
		config: t.config,
		done:   make(chan struct{}),
	}

	if t.config.MaxMessageSize > 0 {
		ws.SetReadLimit(t.config.MaxMessageSize)
	}
	c.extendReadDeadline()
	ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	if t.config.PingInterval > 0 {
		go c.pingPump()
	}

	log.Debug().
		Str("room", room).
		Str("url", u.Redacted()).
		Msg("websocket connected")

	return c, nil
}

type wsConn struct {
	room   string
	conn   *websocket.Conn
	config WebSocketConfig

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) extendReadDeadline() {
	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}

// Read returns the next decodable event. Frames that are not valid envelopes are skipped.
func (c *wsConn) Read() (*ArenaEvent, error) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrConnClosed
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("room", c.room).Msg("unexpected websocket close")
			}
			return nil, fmt.Errorf("read %s: %w", c.room, err)
		}
		c.extendReadDeadline()

		var event ArenaEvent
		if err := json.Unmarshal(message, &event); err != nil {
			log.Warn().Err(err).Str("room", c.room).Msg("dropping malformed frame")
			continue
		}
		if event.ArenaID == "" {
			event.ArenaID = c.room
		}
		return &event, nil
	}
}

func (c *wsConn) Write(ctx context.Context, event *ArenaEvent) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	var deadline time.Time
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("write %s to %s: %w", event.Type, c.room, err)
	}
	return nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

// pingPump keeps the read deadline alive on the server side of the connection
func (c *wsConn) pingPump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				log.Debug().Err(err).Str("room", c.room).Msg("failed to send ping")
				return
			}
		}
	}
}

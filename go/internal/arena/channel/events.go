package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/codearena/go/internal/arena/events"
)

// ArenaEvent represents the envelope for everything exchanged over an arena room
type ArenaEvent struct {
	ID        string          `json:"id"`        // Event UUID
	ArenaID   string          `json:"arena_id"`  // Room the event belongs to
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType represents the type of arena event
type EventType string

// Server -> client
const (
	EventTypeArenaActivated   EventType = "arena_activated"
	EventTypeMatchStarted     EventType = "match_start"
	EventTypeOpponentFinished EventType = "opponent_finished"
	EventTypeYouWon           EventType = "you_won"
	EventTypeYouLost          EventType = "you_lost"
	EventTypeMatchEnded       EventType = "match_ended"
	EventTypeMatchFound       EventType = "match_found"
	EventTypeChatMessage      EventType = "chat_message"
	EventTypeUserTyping       EventType = "user_typing"
	EventTypeUserJoined       EventType = "user_joined"
	EventTypeCodeUpdate       EventType = "code_update"
)

// Client -> server
const (
	EventTypeJoinMatch      EventType = "join_match"
	EventTypePlayerFinished EventType = "player_finished"
	EventTypeJoinQueue      EventType = "join_queue"
	EventTypeLeaveQueue     EventType = "leave_queue"
	EventTypeSendMessage    EventType = "send_message"
	EventTypeTypingStart    EventType = "typing_start"
	EventTypeTypingStop     EventType = "typing_stop"
)

// Generated locally by the room when the underlying connection changes
const (
	EventTypeDisconnected EventType = "disconnected"
	EventTypeReconnected  EventType = "reconnected"
)

// IsLocal reports whether the event was produced by this process rather than the server
func (t EventType) IsLocal() bool {
	return t == EventTypeDisconnected || t == EventTypeReconnected
}

// NewEvent builds an outbound event with a fresh ID
func NewEvent(room string, eventType EventType, payload any) (*ArenaEvent, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		data = raw
	}

	return &ArenaEvent{
		ID:        uuid.New().String(),
		ArenaID:   room,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

func localEvent(room string, eventType EventType) *ArenaEvent {
	return &ArenaEvent{
		ID:        uuid.New().String(),
		ArenaID:   room,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *ArenaEvent) (any, error) {
	switch event.Type {
	case EventTypeArenaActivated:
		return decode[events.ArenaActivatedPayload](event)
	case EventTypeMatchStarted:
		return decode[events.MatchStartedPayload](event)
	case EventTypeOpponentFinished:
		return decode[events.OpponentFinishedPayload](event)
	case EventTypeYouWon:
		return decode[events.YouWonPayload](event)
	case EventTypeYouLost:
		return decode[events.YouLostPayload](event)
	case EventTypeMatchEnded:
		return decode[events.MatchEndedPayload](event)
	case EventTypeMatchFound:
		return decode[events.MatchFoundPayload](event)
	case EventTypeChatMessage:
		return decode[events.ChatMessagePayload](event)
	case EventTypeUserTyping:
		return decode[events.TypingPayload](event)
	case EventTypeUserJoined:
		return decode[events.UserJoinedPayload](event)
	case EventTypeCodeUpdate:
		return decode[events.CodeUpdatePayload](event)
	default:
		return nil, nil // Unknown or local event type
	}
}

func decode[T any](event *ArenaEvent) (T, error) {
	var payload T
	if len(event.Data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return payload, nil
}

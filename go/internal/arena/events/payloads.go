package events

import "time"

// Event payload types shared between the channel, match and queue packages.
// JSON names follow the arena server's camelCase wire format.

// ArenaActivatedPayload is sent when a scheduled arena flips to active
type ArenaActivatedPayload struct {
	ArenaID   string    `json:"arenaId"`
	StartTime Timestamp `json:"startTime"`
}

// MatchStartedPayload is the server's authoritative start of scoring
type MatchStartedPayload struct {
	ArenaID   string    `json:"arenaId,omitempty"`
	MatchID   string    `json:"matchId,omitempty"`
	StartTime Timestamp `json:"startTime"`
}

// OpponentFinishedPayload reports the opponent's completion time
type OpponentFinishedPayload struct {
	UserID           string `json:"userId,omitempty"`
	CompletionTimeMs int64  `json:"completionTimeMs"`
}

// YouWonPayload carries the token award so the outcome needs no side channel
type YouWonPayload struct {
	TokensAwarded int   `json:"tokensAwarded"`
	WinTimeMs     int64 `json:"winTimeMs"`
}

// YouLostPayload is sent to the player who did not finish first
type YouLostPayload struct {
	OpponentTimeMs int64  `json:"opponentTimeMs"`
	WinnerID       string `json:"winnerId,omitempty"`
}

// MatchEndedPayload closes the match; an empty reason means time ran out
type MatchEndedPayload struct {
	ArenaID string `json:"arenaId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// MatchFoundPayload is delivered to a queued player once paired
type MatchFoundPayload struct {
	ArenaID    string `json:"arenaId"`
	OpponentID string `json:"opponentId,omitempty"`
}

// UserJoinedPayload announces another participant in the room
type UserJoinedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// ChatMessagePayload is used in both directions for arena chat
type ChatMessagePayload struct {
	ArenaID   string    `json:"arenaId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

// TypingPayload backs typing_start, typing_stop and user_typing
type TypingPayload struct {
	ArenaID  string `json:"arenaId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// CodeUpdatePayload mirrors editor contents to the room
type CodeUpdatePayload struct {
	ArenaID string `json:"arenaId"`
	UserID  string `json:"userId"`
	Code    string `json:"code"`
}

// JoinMatchPayload subscribes the user to the arena's match events
type JoinMatchPayload struct {
	ArenaID string `json:"arenaId"`
	UserID  string `json:"userId"`
	MatchID string `json:"matchId,omitempty"`
}

// PlayerFinishedPayload tells the server the user passed every check
type PlayerFinishedPayload struct {
	ArenaID          string `json:"arenaId"`
	UserID           string `json:"userId"`
	CompletionTimeMs int64  `json:"completionTime"`
	Passed           bool   `json:"passed"`
	Code             string `json:"code"`
}

// QueuePayload backs join_queue and leave_queue
type QueuePayload struct {
	UserID string `json:"userId"`
}

// Millis converts a wire millisecond count to a duration
func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

package match

import (
	"time"

	"github.com/mcdev12/codearena/go/internal/arena/clock"
)

// View is the read-only picture of a session handed to the view layer
type View struct {
	ArenaID       string `json:"arena_id"`
	Phase         Phase  `json:"phase"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	RemainingSec  int64  `json:"remaining_sec"`
	Display       string `json:"display"`
	Submission    string `json:"submission"`
	CompletionMs  int64  `json:"completion_ms,omitempty"`
	RejectReason  string `json:"reject_reason,omitempty"`
	Grading       bool   `json:"grading"`
	Outcome       string `json:"outcome"`
	TokensAwarded int    `json:"tokens_awarded,omitempty"`
	WinTimeMs     int64  `json:"win_time_ms,omitempty"`
	OpponentMs    int64  `json:"opponent_time_ms,omitempty"`
	TokenPrize    int    `json:"token_prize,omitempty"`
	Stale         bool   `json:"stale"`
	Resyncs       int    `json:"resyncs"`
}

// NewView reconciles s against now. Elapsed time freezes at the user's completion
// time, or at the end of the match if they never finished.
func NewView(s Session, now time.Time) View {
	v := View{
		ArenaID:    s.ArenaID,
		Phase:      s.Phase,
		Submission: s.Submission.String(),
		Grading:    s.Grading != 0,
		Outcome:    s.Outcome.String(),
		OpponentMs: s.OpponentTime.Milliseconds(),
		TokenPrize: s.TokenPrize,
		Stale:      s.Stale,
		Resyncs:    s.Resyncs,
	}

	var elapsed time.Duration
	completion, finished := s.CompletionTime()
	switch {
	case finished:
		elapsed = completion
		v.CompletionMs = completion.Milliseconds()
	case s.Phase == PhaseEnded:
		elapsed = clock.Elapsed(s.EffectiveStart, s.EndedAt)
	case s.Phase >= PhaseActive:
		elapsed = clock.Elapsed(s.EffectiveStart, now)
	}
	v.ElapsedMs = elapsed.Milliseconds()

	if s.Phase < PhaseActive && !s.ScheduledStart.IsZero() {
		remaining := clock.Remaining(s.ScheduledStart, now)
		v.RemainingSec = int64(remaining / time.Second)
		v.Display = clock.FormatCountdown(remaining)
	} else {
		v.Display = clock.FormatStopwatch(elapsed)
	}

	if r, ok := s.Submission.(SubmissionRejected); ok {
		v.RejectReason = r.Reason
	}
	switch o := s.Outcome.(type) {
	case OutcomeWon:
		v.TokensAwarded = o.Tokens
		v.WinTimeMs = o.WinTime.Milliseconds()
	case OutcomeLost:
		v.OpponentMs = o.OpponentTime.Milliseconds()
	}
	return v
}

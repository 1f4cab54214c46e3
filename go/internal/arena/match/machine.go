package match

import (
	"time"

	"github.com/mcdev12/codearena/go/internal/arena/clock"
)

// Msg is every input the session loop consumes: channel events, clock samples,
// snapshot results and grading results.
type Msg interface {
	isMsg()
}

type ArenaActivated struct {
	ArenaID   string
	StartTime time.Time
}

type MatchStarted struct {
	StartTime time.Time
}

type OpponentFinished struct {
	CompletionTime time.Duration
}

type YouWon struct {
	Tokens  int
	WinTime time.Duration
}

type YouLost struct {
	OpponentTime time.Duration
}

type MatchEnded struct {
	Reason string
}

// SnapshotLoaded folds a point-in-time arena read into the session
type SnapshotLoaded struct {
	Status     string
	StartTime  time.Time
	TokenPrize int
}

type SnapshotFailed struct {
	Err error
}

type ClockTick struct{}

type ChannelDisconnected struct{}

type ChannelReconnected struct{}

type GradingStarted struct {
	Token uint64
}

type GradingResolved struct {
	Token  uint64
	Passed bool
	Err    error
}

func (ArenaActivated) isMsg()      {}
func (MatchStarted) isMsg()        {}
func (OpponentFinished) isMsg()    {}
func (YouWon) isMsg()              {}
func (YouLost) isMsg()             {}
func (MatchEnded) isMsg()          {}
func (SnapshotLoaded) isMsg()      {}
func (SnapshotFailed) isMsg()      {}
func (ClockTick) isMsg()           {}
func (ChannelDisconnected) isMsg() {}
func (ChannelReconnected) isMsg()  {}
func (GradingStarted) isMsg()      {}
func (GradingResolved) isMsg()     {}

// Effect is work the runner performs after a transition
type Effect interface {
	isEffect()
}

// NotifyFinished tells the server the user passed every check
type NotifyFinished struct {
	CompletionTime time.Duration
}

type RefreshProfile struct{}

type RequestSnapshot struct{}

// ClockResynced is emitted when a start correction exceeds clock.ResyncTolerance
type ClockResynced struct {
	Delta  time.Duration
	Source StartSource
}

func (NotifyFinished) isEffect()  {}
func (RefreshProfile) isEffect()  {}
func (RequestSnapshot) isEffect() {}
func (ClockResynced) isEffect()   {}

// Snapshot statuses as reported by the arena API
const (
	StatusUpcoming  = "upcoming"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusEnded     = "ended"
)

// Ordering priority per event kind, recorded in LastEventSeq
const (
	seqActivated = iota + 1
	seqStarted
	seqOpponentFinished
	seqResult
	seqEnded
)

// Apply is the transition function. It is pure: the same session, message and
// instant always produce the same result.
func Apply(s Session, m Msg, now time.Time) (Session, []Effect) {
	if s.Phase == PhaseEnded {
		// Ended absorbs everything. A resolved grading clears our own marker and a
		// fresh snapshot clears staleness; neither changes the result.
		switch r := m.(type) {
		case GradingResolved:
			if r.Token == s.Grading {
				s.Grading = 0
			}
		case SnapshotLoaded:
			s.Stale = false
		}
		return s, nil
	}

	var effects []Effect

	switch m := m.(type) {
	case ArenaActivated:
		if m.ArenaID != "" && m.ArenaID != s.ArenaID {
			return s, nil
		}
		s.observe(seqActivated)
		start := m.StartTime
		if start.IsZero() {
			start = now
		}
		if s.Phase < PhaseActive {
			s.Phase = PhaseActive
		}
		effects = s.assignStart(start, StartActivation, effects)

	case MatchStarted:
		s.observe(seqStarted)
		start := m.StartTime
		if start.IsZero() {
			start = now
		}
		if s.Phase < PhaseActive {
			s.Phase = PhaseActive
		}
		effects = s.assignStart(start, StartServer, effects)

	case OpponentFinished:
		if s.LastEventSeq > seqOpponentFinished {
			return s, nil
		}
		s.observe(seqOpponentFinished)
		s.OpponentTime = m.CompletionTime
		// An opponent can only finish a running match.
		effects = s.ensureActive(now, effects)

	case YouWon:
		s.observe(seqResult)
		effects = s.ensureActive(now, effects)
		completion, ok := s.CompletionTime()
		if !ok {
			completion = m.WinTime
		}
		s.Submission = SubmissionAccepted{CompletionTime: completion}
		s.Outcome = OutcomeWon{Tokens: m.Tokens, WinTime: m.WinTime}
		s.end(now)
		effects = append(effects, RefreshProfile{})

	case YouLost:
		s.observe(seqResult)
		effects = s.ensureActive(now, effects)
		s.Outcome = OutcomeLost{OpponentTime: m.OpponentTime}
		if s.OpponentTime == 0 {
			s.OpponentTime = m.OpponentTime
		}
		s.end(now)
		effects = append(effects, RefreshProfile{})

	case MatchEnded:
		s.observe(seqEnded)
		effects = s.finish(m.Reason, now, effects)

	case SnapshotLoaded:
		s.Stale = false
		if m.TokenPrize > 0 {
			s.TokenPrize = m.TokenPrize
		}
		switch m.Status {
		case StatusUpcoming:
			if s.Phase < PhaseActive && !m.StartTime.IsZero() {
				s.ScheduledStart = m.StartTime
				if s.Phase == PhaseUpcoming {
					s.Phase = PhaseCountingDown
				}
				effects = s.countdown(now, effects)
			}
		case StatusActive:
			start := m.StartTime
			if start.IsZero() {
				start = now
			}
			if s.Phase < PhaseActive {
				s.Phase = PhaseActive
			}
			effects = s.assignStart(start, StartSnapshot, effects)
		case StatusCompleted, StatusEnded:
			effects = s.finish("", now, effects)
		}

	case SnapshotFailed:
		s.Stale = true

	case ClockTick:
		effects = s.countdown(now, effects)

	case ChannelDisconnected:
		s.Stale = true

	case ChannelReconnected:
		s.Stale = true
		effects = append(effects, RequestSnapshot{})

	case GradingStarted:
		s.Grading = m.Token

	case GradingResolved:
		if m.Token == 0 || m.Token != s.Grading {
			return s, nil
		}
		s.Grading = 0
		if m.Err != nil || !m.Passed {
			return s, nil
		}
		if s.Phase != PhaseActive && s.Phase != PhaseAwaitingResult {
			return s, nil
		}
		if _, none := s.Submission.(SubmissionNone); !none {
			return s, nil
		}
		completion := clock.Elapsed(s.EffectiveStart, now)
		s.Submission = SubmissionPending{CompletionTime: completion}
		s.Phase = PhaseAwaitingResult
		effects = append(effects, NotifyFinished{CompletionTime: completion})
	}

	return s, effects
}

func (s *Session) observe(seq int) {
	if seq > s.LastEventSeq {
		s.LastEventSeq = seq
	}
}

// assignStart sets EffectiveStart once and afterwards only lets an equal or stronger
// source correct it. The slot is never cleared.
func (s *Session) assignStart(start time.Time, source StartSource, effects []Effect) []Effect {
	if !s.StartAssigned {
		s.EffectiveStart = start
		s.StartAssigned = true
		s.StartSource = source
		return effects
	}
	if source.rank() < s.StartSource.rank() {
		return effects
	}
	if source.rank() > s.StartSource.rank() {
		s.StartSource = source
	}
	if start.Equal(s.EffectiveStart) {
		return effects
	}

	drift := clock.Correction(s.EffectiveStart, start)
	s.EffectiveStart = start
	if drift.Visible {
		s.Resyncs++
		effects = append(effects, ClockResynced{Delta: drift.Delta, Source: source})
	}
	return effects
}

// ensureActive moves a session that is still before Active into Active, predicting the
// start as now when nothing better is known.
func (s *Session) ensureActive(now time.Time, effects []Effect) []Effect {
	if s.Phase >= PhaseActive {
		return effects
	}
	s.Phase = PhaseActive
	return s.assignStart(now, StartPredicted, effects)
}

// countdown flips to Active once the scheduled start has passed
func (s *Session) countdown(now time.Time, effects []Effect) []Effect {
	if s.Phase >= PhaseActive || s.ScheduledStart.IsZero() {
		return effects
	}
	if now.Before(s.ScheduledStart) {
		return effects
	}
	s.Phase = PhaseActive
	return s.assignStart(now, StartPredicted, effects)
}

func (s *Session) finish(reason string, now time.Time, effects []Effect) []Effect {
	effects = s.ensureActive(now, effects)
	if _, none := s.Outcome.(OutcomeNone); none {
		s.Outcome = OutcomeTimedOut{}
	}
	if _, pending := s.Submission.(SubmissionPending); pending {
		if reason == "" {
			reason = "match ended before a result"
		}
		s.Submission = SubmissionRejected{Reason: reason}
	}
	s.end(now)
	return effects
}

func (s *Session) end(now time.Time) {
	s.Phase = PhaseEnded
	s.EndedAt = now
}

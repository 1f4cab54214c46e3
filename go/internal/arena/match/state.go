package match

import (
	"fmt"
	"time"
)

// Phase is the coarse lifecycle stage of a match. Phases are ordered and only move forward,
// except that Upcoming may jump straight to Active.
type Phase int

const (
	PhaseUpcoming Phase = iota
	PhaseCountingDown
	PhaseActive
	PhaseAwaitingResult
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseUpcoming:
		return "upcoming"
	case PhaseCountingDown:
		return "counting_down"
	case PhaseActive:
		return "active"
	case PhaseAwaitingResult:
		return "awaiting_result"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Submission is the scored-attempt state: None -> Pending -> Accepted | Rejected.
type Submission interface {
	isSubmission()
	String() string
}

type SubmissionNone struct{}

type SubmissionPending struct {
	CompletionTime time.Duration
}

type SubmissionAccepted struct {
	CompletionTime time.Duration
}

type SubmissionRejected struct {
	Reason string
}

func (SubmissionNone) isSubmission()     {}
func (SubmissionPending) isSubmission()  {}
func (SubmissionAccepted) isSubmission() {}
func (SubmissionRejected) isSubmission() {}

func (SubmissionNone) String() string     { return "none" }
func (SubmissionPending) String() string  { return "pending" }
func (SubmissionAccepted) String() string { return "accepted" }
func (SubmissionRejected) String() string { return "rejected" }

// Outcome is the terminal result of a match. Once it leaves None it never changes.
type Outcome interface {
	isOutcome()
	String() string
}

type OutcomeNone struct{}

// OutcomeWon carries the token award with the result
type OutcomeWon struct {
	Tokens  int
	WinTime time.Duration
}

type OutcomeLost struct {
	OpponentTime time.Duration
}

type OutcomeTimedOut struct{}

func (OutcomeNone) isOutcome()     {}
func (OutcomeWon) isOutcome()      {}
func (OutcomeLost) isOutcome()     {}
func (OutcomeTimedOut) isOutcome() {}

func (OutcomeNone) String() string     { return "none" }
func (OutcomeWon) String() string      { return "won" }
func (OutcomeLost) String() string     { return "lost" }
func (OutcomeTimedOut) String() string { return "timed_out" }

// StartSource records who supplied EffectiveStart. A source may only be corrected by
// one of equal or higher rank.
type StartSource int

const (
	StartUnset StartSource = iota
	StartPredicted
	StartActivation
	StartSnapshot
	StartServer
)

func (s StartSource) String() string {
	switch s {
	case StartPredicted:
		return "predicted"
	case StartActivation:
		return "activation"
	case StartSnapshot:
		return "snapshot"
	case StartServer:
		return "server"
	default:
		return "unset"
	}
}

func (s StartSource) rank() int {
	switch s {
	case StartPredicted:
		return 1
	case StartActivation, StartSnapshot:
		return 2
	case StartServer:
		return 3
	default:
		return 0
	}
}

// Session is the MatchSession record. It is a plain value; only the runner's loop
// goroutine produces new versions of it.
type Session struct {
	ArenaID        string
	Phase          Phase
	ScheduledStart time.Time
	EffectiveStart time.Time
	StartAssigned  bool
	StartSource    StartSource
	Submission     Submission
	Outcome        Outcome
	LastEventSeq   int
	TokenPrize     int
	OpponentTime   time.Duration
	Stale          bool
	Resyncs        int
	Grading        uint64 // token of the in-flight grading call, 0 when none
	EndedAt        time.Time
}

func NewSession(arenaID string) Session {
	return Session{
		ArenaID:    arenaID,
		Phase:      PhaseUpcoming,
		Submission: SubmissionNone{},
		Outcome:    OutcomeNone{},
	}
}

// Terminal reports whether the session has reached Ended
func (s Session) Terminal() bool {
	return s.Phase == PhaseEnded
}

// CompletionTime returns the recorded local completion time, if the user finished
func (s Session) CompletionTime() (time.Duration, bool) {
	switch sub := s.Submission.(type) {
	case SubmissionPending:
		return sub.CompletionTime, true
	case SubmissionAccepted:
		return sub.CompletionTime, true
	default:
		return 0, false
	}
}

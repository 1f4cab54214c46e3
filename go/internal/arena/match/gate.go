package match

import (
	"errors"
)

var (
	ErrAlreadySubmitted   = errors.New("already submitted")
	ErrMatchNotActive     = errors.New("match not active")
	ErrGradingUnavailable = errors.New("grading service unavailable")
	ErrGradingRefused     = errors.New("grading service refused the submission")
	ErrSessionClosed      = errors.New("session closed")
)

// SubmitStatus is the gate's verdict on a submission attempt
type SubmitStatus string

const (
	SubmitAccepted SubmitStatus = "accepted" // graded, all checks passed, server notified
	SubmitFailed   SubmitStatus = "failed"   // graded, some checks failed; retry allowed
	SubmitRejected SubmitStatus = "rejected" // refused locally without contacting grading
)

// TestReport is one graded check as returned by the grading service
type TestReport struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Passed bool   `json:"passed"`
}

// SubmitResult is what TrySubmit reports back to the caller
type SubmitResult struct {
	Status         SubmitStatus
	Reason         error
	CompletionTime int64 // milliseconds, set when accepted
	Score          int
	Results        []TestReport
}

// CanSubmit is the gate's pre-check. It runs on the session loop so its answer cannot
// be invalidated before grading starts.
func CanSubmit(s Session) error {
	if s.Grading != 0 {
		return ErrAlreadySubmitted
	}
	if _, none := s.Submission.(SubmissionNone); !none {
		return ErrAlreadySubmitted
	}
	if s.Phase != PhaseActive && s.Phase != PhaseAwaitingResult {
		return ErrMatchNotActive
	}
	return nil
}

func rejected(err error) SubmitResult {
	return SubmitResult{Status: SubmitRejected, Reason: err}
}

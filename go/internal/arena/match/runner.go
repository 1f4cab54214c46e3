package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/mcdev12/codearena/go/clients"
	"github.com/mcdev12/codearena/go/clients/arena_api_client"
	"github.com/mcdev12/codearena/go/internal/arena/channel"
	"github.com/mcdev12/codearena/go/internal/arena/clock"
	"github.com/mcdev12/codearena/go/internal/arena/events"
)

// ArenaAPI is the slice of the REST API a match session depends on
type ArenaAPI interface {
	GetArena(ctx context.Context, arenaID string) (*arena_api_client.Arena, error)
	SubmitCode(ctx context.Context, arenaID, code, language string) (*arena_api_client.GradingResult, error)
	GetProfile(ctx context.Context, userID string) (*arena_api_client.Profile, error)
}

// Acquirer hands out room subscriptions; satisfied by *channel.Manager
type Acquirer interface {
	Acquire(ctx context.Context, room string) (*channel.Subscription, error)
}

type Config struct {
	ArenaID string
	UserID  string
	MatchID string

	// FetchTimeout bounds snapshot and profile reads
	FetchTimeout time.Duration
}

type Deps struct {
	API     ArenaAPI
	Channel Acquirer
	Clock   clock.Clock
	Logger  *zerolog.Logger
}

// Runner owns one match session. A single loop goroutine applies every message to the
// session; other goroutines only read the last published copy.
type Runner struct {
	cfg     Config
	api     ArenaAPI
	channel Acquirer
	clock   clock.Reconciler
	log     zerolog.Logger

	inbox    chan command
	loopDone chan struct{}

	state   atomic.Pointer[Session]
	profile atomic.Pointer[arena_api_client.Profile]

	mu        sync.Mutex
	started   bool
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	sub       *channel.Subscription
	observers []func(View)

	snapshots singleflight.Group

	// loop-owned
	session       Session
	nextToken     uint64
	lastCode      string
	pendingNotify *events.PlayerFinishedPayload
	timer         clockwork.Timer
	timerFor      time.Time
}

type command interface{ isCommand() }

type applyCmd struct {
	msg Msg
}

type submitCmd struct {
	code     string
	language string
	reply    chan submitReply
}

type gradedCmd struct {
	token  uint64
	code   string
	result *arena_api_client.GradingResult
	err    error
	reply  chan submitReply
}

type submitReply struct {
	result SubmitResult
	err    error
}

func (applyCmd) isCommand()  {}
func (submitCmd) isCommand() {}
func (gradedCmd) isCommand() {}

func NewRunner(cfg Config, deps Deps) *Runner {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	r := &Runner{
		cfg:      cfg,
		api:      deps.API,
		channel:  deps.Channel,
		clock:    clock.NewReconciler(deps.Clock),
		log:      logger.With().Str("arena_id", cfg.ArenaID).Str("user_id", cfg.UserID).Logger(),
		inbox:    make(chan command, 16),
		loopDone: make(chan struct{}),
		session:  NewSession(cfg.ArenaID),
	}
	r.publish()
	return r
}

// Start subscribes to the arena room, announces the user, folds in the initial snapshot
// and starts the loop. A failed snapshot leaves the session stale rather than failing.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrSessionClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}

	sub, err := r.channel.Acquire(ctx, r.cfg.ArenaID)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("subscribe arena %s: %w", r.cfg.ArenaID, err)
	}
	r.sub = sub
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.started = true
	runCtx := r.ctx
	r.mu.Unlock()

	if err := r.join(ctx); err != nil {
		r.log.Warn().Err(err).Msg("failed to join match room, will retry on reconnect")
	}

	// The loop is not running yet, so this goroutine still owns the session.
	r.apply(runCtx, r.loadSnapshot(ctx))

	go r.loop(runCtx)

	r.log.Info().Str("phase", r.Session().Phase.String()).Msg("match session started")
	return nil
}

// Teardown stops the session: it unsubscribes, cancels in-flight grading and fetches,
// and waits for the loop to exit. Results that arrive afterwards are dropped.
// Safe to call more than once. Must not be called from an OnChange observer.
func (r *Runner) Teardown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	started := r.started
	if r.cancel != nil {
		r.cancel()
	}
	sub := r.sub
	r.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if started {
		<-r.loopDone
	} else {
		close(r.loopDone)
	}

	r.log.Info().Msg("match session torn down")
}

// Snapshot returns the current view, reconciled against the clock at call time
func (r *Runner) Snapshot() View {
	return NewView(*r.state.Load(), r.clock.Now())
}

// Session returns a copy of the last published session
func (r *Runner) Session() Session {
	return *r.state.Load()
}

// Profile returns the profile fetched after the last terminal outcome, if any
func (r *Runner) Profile() *arena_api_client.Profile {
	return r.profile.Load()
}

// OnChange registers an observer called on the loop goroutine after every transition
func (r *Runner) OnChange(fn func(View)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// TrySubmit grades code and, if every check passes, records the completion time and
// notifies the server. A local rejection is returned as ErrAlreadySubmitted or
// ErrMatchNotActive. A grading failure wraps ErrGradingUnavailable when a retry may
// succeed and ErrGradingRefused when it cannot.
func (r *Runner) TrySubmit(ctx context.Context, code, language string) (SubmitResult, error) {
	r.mu.Lock()
	started, closed := r.started, r.closed
	r.mu.Unlock()
	if closed {
		return rejected(ErrSessionClosed), ErrSessionClosed
	}
	if !started {
		return rejected(ErrMatchNotActive), ErrMatchNotActive
	}

	reply := make(chan submitReply, 1)
	select {
	case r.inbox <- submitCmd{code: code, language: language, reply: reply}:
	case <-r.loopDone:
		return rejected(ErrSessionClosed), ErrSessionClosed
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.result, res.err
	case <-r.loopDone:
		return rejected(ErrSessionClosed), ErrSessionClosed
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.loopDone)
	defer r.stopTimer()

	r.armCountdown(ctx)

	for {
		var timerC <-chan time.Time
		if r.timer != nil {
			timerC = r.timer.Chan()
		}

		select {
		case <-ctx.Done():
			return

		case <-r.sub.Done():
			return

		case ev := <-r.sub.Events():
			r.handleEvent(ctx, ev)

		case <-timerC:
			r.timer = nil
			r.timerFor = time.Time{}
			r.apply(ctx, ClockTick{})

		case cmd := <-r.inbox:
			switch c := cmd.(type) {
			case applyCmd:
				r.apply(ctx, c.msg)
			case submitCmd:
				r.startGrading(ctx, c)
			case gradedCmd:
				r.finishGrading(ctx, c)
			}
		}
	}
}

func (r *Runner) handleEvent(ctx context.Context, ev *channel.ArenaEvent) {
	switch ev.Type {
	case channel.EventTypeDisconnected:
		r.apply(ctx, ChannelDisconnected{})
		return
	case channel.EventTypeReconnected:
		if err := r.join(ctx); err != nil {
			r.log.Warn().Err(err).Msg("failed to rejoin match room")
		}
		r.apply(ctx, ChannelReconnected{})
		r.flushNotify(ctx)
		return
	}

	payload, err := channel.ParseEventPayload(ev)
	if err != nil {
		r.log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("dropping undecodable event")
		return
	}
	msg := r.toMsg(payload)
	if msg == nil {
		r.log.Debug().Str("event_type", string(ev.Type)).Msg("ignoring event")
		return
	}
	r.apply(ctx, msg)
}

func (r *Runner) toMsg(payload any) Msg {
	switch p := payload.(type) {
	case events.ArenaActivatedPayload:
		return ArenaActivated{ArenaID: p.ArenaID, StartTime: p.StartTime.Time}
	case events.MatchStartedPayload:
		if p.ArenaID != "" && p.ArenaID != r.cfg.ArenaID {
			return nil
		}
		return MatchStarted{StartTime: p.StartTime.Time}
	case events.OpponentFinishedPayload:
		if p.UserID != "" && p.UserID == r.cfg.UserID {
			return nil
		}
		return OpponentFinished{CompletionTime: events.Millis(p.CompletionTimeMs)}
	case events.YouWonPayload:
		return YouWon{Tokens: p.TokensAwarded, WinTime: events.Millis(p.WinTimeMs)}
	case events.YouLostPayload:
		return YouLost{OpponentTime: events.Millis(p.OpponentTimeMs)}
	case events.MatchEndedPayload:
		if p.ArenaID != "" && p.ArenaID != r.cfg.ArenaID {
			return nil
		}
		return MatchEnded{Reason: p.Reason}
	default:
		return nil
	}
}

// apply runs the transition function, publishes the result and executes its effects
func (r *Runner) apply(ctx context.Context, msg Msg) {
	prev := r.session
	next, effects := Apply(prev, msg, r.clock.Now())
	r.session = next
	r.publish()

	if prev.Phase != next.Phase {
		r.log.Info().
			Str("from", prev.Phase.String()).
			Str("to", next.Phase.String()).
			Str("msg", fmt.Sprintf("%T", msg)).
			Msg("match phase changed")
	} else {
		r.log.Debug().Str("msg", fmt.Sprintf("%T", msg)).Msg("applied")
	}

	for _, eff := range effects {
		r.execute(ctx, eff)
	}
	r.armCountdown(ctx)
	r.notifyObservers()
}

func (r *Runner) execute(ctx context.Context, eff Effect) {
	switch e := eff.(type) {
	case NotifyFinished:
		r.pendingNotify = &events.PlayerFinishedPayload{
			ArenaID:          r.cfg.ArenaID,
			UserID:           r.cfg.UserID,
			CompletionTimeMs: e.CompletionTime.Milliseconds(),
			Passed:           true,
			Code:             r.lastCode,
		}
		r.flushNotify(ctx)

	case RefreshProfile:
		r.refreshProfile(ctx)

	case RequestSnapshot:
		r.refetchSnapshot(ctx)

	case ClockResynced:
		r.log.Info().
			Dur("delta", e.Delta).
			Str("source", e.Source.String()).
			Msg("match clock resynced")
	}
}

// flushNotify sends player_finished. It is retried after a reconnect until one write succeeds.
func (r *Runner) flushNotify(ctx context.Context) {
	if r.pendingNotify == nil {
		return
	}
	if err := r.sub.Send(ctx, channel.EventTypePlayerFinished, *r.pendingNotify); err != nil {
		r.log.Warn().Err(err).Msg("failed to send player_finished, will retry on reconnect")
		return
	}
	r.log.Info().Int64("completion_ms", r.pendingNotify.CompletionTimeMs).Msg("player finished")
	r.pendingNotify = nil
}

func (r *Runner) join(ctx context.Context) error {
	return r.sub.Send(ctx, channel.EventTypeJoinMatch, events.JoinMatchPayload{
		ArenaID: r.cfg.ArenaID,
		UserID:  r.cfg.UserID,
		MatchID: r.cfg.MatchID,
	})
}

func (r *Runner) startGrading(ctx context.Context, c submitCmd) {
	if err := CanSubmit(r.session); err != nil {
		c.reply <- submitReply{result: rejected(err), err: err}
		return
	}

	r.nextToken++
	token := r.nextToken
	r.apply(ctx, GradingStarted{Token: token})

	go func() {
		res, err := r.api.SubmitCode(ctx, r.cfg.ArenaID, c.code, c.language)
		graded := gradedCmd{token: token, code: c.code, result: res, err: err, reply: c.reply}
		select {
		case r.inbox <- graded:
		case <-ctx.Done():
			// torn down; the result is discarded
		}
	}()
}

func (r *Runner) finishGrading(ctx context.Context, c gradedCmd) {
	passed := c.err == nil && c.result != nil && c.result.AllPassed
	if passed {
		r.lastCode = c.code
	}

	before := r.session
	r.apply(ctx, GradingResolved{Token: c.token, Passed: passed, Err: c.err})

	var reply submitReply
	switch {
	case c.err != nil:
		// only transport faults and 5xx/429 are worth retrying
		kind := ErrGradingRefused
		if clients.IsTemporary(c.err) {
			kind = ErrGradingUnavailable
		}
		err := fmt.Errorf("%w: %w", kind, c.err)
		reply = submitReply{result: SubmitResult{Status: SubmitRejected, Reason: err}, err: err}
	case !passed:
		reply = submitReply{result: gradedResult(SubmitFailed, c.result)}
	default:
		_, wasNone := before.Submission.(SubmissionNone)
		pending, nowPending := r.session.Submission.(SubmissionPending)
		if wasNone && nowPending {
			res := gradedResult(SubmitAccepted, c.result)
			res.CompletionTime = pending.CompletionTime.Milliseconds()
			reply = submitReply{result: res}
		} else {
			// the match ended while grading was in flight
			reply = submitReply{result: rejected(ErrMatchNotActive), err: ErrMatchNotActive}
		}
	}
	c.reply <- reply
}

func gradedResult(status SubmitStatus, g *arena_api_client.GradingResult) SubmitResult {
	res := SubmitResult{Status: status}
	if g == nil {
		return res
	}
	res.Score = g.Score
	for _, t := range g.Results {
		res.Results = append(res.Results, TestReport{Input: t.Input, Output: t.Output, Passed: t.Passed})
	}
	return res
}

func (r *Runner) loadSnapshot(ctx context.Context) Msg {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	arena, err := r.api.GetArena(fetchCtx, r.cfg.ArenaID)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to fetch arena snapshot")
		return SnapshotFailed{Err: err}
	}
	return SnapshotLoaded{
		Status:     arena.Status,
		StartTime:  arena.StartTime.Time,
		TokenPrize: arena.TokenPrize,
	}
}

// refetchSnapshot reloads the arena off the loop; concurrent requests share one fetch
func (r *Runner) refetchSnapshot(ctx context.Context) {
	go func() {
		v, _, _ := r.snapshots.Do(r.cfg.ArenaID, func() (interface{}, error) {
			return r.loadSnapshot(ctx), nil
		})
		select {
		case r.inbox <- applyCmd{msg: v.(Msg)}:
		case <-ctx.Done():
		}
	}()
}

func (r *Runner) refreshProfile(ctx context.Context) {
	if r.cfg.UserID == "" {
		return
	}
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
		defer cancel()

		profile, err := r.api.GetProfile(fetchCtx, r.cfg.UserID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Warn().Err(err).Msg("failed to refresh profile")
			}
			return
		}
		r.profile.Store(profile)
		r.log.Info().Int("tokens", profile.Tokens).Msg("profile refreshed")
	}()
}

// armCountdown keeps exactly one timer pending for the scheduled start
func (r *Runner) armCountdown(ctx context.Context) {
	s := r.session
	if s.Phase >= PhaseActive || s.ScheduledStart.IsZero() {
		r.stopTimer()
		return
	}
	if r.timer != nil && r.timerFor.Equal(s.ScheduledStart) {
		return
	}
	r.stopTimer()

	wait := r.clock.Until(s.ScheduledStart)
	if wait <= 0 {
		r.apply(ctx, ClockTick{})
		return
	}
	r.timer = r.clock.NewTimer(wait)
	r.timerFor = s.ScheduledStart
}

func (r *Runner) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
		r.timerFor = time.Time{}
	}
}

func (r *Runner) publish() {
	s := r.session
	r.state.Store(&s)
}

func (r *Runner) notifyObservers() {
	r.mu.Lock()
	observers := make([]func(View), len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()
	if len(observers) == 0 {
		return
	}

	view := r.Snapshot()
	for _, fn := range observers {
		fn(view)
	}
}

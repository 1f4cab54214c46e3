package viewapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codearena/go/clients"
	"github.com/mcdev12/codearena/go/clients/arena_api_client"
	"github.com/mcdev12/codearena/go/internal/arena/match"
	"github.com/mcdev12/codearena/go/internal/arena/queue"
)

type fakeSession struct {
	view      match.View
	profile   *arena_api_client.Profile
	result    match.SubmitResult
	err       error
	torndown  atomic.Int32
	submitted atomic.Int32
}

func (f *fakeSession) Snapshot() match.View { return f.view }

func (f *fakeSession) Profile() *arena_api_client.Profile { return f.profile }

func (f *fakeSession) TrySubmit(ctx context.Context, code, language string) (match.SubmitResult, error) {
	f.submitted.Add(1)
	return f.result, f.err
}

func (f *fakeSession) Teardown() { f.torndown.Add(1) }

type fakeQueue struct {
	session  queue.QueueSession
	err      error
	quickErr error
}

func (q *fakeQueue) QuickMatch(ctx context.Context) (string, error) {
	if q.quickErr != nil {
		return "", q.quickErr
	}
	return "quick-1", nil
}

func (q *fakeQueue) Enqueue(ctx context.Context, userID string) error {
	if q.err != nil {
		return q.err
	}
	q.session.Status = queue.StatusQueued
	return nil
}

func (q *fakeQueue) Cancel(ctx context.Context) error {
	if q.err != nil {
		return q.err
	}
	q.session.Status = queue.StatusCancelled
	return nil
}

func (q *fakeQueue) Session() queue.QueueSession { return q.session }
func (q *fakeQueue) QueueTime() time.Duration  { return 12 * time.Second }

func newTestServer(t *testing.T, factory SessionFactory, q Queue) (*httptest.Server, *Handler) {
	t.Helper()
	return newServerWithDeps(t, Deps{Factory: factory, Queue: q, UserID: "user-1"})
}

func newServerWithDeps(t *testing.T, deps Deps) (*httptest.Server, *Handler) {
	t.Helper()
	h := NewHandler(deps)
	srv := httptest.NewServer(Routes(h))
	t.Cleanup(srv.Close)
	return srv, h
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestMountAndView(t *testing.T) {
	sess := &fakeSession{view: match.View{ArenaID: "a1", Phase: match.PhaseActive, Display: "0:02.00"}}
	var calls atomic.Int32
	factory := func(ctx context.Context, arenaID string) (MatchSession, error) {
		calls.Add(1)
		return sess, nil
	}
	srv, _ := newTestServer(t, factory, nil)

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/arenas/a1/session", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/arenas/a1/session", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, string(body), `"display":"0:02.00"`)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/arenas/a1/session", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "second mount reuses the session")

	resp, body = do(t, http.MethodGet, srv.URL+"/api/arenas/a1/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v map[string]any
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "a1", v["arena_id"])
	assert.Equal(t, "active", v["phase"])

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/arenas/a1/session", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(1), sess.torndown.Load())

	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/arenas/a1/session", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMountFailure(t *testing.T) {
	factory := func(ctx context.Context, arenaID string) (MatchSession, error) {
		return nil, errors.New("channel down")
	}
	srv, _ := newTestServer(t, factory, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/arenas/a1/session", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "Failed to open arena session")
}

func TestSubmitStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		result     match.SubmitResult
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "accepted",
			result:     match.SubmitResult{Status: match.SubmitAccepted, CompletionTime: 2000, Score: 3},
			wantStatus: http.StatusOK,
			wantBody:   `"completion_ms":2000`,
		},
		{
			name:       "failed checks",
			result:     match.SubmitResult{Status: match.SubmitFailed, Score: 1},
			wantStatus: http.StatusOK,
			wantBody:   `"status":"failed"`,
		},
		{
			name:       "already submitted",
			result:     match.SubmitResult{Status: match.SubmitRejected, Reason: match.ErrAlreadySubmitted},
			err:        match.ErrAlreadySubmitted,
			wantStatus: http.StatusConflict,
			wantBody:   `"status":"rejected"`,
		},
		{
			name:       "not active",
			result:     match.SubmitResult{Status: match.SubmitRejected, Reason: match.ErrMatchNotActive},
			err:        match.ErrMatchNotActive,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "grading down",
			result:     match.SubmitResult{Status: match.SubmitRejected},
			err:        fmt.Errorf("%w: %w", match.ErrGradingUnavailable, errors.New("502")),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "grading refused",
			result:     match.SubmitResult{Status: match.SubmitRejected},
			err:        fmt.Errorf("%w: %w", match.ErrGradingRefused, &clients.APIError{StatusCode: http.StatusUnauthorized}),
			wantStatus: http.StatusBadGateway,
			wantBody:   `"status":"rejected"`,
		},
		{
			name:       "session closed",
			err:        match.ErrSessionClosed,
			wantStatus: http.StatusGone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{result: tt.result, err: tt.err}
			factory := func(ctx context.Context, arenaID string) (MatchSession, error) { return sess, nil }
			srv, h := newTestServer(t, factory, nil)
			_, _, err := h.Mount(context.Background(), "a1")
			require.NoError(t, err)

			resp, body := do(t, http.MethodPost, srv.URL+"/api/arenas/a1/submit", `{"code":"print(1)","language":"python"}`)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantBody != "" {
				assert.Contains(t, string(body), tt.wantBody)
			}
			assert.Equal(t, int32(1), sess.submitted.Load())
		})
	}
}

func TestSubmitBadRequests(t *testing.T) {
	sess := &fakeSession{}
	factory := func(ctx context.Context, arenaID string) (MatchSession, error) { return sess, nil }
	srv, h := newTestServer(t, factory, nil)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/arenas/a1/submit", `{"code":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, _, err := h.Mount(context.Background(), "a1")
	require.NoError(t, err)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/arenas/a1/submit", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/arenas/a1/submit", `{"code":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(0), sess.submitted.Load())
}

func TestQueueRoutes(t *testing.T) {
	q := &fakeQueue{}
	srv, _ := newTestServer(t, nil, q)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/queue", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"queued"`)
	assert.Contains(t, string(body), `"queue_time_sec":12`)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/queue", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"queued"`)

	resp, body = do(t, http.MethodDelete, srv.URL+"/api/queue", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"cancelled"`)

	q.err = queue.ErrAlreadyQueued
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/queue", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	q.err = queue.ErrNotQueued
	resp, _ = do(t, http.MethodDelete, srv.URL+"/api/queue", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCloseTearsDownSessions(t *testing.T) {
	sessions := map[string]*fakeSession{"a1": {}, "a2": {}}
	factory := func(ctx context.Context, arenaID string) (MatchSession, error) { return sessions[arenaID], nil }
	h := NewHandler(Deps{Factory: factory, UserID: "user-1"})

	for id := range sessions {
		_, created, err := h.Mount(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, created)
	}
	h.Close()

	for id, s := range sessions {
		assert.Equal(t, int32(1), s.torndown.Load(), id)
	}
	assert.False(t, h.Unmount("a1"))
}

func TestHealthAndCORS(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/arenas/a1/session", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	pre, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer pre.Body.Close()
	assert.Equal(t, "*", pre.Header.Get("Access-Control-Allow-Origin"))
}

func TestInfo(t *testing.T) {
	factory := func(ctx context.Context, arenaID string) (MatchSession, error) { return &fakeSession{}, nil }
	h := NewHandler(Deps{Factory: factory, UserID: "user-1"})
	h.SetStatsProvider(func() map[string]interface{} {
		return map[string]interface{}{"active_rooms": 1}
	})
	srv := httptest.NewServer(Routes(h))
	t.Cleanup(srv.Close)

	_, _, err := h.Mount(context.Background(), "a1")
	require.NoError(t, err)

	resp, body := do(t, http.MethodGet, srv.URL+"/info", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"service":"arena-sync","sessions":["a1"],"channel":{"active_rooms":1}}`, string(body))
}

func TestMountDoesNotBlockOtherArenas(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var slowCalls atomic.Int32
	factory := func(ctx context.Context, arenaID string) (MatchSession, error) {
		if arenaID == "slow" {
			if slowCalls.Add(1) == 1 {
				close(entered)
			}
			<-release
		}
		return &fakeSession{view: match.View{ArenaID: arenaID, Phase: match.PhaseActive}}, nil
	}
	srv, h := newTestServer(t, factory, nil)
	unblock := sync.OnceFunc(func() { close(release) })
	t.Cleanup(unblock)

	_, _, err := h.Mount(context.Background(), "a1")
	require.NoError(t, err)

	mounted := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/arenas/slow/session", "application/json", nil)
		if err != nil {
			mounted <- 0
			return
		}
		resp.Body.Close()
		mounted <- resp.StatusCode
	}()
	<-entered

	client := &http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(srv.URL + "/api/arenas/a1/session")
	require.NoError(t, err, "reading a mounted arena must not wait for another arena's mount")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/api/arenas/slow/session")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "a mount in flight is not visible yet")

	unblock()
	assert.Equal(t, http.StatusCreated, <-mounted)
	_, ok := h.session("slow")
	assert.True(t, ok)
	assert.Equal(t, int32(1), slowCalls.Load())

	// a later mount reuses the session without calling the factory
	_, created, err := h.Mount(context.Background(), "slow")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int32(1), slowCalls.Load())
}

func TestMountAfterCloseTearsDown(t *testing.T) {
	sess := &fakeSession{}
	h := NewHandler(Deps{Factory: func(ctx context.Context, arenaID string) (MatchSession, error) {
		return sess, nil
	}})
	h.Close()

	_, _, err := h.Mount(context.Background(), "a1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int32(1), sess.torndown.Load())
}

func TestSessionIncludesProfile(t *testing.T) {
	sess := &fakeSession{
		view:    match.View{ArenaID: "a1", Phase: match.PhaseEnded},
		profile: &arena_api_client.Profile{ID: "user-1", Tokens: 150},
	}
	srv, h := newTestServer(t, func(ctx context.Context, arenaID string) (MatchSession, error) { return sess, nil }, nil)
	_, _, err := h.Mount(context.Background(), "a1")
	require.NoError(t, err)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/arenas/a1/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v struct {
		Phase   string `json:"phase"`
		Profile struct {
			Tokens int `json:"tokens"`
		} `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "ended", v.Phase)
	assert.Equal(t, 150, v.Profile.Tokens)
}

type fakeDirectory struct {
	status   string
	joined   []string
	joinErr  error
	listErr  error
	profiles map[string]*arena_api_client.Profile
}

func (d *fakeDirectory) ListArenas(ctx context.Context, status string) ([]arena_api_client.Arena, error) {
	d.status = status
	if d.listErr != nil {
		return nil, d.listErr
	}
	return []arena_api_client.Arena{{ID: "a1", Title: "Two Sum", Status: status}}, nil
}

func (d *fakeDirectory) JoinArena(ctx context.Context, arenaID string) error {
	if d.joinErr != nil {
		return d.joinErr
	}
	d.joined = append(d.joined, arenaID)
	return nil
}

func (d *fakeDirectory) Leaderboard(ctx context.Context) ([]arena_api_client.LeaderboardEntry, error) {
	return []arena_api_client.LeaderboardEntry{{ID: "user-1", Username: "ada", Tokens: 900, Wins: 12}}, nil
}

func (d *fakeDirectory) GetProfile(ctx context.Context, userID string) (*arena_api_client.Profile, error) {
	p, ok := d.profiles[userID]
	if !ok {
		return nil, &clients.APIError{StatusCode: http.StatusNotFound, Body: "no such user"}
	}
	return p, nil
}

func TestDirectoryRoutes(t *testing.T) {
	dir := &fakeDirectory{profiles: map[string]*arena_api_client.Profile{
		"user-1": {ID: "user-1", Username: "ada", Tokens: 900},
	}}
	var mounted atomic.Int32
	factory := func(ctx context.Context, arenaID string) (MatchSession, error) {
		mounted.Add(1)
		return &fakeSession{view: match.View{ArenaID: arenaID, Phase: match.PhaseCountingDown}}, nil
	}
	srv, h := newServerWithDeps(t, Deps{Factory: factory, Directory: dir, UserID: "user-1"})

	t.Run("list", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, srv.URL+"/api/arenas?status=upcoming", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "upcoming", dir.status)
		assert.Contains(t, string(body), `"title":"Two Sum"`)
	})

	t.Run("join mounts the arena", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, srv.URL+"/api/arenas/a7/join", "")
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Contains(t, string(body), `"arena_id":"a7"`)
		assert.Equal(t, []string{"a7"}, dir.joined)
		_, ok := h.session("a7")
		assert.True(t, ok)
	})

	t.Run("join refused", func(t *testing.T) {
		dir.joinErr = &clients.APIError{StatusCode: http.StatusConflict, Body: "arena full"}
		defer func() { dir.joinErr = nil }()
		before := mounted.Load()

		resp, _ := do(t, http.MethodPost, srv.URL+"/api/arenas/a8/join", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, before, mounted.Load())
	})

	t.Run("leaderboard", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, srv.URL+"/api/leaderboard", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `[{"_id":"user-1","username":"ada","tokens":900,"wins":12}]`, string(body))
	})

	t.Run("profile", func(t *testing.T) {
		resp, body := do(t, http.MethodGet, srv.URL+"/api/profile", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"tokens":900`)
	})

	t.Run("list upstream failure", func(t *testing.T) {
		dir.listErr = errors.New("connection refused")
		defer func() { dir.listErr = nil }()

		resp, _ := do(t, http.MethodGet, srv.URL+"/api/arenas", "")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestProfileNotFound(t *testing.T) {
	srv, _ := newServerWithDeps(t, Deps{Directory: &fakeDirectory{}, UserID: "ghost"})

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/profile", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuickMatchMountsArena(t *testing.T) {
	q := &fakeQueue{}
	factory := func(ctx context.Context, arenaID string) (MatchSession, error) {
		return &fakeSession{view: match.View{ArenaID: arenaID, Phase: match.PhaseActive}}, nil
	}
	srv, h := newTestServer(t, factory, q)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/queue/quick-match", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, string(body), `"arena_id":"quick-1"`)
	_, ok := h.session("quick-1")
	assert.True(t, ok)

	q.quickErr = errors.New("no open arenas")
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/queue/quick-match", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

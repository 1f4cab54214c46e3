package arena_api_client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/codearena/go/clients"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *ArenaApiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewArenaApiClient(srv.URL, "tok")
}

func TestGetArena(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/arenas/a1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"_id":"a1","title":"Two Sum","status":"upcoming","startTime":"2026-03-01T18:00:05Z","tokenPrize":50}`))
	})

	arena, err := c.GetArena(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", arena.ID)
	assert.Equal(t, StatusUpcoming, arena.Status)
	assert.Equal(t, 50, arena.TokenPrize)
	assert.True(t, arena.StartTime.Equal(time.Date(2026, 3, 1, 18, 0, 5, 0, time.UTC)))
}

func TestListArenas(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`[{"_id":"a1","status":"active"},{"_id":"a2","status":"active"}]`))
	})

	arenas, err := c.ListArenas(context.Background(), "active")
	require.NoError(t, err)
	require.Len(t, arenas, 2)
	assert.Equal(t, "a2", arenas[1].ID)
}

func TestSubmitCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/arenas/a1/submit", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "print(1)", req["code"])
		assert.Equal(t, "python", req["language"])

		_, _ = w.Write([]byte(`{"allPassed":false,"score":1,"results":[{"passed":true,"output":"1"},{"passed":false,"output":"2"}]}`))
	})

	res, err := c.SubmitCode(context.Background(), "a1", "print(1)", "python")
	require.NoError(t, err)
	assert.False(t, res.AllPassed)
	assert.Equal(t, 1, res.Score)
	require.Len(t, res.Results, 2)
	assert.False(t, res.Results[1].Passed)
}

func TestProfileLeaderboardAndQuickMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/u1":
			_, _ = w.Write([]byte(`{"_id":"u1","username":"ada","tokens":150}`))
		case "/leaderboard":
			_, _ = w.Write([]byte(`[{"_id":"u1","username":"ada","tokens":150,"wins":3}]`))
		case "/matchmaking/quick-match":
			assert.Equal(t, http.MethodPost, r.Method)
			_, _ = w.Write([]byte(`{"arena":{"_id":"a9","status":"upcoming"}}`))
		case "/arenas/a9/join":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	profile, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 150, profile.Tokens)

	board, err := c.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 3, board[0].Wins)

	qm, err := c.QuickMatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a9", qm.ArenaID)

	assert.NoError(t, c.JoinArena(ctx, "a9"))
}

func TestErrorMapping(t *testing.T) {
	status := http.StatusServiceUnavailable
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "grader down", status)
	})

	_, err := c.SubmitCode(context.Background(), "a1", "x", "go")
	require.Error(t, err)

	var apiErr *clients.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "grader down")
	assert.True(t, clients.IsTemporary(err))

	status = http.StatusNotFound
	_, err = c.GetArena(context.Background(), "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, clients.IsTemporary(err))
}

func TestTransportErrorIsTemporary(t *testing.T) {
	c := NewArenaApiClient("http://127.0.0.1:1", "")
	c.SetTimeout(200 * time.Millisecond)

	_, err := c.GetProfile(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, clients.IsTemporary(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.GetProfile(ctx, "u1")
	assert.False(t, clients.IsTemporary(err))
}

func TestMalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := c.GetArena(context.Background(), "a1")
	assert.Error(t, err)
}

package arena_api_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mcdev12/codearena/go/internal/arena/events"
)

type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

type Participant struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type Arena struct {
	ID           string           `json:"_id"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Difficulty   string           `json:"difficulty,omitempty"`
	Status       string           `json:"status"`
	StartTime    events.Timestamp `json:"startTime"`
	Duration     int              `json:"duration,omitempty"` // minutes
	EntryFee     int              `json:"entryFee,omitempty"`
	TokenPrize   int              `json:"tokenPrize"`
	MaxPlayers   int              `json:"maxParticipants,omitempty"`
	Participants []Participant    `json:"participants,omitempty"`
	TestCases    []TestCase       `json:"testCases,omitempty"`
	WinnerID     string           `json:"winner,omitempty"`
}

type TestResult struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output"`
	Passed bool   `json:"passed"`
}

type GradingResult struct {
	AllPassed bool         `json:"allPassed"`
	Score     int          `json:"score"`
	Results   []TestResult `json:"results"`
}

type submitRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (c *ArenaApiClient) GetArena(ctx context.Context, arenaID string) (*Arena, error) {
	body, err := c.Get(ctx, fmt.Sprintf("%s/%s", ArenasEndpoint, escape(arenaID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get arena %s: %w", arenaID, err)
	}
	return decode[Arena](body)
}

// ListArenas lists arenas, optionally filtered by status
func (c *ArenaApiClient) ListArenas(ctx context.Context, status string) ([]Arena, error) {
	endpoint := ArenasEndpoint
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", ArenasEndpoint, url.QueryEscape(status))
	}
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list arenas: %w", err)
	}
	arenas, err := decode[[]Arena](body)
	if err != nil {
		return nil, err
	}
	return *arenas, nil
}

func (c *ArenaApiClient) JoinArena(ctx context.Context, arenaID string) error {
	if _, err := c.Post(ctx, fmt.Sprintf("%s/%s/join", ArenasEndpoint, escape(arenaID)), nil); err != nil {
		return fmt.Errorf("failed to join arena %s: %w", arenaID, err)
	}
	return nil
}

// SubmitCode runs the arena's test cases against code. It does not notify the opponent.
func (c *ArenaApiClient) SubmitCode(ctx context.Context, arenaID, code, language string) (*GradingResult, error) {
	payload, err := json.Marshal(submitRequest{Code: code, Language: language})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}

	body, err := c.Post(ctx, fmt.Sprintf("%s/%s/submit", ArenasEndpoint, escape(arenaID)), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to submit code: %w", err)
	}
	return decode[GradingResult](body)
}

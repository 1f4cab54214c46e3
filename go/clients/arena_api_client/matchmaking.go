package arena_api_client

import (
	"context"
	"fmt"
)

type QuickMatchResult struct {
	ArenaID string `json:"arenaId"`
	Message string `json:"message,omitempty"`
	Arena   *Arena `json:"arena,omitempty"`
}

// QuickMatch asks the server to place the user in any open arena, bypassing the queue
func (c *ArenaApiClient) QuickMatch(ctx context.Context) (*QuickMatchResult, error) {
	body, err := c.Post(ctx, QuickMatchEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to quick match: %w", err)
	}
	res, err := decode[QuickMatchResult](body)
	if err != nil {
		return nil, err
	}
	if res.ArenaID == "" && res.Arena != nil {
		res.ArenaID = res.Arena.ID
	}
	return res, nil
}

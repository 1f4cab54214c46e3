package arena_api_client

import (
	"context"
	"fmt"
)

type Profile struct {
	ID          string `json:"_id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	Tokens      int    `json:"tokens"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	GamesPlayed int    `json:"gamesPlayed"`
}

type LeaderboardEntry struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Tokens   int    `json:"tokens"`
	Wins     int    `json:"wins"`
}

func (c *ArenaApiClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	body, err := c.Get(ctx, fmt.Sprintf("%s/%s", UsersEndpoint, escape(userID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	return decode[Profile](body)
}

// Leaderboard returns the top players by tokens
func (c *ArenaApiClient) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	body, err := c.Get(ctx, LeaderboardEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	entries, err := decode[[]LeaderboardEntry](body)
	if err != nil {
		return nil, err
	}
	return *entries, nil
}

package arena_api_client

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mcdev12/codearena/go/clients"
)

type ArenaApiClient struct {
	*clients.BaseClient
}

// NewArenaApiClient returns a client for the arena REST API. token may be empty for
// anonymous reads.
func NewArenaApiClient(baseURL, token string) *ArenaApiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := &ArenaApiClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader(AcceptHeader, JsonContentType)
	if token != "" {
		client.SetHeader(AuthorizationHeader, "Bearer "+token)
	}

	return client
}

func decode[T any](body []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	return &v, nil
}

func escape(id string) string {
	return url.PathEscape(id)
}

package arena_api_client

const (
	// Base URL
	DefaultBaseURL = "http://localhost:5000"

	// API Endpoints
	ArenasEndpoint      = "/arenas"
	UsersEndpoint       = "/users"
	LeaderboardEndpoint = "/leaderboard"
	QuickMatchEndpoint  = "/matchmaking/quick-match"

	// Arena statuses
	StatusUpcoming  = "upcoming"
	StatusActive    = "active"
	StatusCompleted = "completed"

	// Headers
	AuthorizationHeader = "Authorization"
	AcceptHeader        = "Accept"
	JsonContentType     = "application/json"
)

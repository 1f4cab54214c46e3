package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/codearena/go/clients/arena_api_client"
)

const (
	transportWebSocket = "websocket"
	transportNATS      = "nats"
)

type Config struct {
	API struct {
		BaseURL      string        `yaml:"base_url"`
		Token        string        `yaml:"token"`
		FetchTimeout time.Duration `yaml:"fetch_timeout"`
	} `yaml:"api"`

	User struct {
		ID string `yaml:"id"`
	} `yaml:"user"`

	Channel struct {
		Transport        string        `yaml:"transport"`
		WebSocketURL     string        `yaml:"websocket_url"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		NATSURL          string        `yaml:"nats_url"`
		SubjectPrefix    string        `yaml:"subject_prefix"`
		JetStream        bool          `yaml:"jetstream"`
		SubscriberBuffer int           `yaml:"subscriber_buffer"`
		ReconnectMax     time.Duration `yaml:"reconnect_max"`
	} `yaml:"channel"`

	View struct {
		Port string `yaml:"port"`
	} `yaml:"view"`

	// Arenas listed here are mounted at startup
	Arenas []string `yaml:"arenas"`
	// Enqueue into matchmaking at startup
	AutoQueue bool `yaml:"auto_queue"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// configFromEnv builds the baseline configuration from the environment
func configFromEnv() *Config {
	var cfg Config
	cfg.API.BaseURL = getEnv("ARENA_API_URL", arena_api_client.DefaultBaseURL)
	cfg.API.Token = getEnv("ARENA_TOKEN", "")
	cfg.API.FetchTimeout = getEnvAsDuration("ARENA_FETCH_TIMEOUT", 10*time.Second)

	cfg.User.ID = getEnv("ARENA_USER_ID", "")

	cfg.Channel.Transport = getEnv("ARENA_TRANSPORT", transportWebSocket)
	cfg.Channel.WebSocketURL = getEnv("ARENA_WS_URL", "ws://localhost:5000/ws/arena")
	cfg.Channel.PingInterval = getEnvAsDuration("ARENA_WS_PING_INTERVAL", 30*time.Second)
	cfg.Channel.NATSURL = getEnv("NATS_URL", "nats://localhost:4222")
	cfg.Channel.SubjectPrefix = getEnv("ARENA_SUBJECT_PREFIX", "arena")
	cfg.Channel.JetStream = getEnvAsBool("ARENA_JETSTREAM", false)
	cfg.Channel.SubscriberBuffer = getEnvAsInt("ARENA_SUBSCRIBER_BUFFER", 32)
	cfg.Channel.ReconnectMax = getEnvAsDuration("ARENA_RECONNECT_MAX", 15*time.Second)

	cfg.View.Port = getEnv("PORT", "8090")

	if arena := getEnv("ARENA_ID", ""); arena != "" {
		cfg.Arenas = []string{arena}
	}
	cfg.AutoQueue = getEnvAsBool("ARENA_AUTO_QUEUE", false)
	return &cfg
}

// loadConfig overlays the YAML file at path onto cfg. Keys missing from the file keep
// their current values.
func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg.validate()
}

func (c *Config) validate() error {
	switch c.Channel.Transport {
	case transportWebSocket, transportNATS:
	default:
		return fmt.Errorf("unknown transport %q", c.Channel.Transport)
	}
	if c.User.ID == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

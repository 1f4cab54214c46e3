package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codearena/go/clients/arena_api_client"
	"github.com/mcdev12/codearena/go/internal/arena/channel"
	"github.com/mcdev12/codearena/go/internal/arena/clock"
	"github.com/mcdev12/codearena/go/internal/arena/match"
	"github.com/mcdev12/codearena/go/internal/arena/queue"
	"github.com/mcdev12/codearena/go/internal/arena/viewapi"
)

type Services struct {
	API     *arena_api_client.ArenaApiClient
	Channel *channel.Manager
	Queue   *queue.Client
	View    *viewapi.Handler

	closeTransport func() error
}

func setupServices(cfg *Config) (*Services, error) {
	// Transport → connection manager → runners / queue → view bridge
	transport, closeTransport, err := setupTransport(cfg)
	if err != nil {
		return nil, err
	}

	c := clock.NewRealClock()

	managerCfg := channel.DefaultManagerConfig()
	managerCfg.SubscriberBuffer = cfg.Channel.SubscriberBuffer
	managerCfg.ReconnectMax = cfg.Channel.ReconnectMax
	manager := channel.NewManager(transport, managerCfg)

	api := arena_api_client.NewArenaApiClient(cfg.API.BaseURL, cfg.API.Token)
	q := queue.NewClient(manager, api, c)

	s := &Services{
		API:            api,
		Channel:        manager,
		Queue:          q,
		closeTransport: closeTransport,
	}
	s.View = viewapi.NewHandler(viewapi.Deps{
		Factory:   s.sessionFactory(cfg, c),
		Directory: api,
		Queue:     q,
		UserID:    cfg.User.ID,
	})
	s.View.SetStatsProvider(manager.Stats)
	return s, nil
}

func setupTransport(cfg *Config) (channel.Transport, func() error, error) {
	switch cfg.Channel.Transport {
	case transportNATS:
		natsCfg := channel.DefaultNATSConfig()
		natsCfg.URL = cfg.Channel.NATSURL
		natsCfg.SubjectPrefix = cfg.Channel.SubjectPrefix
		natsCfg.JetStream = cfg.Channel.JetStream
		t, err := channel.NewNATSTransport(natsCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up nats transport: %w", err)
		}
		return t, t.Close, nil
	default:
		wsCfg := channel.DefaultWebSocketConfig()
		wsCfg.URL = cfg.Channel.WebSocketURL
		wsCfg.Token = cfg.API.Token
		wsCfg.PingInterval = cfg.Channel.PingInterval
		return channel.NewWebSocketTransport(wsCfg), func() error { return nil }, nil
	}
}

// sessionFactory starts one match runner per mounted arena
func (s *Services) sessionFactory(cfg *Config, c clock.Clock) viewapi.SessionFactory {
	return func(ctx context.Context, arenaID string) (viewapi.MatchSession, error) {
		runner := match.NewRunner(match.Config{
			ArenaID:      arenaID,
			UserID:       cfg.User.ID,
			MatchID:      uuid.NewString(),
			FetchTimeout: cfg.API.FetchTimeout,
		}, match.Deps{
			API:     s.API,
			Channel: s.Channel,
			Clock:   c,
		})
		if err := runner.Start(ctx); err != nil {
			return nil, err
		}
		runner.OnChange(func(v match.View) {
			log.Debug().
				Str("arena_id", v.ArenaID).
				Stringer("phase", v.Phase).
				Str("display", v.Display).
				Msg("session changed")
		})
		return runner, nil
	}
}

func (s *Services) Close() {
	s.View.Close()
	s.Channel.Close()
	if err := s.closeTransport(); err != nil {
		log.Error().Err(err).Msg("failed to close transport")
	}
}

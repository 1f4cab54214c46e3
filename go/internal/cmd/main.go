package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/codearena/go/internal/arena/viewapi"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if getEnvAsBool("ARENA_DEBUG", false) {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := configFromEnv()
	if path := getEnv("ARENA_CONFIG", ""); path != "" {
		if err := loadConfig(path, cfg); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to load config")
		}
	} else if err := cfg.validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.Info().
		Str("api_url", cfg.API.BaseURL).
		Str("transport", cfg.Channel.Transport).
		Str("user_id", cfg.User.ID).
		Str("port", cfg.View.Port).
		Msg("starting arena sync")

	services, err := setupServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	server := setupServer(cfg, services)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		mountStartupArenas(gctx, cfg, services)
		return nil
	})

	if cfg.AutoQueue {
		g.Go(func() error {
			return runQueue(gctx, cfg.User.ID, services.Queue, services.View)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("arena sync stopped with error")
	}

	services.Close()
	log.Info().Msg("arena sync shutdown complete")
}

func mountStartupArenas(ctx context.Context, cfg *Config, services *Services) {
	for _, arenaID := range cfg.Arenas {
		if _, _, err := services.View.Mount(ctx, arenaID); err != nil {
			log.Error().Err(err).Str("arena_id", arenaID).Msg("failed to mount arena")
			continue
		}
		log.Info().Str("arena_id", arenaID).Msg("arena mounted")
	}
}

type matchQueue interface {
	Enqueue(ctx context.Context, userID string) error
	Cancel(ctx context.Context) error
	Matched() <-chan string
	QueueTime() time.Duration
}

type mounter interface {
	Mount(ctx context.Context, arenaID string) (viewapi.MatchSession, bool, error)
}

// runQueue enqueues the user and mounts whichever arena matchmaking pairs them into.
// The lobby subscription is released either way.
func runQueue(ctx context.Context, userID string, q matchQueue, view mounter) error {
	if err := q.Enqueue(ctx, userID); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		if err := q.Cancel(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to leave queue")
		}
		return nil
	case arenaID := <-q.Matched():
		log.Info().
			Str("arena_id", arenaID).
			Dur("queue_time", q.QueueTime()).
			Msg("match found")
		if _, _, err := view.Mount(ctx, arenaID); err != nil {
			log.Error().Err(err).Str("arena_id", arenaID).Msg("failed to mount matched arena")
		}
		// the arena has its own room now; let go of the lobby
		if err := q.Cancel(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to release matchmaking lobby")
		}
		return nil
	}
}

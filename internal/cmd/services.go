package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/internal/playlist"
	"github.com/mcdev12/watchparty/internal/provider"
	"github.com/mcdev12/watchparty/internal/scheduler"
	"github.com/mcdev12/watchparty/internal/session"
)

// Services holds the explicitly wired module instances. No hidden globals:
// lifecycle is owned here, in the composition root.
type Services struct {
	Store     *playlist.Store
	Registry  *session.Registry
	Handler   *session.Handler
	Scheduler *scheduler.Scheduler
	Relay     *session.Relay

	closeRepo func()
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	apiKey := os.Getenv("YOUTUBE_API_KEY")
	if apiKey == "" {
		log.Warn().Msg("YOUTUBE_API_KEY not set, enqueue commands will fail resolution")
	}
	resolver := provider.NewYouTubeClient(
		apiKey,
		config.Provider.BaseURL,
		time.Duration(config.Provider.TimeoutSec)*time.Second,
	)

	repo, closeRepo, err := setupRepository(ctx, config)
	if err != nil {
		return nil, err
	}

	store := playlist.NewStore(resolver, repo, clock)
	if err := store.Seed(ctx); err != nil {
		log.Warn().Err(err).Msg("could not seed playlist, starting empty")
	}

	registry := session.NewRegistry(store, session.DefaultConfig(), clock)
	store.Subscribe(registry)

	services := &Services{
		Store:     store,
		Registry:  registry,
		Handler:   session.NewHandler(registry),
		Scheduler: scheduler.New(store, clock, time.Duration(config.Playlist.TickIntervalSec)*time.Second),
		closeRepo: closeRepo,
	}

	if config.NATS.URL != "" {
		relayConfig := session.DefaultRelayConfig()
		relayConfig.URL = config.NATS.URL
		if config.NATS.SubjectPrefix != "" {
			relayConfig.SubjectPrefix = config.NATS.SubjectPrefix
		}
		relay, err := session.NewRelay(relayConfig)
		if err != nil {
			closeRepo()
			return nil, fmt.Errorf("failed to set up event relay: %w", err)
		}
		store.Subscribe(relay)
		services.Relay = relay
	}

	return services, nil
}

func (s *Services) Close() {
	if s.Relay != nil {
		s.Relay.Close()
	}
	s.closeRepo()
}

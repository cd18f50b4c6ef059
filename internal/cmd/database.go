package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/internal/playlist"
	"github.com/mcdev12/watchparty/internal/repository"
)

// setupRepository builds the configured playlist repository and returns it
// with a close function.
func setupRepository(ctx context.Context, config *Config) (playlist.Repository, func(), error) {
	switch config.Playlist.Repository {
	case "postgres":
		dbConfig := databaseConfigFromEnv()
		repo, err := repository.NewPostgresRepository(ctx, dbConfig.dsn())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up postgres repository: %w", err)
		}
		return repo, repo.Close, nil

	case "", "file":
		log.Info().Str("path", config.Playlist.FilePath).Msg("using file playlist repository")
		return repository.NewFileRepository(config.Playlist.FilePath), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown repository kind %q", config.Playlist.Repository)
	}
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/courier/pkg/checkpoint"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/persistence/memory"
	"github.com/dukex/courier/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"postgres", "postgresql"}

// NewPersistence opens PostgreSQL for a postgres URL and falls back to the
// in-memory store when databaseURL is empty.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "memory":
		logger.WarnContext(ctx, "DATABASE_URL is not set, scheduled messages and run logs are kept in memory")

		return memory.NewPersistence(), nil
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return p, nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %s", provider)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	if databaseURL == "" {
		return "memory"
	}

	provider := strings.SplitN(databaseURL, "://", 2)[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return provider
}

// NewCheckpointResolver resolves checkpoint storage lazily from databaseURL.
func NewCheckpointResolver(logger *slog.Logger, mode checkpoint.Mode, databaseURL string) *checkpoint.Resolver {
	return checkpoint.NewResolver(logger, mode, databaseURL, func(ctx context.Context, dsn string) (checkpoint.Backend, error) {
		repository, err := postgresql.OpenCheckpointRepository(ctx, logger, dsn)
		if err != nil {
			return nil, err
		}

		return repository, nil
	})
}

package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/flowion/flowion/pkg/persistence"
	"github.com/flowion/flowion/pkg/persistence/file"
	"github.com/flowion/flowion/pkg/persistence/postgres"
)

// NewPersistence picks a persistence backend from the database URL scheme:
// postgres:// for PostgreSQL, anything else is treated as a file path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgres.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return p
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

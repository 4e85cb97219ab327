// Package app wires the configured backends for the calmcorners processes.
package app

import (
	"context"
	"fmt"

	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/database"
	"github.com/smukkama/calmcorners/internal/logging"
	"github.com/smukkama/calmcorners/internal/memstore"
	"github.com/smukkama/calmcorners/internal/mongostore"
	"github.com/smukkama/calmcorners/pkg/config"
)

// OpenStore connects the store selected by cfg.Store.Backend. PostgreSQL
// migrations are applied before the store is returned.
func OpenStore(ctx context.Context, cfg *config.Config) (catalog.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logging.Warn().Msg("using in-memory store, data is lost on restart")
		return memstore.New(), nil

	case config.BackendPostgres:
		db, err := database.Connect(ctx, cfg.Database.ConnectionString())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.RunMigrations(ctx, cfg.Database.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logging.Info().Str("host", cfg.Database.Host).Str("db", cfg.Database.DBName).Msg("connected to postgres")
		return database.NewStore(db), nil

	case config.BackendMongo:
		store, err := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		logging.Info().Str("db", cfg.Mongo.Database).Msg("connected to mongo")
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

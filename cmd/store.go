package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/discovery-cli/internal/knowledge"
)

func initStore(ctx context.Context) (knowledge.Store, error) {
	opts := []knowledge.Option{knowledge.WithMinConfidence(cfg.Validation.MinStoreConfidence)}
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "discovery.db"
		}
		return knowledge.NewSQLite(dsn, opts...)
	case "postgres":
		return knowledge.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool, opts...)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

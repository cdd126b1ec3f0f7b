package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/veloxbooks/reckon/internal/config"
	"github.com/veloxbooks/reckon/internal/engine"
	"github.com/veloxbooks/reckon/internal/storage"
)

// openStorage opens the configured database and applies pending migrations.
// Callers own Close.
func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := config.ExpandPath(viper.GetString("database.path"))

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// newEngine builds a reconciliation engine from configuration.
func newEngine(store *storage.SQLiteStorage) *engine.Engine {
	cfg := engine.DefaultConfig()
	if v := viper.GetFloat64("matching.threshold"); v > 0 {
		cfg.AutoMatchThreshold = v
	}
	if v := viper.GetInt("matching.tolerance_days"); v > 0 {
		cfg.ToleranceDays = v
	}
	return engine.NewWithConfig(store, cfg)
}

// addActorFlag registers the --actor flag used by mutating commands.
func addActorFlag(cmd *cobra.Command) {
	cmd.Flags().String("actor", "", "actor id recorded on the operation (default: $USER)")
}

// actorFromFlags resolves the explicit actor id for a mutating operation.
func actorFromFlags(cmd *cobra.Command) (string, error) {
	actor, _ := cmd.Flags().GetString("actor")
	if actor == "" {
		actor = os.Getenv("USER")
	}
	if actor == "" {
		return "", fmt.Errorf("no actor id: pass --actor or set $USER")
	}
	return actor, nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quest-party-service/internal/config"
)

// NewSeedCmd loads the starter question pool and quest catalog into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the question pool and quest catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath)
		},
	}
}

func runSeed(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}

	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	for _, q := range samplePool() {
		data, err := json.Marshal(q)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO questions (id, data) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`,
			q.ID, string(data)); err != nil {
			return fmt.Errorf("seed question %s: %w", q.ID, err)
		}
	}

	for _, q := range sampleQuests() {
		data, err := json.Marshal(q)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO quests (id, data) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`,
			q.ID, string(data)); err != nil {
			return fmt.Errorf("seed quest %s: %w", q.ID, err)
		}
	}

	log.Info().Msg("seed data loaded")
	return nil
}

package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quest-party-service/internal/config"
	"quest-party-service/internal/docstore"
	"quest-party-service/internal/infra/memory"
	pginfra "quest-party-service/internal/infra/postgres"
	redisinfra "quest-party-service/internal/infra/redis"
	"quest-party-service/internal/leaderboard"
	"quest-party-service/internal/party"
	"quest-party-service/internal/profile"
	"quest-party-service/internal/quiz"
	transport "quest-party-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the party/quiz coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store docstore.Store = memory.NewStore()
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = redisinfra.NewStore(client)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis document store")
	} else {
		log.Info().Msg("using in-memory document store")
	}

	var poolLoader quiz.PoolLoader = quiz.NewStaticPoolLoader(samplePool())
	var questLoader profile.QuestLoader = profile.NewStaticQuestLoader(sampleQuests())
	if cfg.Postgres.URL != "" {
		pgpool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		poolLoader = pginfra.NewPoolLoader(pgpool)
		questLoader = pginfra.NewQuestLoader(pgpool)
	}

	poolTTL := config.TTLDuration(cfg.Quiz.PoolTTL, 10*time.Minute)
	questions := quiz.NewQuestions(quiz.QuestionsConfig{
		Store: store,
		Pool:  quiz.NewPoolCache(poolLoader, poolTTL),
	})
	profiles := profile.NewService(profile.Config{Store: store, Quests: questLoader})
	parties := party.NewService(party.Config{Store: store, Questions: questions})
	boards := leaderboard.NewService(leaderboard.Config{Store: store})

	wsHandler := transport.NewWSHandler(transport.WSHandlerConfig{
		Store:     store,
		Parties:   parties,
		Questions: questions,
		Profiles:  profiles,
		Boards:    boards,
		Clock:     clockwork.NewRealClock(),
		Countdown: cfg.Quiz.Countdown,
		Step:      config.TTLDuration(cfg.Quiz.Step, time.Second),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting party/quiz coordinator")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

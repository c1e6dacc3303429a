package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quizzles/internal/app"
	"quizzles/internal/auth"
	"quizzles/internal/config"
	"quizzles/internal/infra/memory"
	"quizzles/internal/infra/postgres"
	rediscache "quizzles/internal/infra/redis"
	"quizzles/internal/logger"
	"quizzles/internal/metrics"
	transport "quizzles/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// services is the wired core shared by the server and admin commands.
type services struct {
	store    app.Store
	quizzes  app.QuizSource
	sessions auth.SessionStore
	feed     *app.Feed
	metrics  *metrics.Metrics
	attempts *app.AttemptManager
	catalog  *app.Catalog
	auth     *auth.Service
	closers  []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildServices picks Postgres or the in-memory store and Redis or the
// in-process cache depending on what is configured.
func buildServices(ctx context.Context, cfg config.Config, log zerolog.Logger) (*services, error) {
	s := &services{feed: app.NewFeed(), metrics: metrics.New()}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		s.store = postgres.NewStore(pool)
		log.Info().Msg("using postgres store")
	} else {
		s.store = memory.NewStore()
		log.Warn().Msg("postgres url not configured, data is kept in memory")
	}

	cacheTTL := config.TTLDuration(cfg.Quiz.CacheTTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable, cache reads fall back to the store")
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.quizzes = rediscache.NewQuizCache(client, s.store, cacheTTL)
		s.sessions = rediscache.NewSessionStore(client)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis quiz cache and sessions")
	} else {
		s.quizzes = memory.NewQuizCache(s.store, cacheTTL)
		s.sessions = memory.NewSessionStore()
	}

	s.attempts = app.NewAttemptManager(s.store, s.quizzes,
		app.WithFeed(s.feed),
		app.WithRecorder(s.metrics),
		app.WithLogger(log),
	)
	s.catalog = app.NewCatalog(s.store, s.quizzes, s.attempts, log)
	s.auth = auth.NewService(s.store, s.sessions, auth.Options{
		Secret:     cfg.Auth.Secret,
		TokenTTL:   config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour),
		BcryptCost: cfg.Auth.BcryptCost,
	}, log)
	return s, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Auth.Secret == config.Default().Auth.Secret {
		log.Warn().Msg("auth secret is the built-in default, set AUTH_SECRET in production")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.Admin.Username != "" {
		if _, err := svc.auth.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := transport.NewRouter(transport.Deps{
		Auth:           svc.auth,
		Catalog:        svc.catalog,
		Attempts:       svc.attempts,
		Feed:           svc.feed,
		Metrics:        svc.metrics,
		Log:            log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SecureCookies:  cfg.Server.Mode == gin.ReleaseMode,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

package main

import (
	"claudechat-backend/internal/api"
	"claudechat-backend/internal/config"
	"claudechat-backend/internal/handlers"
	"claudechat-backend/internal/llm"
	"claudechat-backend/internal/logging"
	"claudechat-backend/internal/services"
	"claudechat-backend/internal/store"
	"claudechat-backend/internal/store/postgres"
	"claudechat-backend/internal/store/sqlite"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("FATAL: Failed to build logger: %v", err)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
	_ = logger.Sync()
}

// run wires the service and serves until ctx ends. Every resource it opens is
// released before it returns.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting chat backend",
		zap.String("db_driver", cfg.DatabaseDriver),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.String("default_model", cfg.DefaultModel))

	// 2. Open the store
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if cfg.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := st.Migrate(migrateCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		logger.Info("schema migrated")
	}

	// 3. Upstream client
	registry, err := llm.NewRegistry(cfg.DefaultModel, llm.BuiltinModels(), logger)
	if err != nil {
		return fmt.Errorf("build model registry: %w", err)
	}
	completer, err := newCompleter(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize upstream client: %w", err)
	}
	upstream := llm.NewUpstream()
	upstream.Set(completer)

	// 4. Services and handlers
	conversationService := services.NewConversationService(st, upstream, registry, cfg.UpstreamTimeout, logger)
	chatService := services.NewChatService(st, upstream, registry, services.ChatOptions{
		UpstreamTimeout: cfg.UpstreamTimeout,
		PacedModel:      cfg.PacedModel,
		PaceEvery:       cfg.PaceEvery,
		PaceDelay:       cfg.PaceDelay,
	}, logger)

	router := api.NewRouter(api.RouterDependencies{
		ConversationHandler: handlers.NewConversationHandlers(conversationService, logger),
		ChatHandler:         handlers.NewChatHandlers(chatService, cfg.AllowedOrigins, logger),
		SystemHandler:       handlers.NewSystemHandlers(st, upstream, registry, logger),
		AllowedOrigins:      cfg.AllowedOrigins,
		RequestTimeout:      cfg.RequestTimeout,
		Logger:              logger,
	})

	// 5. Serve until ctx ends. Hijacked WebSocket connections are not
	// tracked by Shutdown; cancelling baseCtx after the drain ends their sessions.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: streamed turns and /chat can run up to UPSTREAM_TIMEOUT.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", server.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		cancelBase()
		return err
	})
	return g.Wait()
}

// openStore connects to the configured backend and verifies it is reachable.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		db, err := sqlite.OpenDB(connectCtx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite database opened", zap.String("path", cfg.SQLitePath))
		return sqlite.NewSQLiteStore(db, logger), nil
	default:
		pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create connection pool: %w", err)
		}
		if err := pool.Ping(connectCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		logger.Info("postgres connection pool established")
		return postgres.NewPostgresStore(pool, logger), nil
	}
}

func newCompleter(cfg *config.Config, logger *zap.Logger) (llm.Completer, error) {
	if cfg.LLMProvider == config.ProviderOpenAI {
		c, err := llm.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.DefaultModel, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	c, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

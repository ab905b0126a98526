package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"agentchat/internal/accounts"
	"agentchat/internal/api"
	"agentchat/internal/auth"
	"agentchat/internal/chat"
	"agentchat/internal/config"
	"agentchat/internal/ids"
	"agentchat/internal/media"
	"agentchat/internal/metrics"
	"agentchat/internal/providers/gemini"
	"agentchat/internal/providers/registry"
	"agentchat/internal/queue"
	"agentchat/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("agent_kind", cfg.Agent.Kind).
		Str("agent_model", cfg.Agent.Model).
		Str("db_driver", cfg.DB.Driver).
		Str("id_strategy", cfg.IDs.Strategy).
		Msg("starting agentchat")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	m := metrics.Global()

	gen := ids.New(ids.Config{
		Catalog:     store,
		Strategy:    ids.Strategy(cfg.IDs.Strategy),
		Locker:      queue.NewParentLock(rdb, cfg.IDs.LockTTL, log.Logger),
		LockTTL:     cfg.IDs.LockTTL,
		MaxAttempts: cfg.IDs.MaxAttempts,
		OnCollision: func(kind ids.Kind) {
			m.IDCollisions.WithLabelValues(string(kind)).Inc()
		},
	})

	images := media.NewLibrary(store, cfg.HTTP.PublicBaseURL, log.Logger)
	agent, err := registry.Build(ctx, registry.BuildOptions{
		Kind:        cfg.Agent.Kind,
		BaseURL:     cfg.Agent.BaseURL,
		APIKey:      cfg.Agent.APIKey,
		Model:       cfg.Agent.Model,
		Temperature: cfg.Agent.Temperature,
		HTTPClient:  &http.Client{Timeout: cfg.Client.Timeout},
		MaxRetries:  cfg.Client.MaxRetries,
		BackoffBase: cfg.Client.BackoffBase,
		Gemini: gemini.Config{
			Model:           cfg.Agent.Model,
			Temperature:     cfg.Agent.Temperature,
			PromptingModel:  cfg.Agent.PromptingModel,
			PromptingTemp:   cfg.Agent.PromptingTemp,
			ImageModel:      cfg.Agent.ImageModel,
			ImagesPerPrompt: cfg.Agent.ImagesPerPrompt,
			MaxToolRounds:   cfg.Agent.MaxToolRounds,
			FanoutLimit:     cfg.Agent.FanoutLimit,
		},
		Images: images,
		Logger: log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build agent")
	}

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	chatService := chat.New(chat.Config{
		Store:        store,
		IDs:          gen,
		Agent:        agent,
		Timeout:      cfg.Agent.Timeout,
		HistoryLimit: cfg.Agent.HistoryLimit,
		Logger:       log.Logger,
		Metrics:      m,
	})
	accountService := accounts.NewService(store, gen, tokens, auth.NewPasswords(0), log.Logger)

	httpServer := &http.Server{
		Addr: cfg.HTTP.ListenAddr,
		Handler: api.NewRouter(api.Deps{
			Chat:           chatService,
			Accounts:       accountService,
			Tokens:         tokens,
			Limiter:        queue.NewRateLimiter(rdb, cfg.Rate.PerHour),
			Images:         images,
			Store:          store,
			Metrics:        m,
			Logger:         log.Logger,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			HealthPath:     cfg.HTTP.HealthPath,
			MetricsPath:    cfg.HTTP.MetricsPath,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

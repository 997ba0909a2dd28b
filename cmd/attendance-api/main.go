package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/campuskit/attendance/internal/auth"
	"github.com/campuskit/attendance/internal/biometric"
	"github.com/campuskit/attendance/internal/config"
	"github.com/campuskit/attendance/internal/logging"
	"github.com/campuskit/attendance/internal/queue"
	"github.com/campuskit/attendance/internal/server"
	"github.com/campuskit/attendance/internal/serverstore"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "attendance-api",
		Short: "Companion attendance API server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-url", defaults.GetString("database.url"), "Postgres connection string")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address for the event queue")
	cmd.PersistentFlags().String("queue-backend", defaults.GetString("queue.backend"), "Event queue backend (memory, redis)")
	cmd.PersistentFlags().Int("min-score", defaults.GetInt("match.min_score"), "Minimum accepted match score (0-100)")
	cmd.PersistentFlags().Float64("max-far", defaults.GetFloat64("match.max_far"), "Maximum accepted false-accept-rate")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Device token signing secret (overrides env)")
	cmd.PersistentFlags().String("enroll-key", "", "Shared key required to register devices")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "queue.backend", "queue-backend")
	bindFlag(cmd, "match.min_score", "min-score")
	bindFlag(cmd, "match.max_far", "max-far")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.enroll_key", "enroll-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := serverstore.Open(signalCtx, appConfig.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "attendance-api",
		Audience:      "attendance-devices",
		TokenTTL:      appConfig.AccessTokenTTL,
	})

	// Template comparison runs through the device registry so a vendor
	// matcher can replace the in-tree scorer without touching the router.
	verifier, err := biometric.Open(biometric.SimulatedKind)
	if err != nil {
		return err
	}

	events, err := buildQueue(appConfig)
	if err != nil {
		return err
	}
	if appConfig.QueueBackend != "redis" {
		// Redis events are left for external consumers; the in-memory
		// queue needs a drain so publishes never block.
		go drainEvents(signalCtx, events, logger)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:         store,
		TokenManager:  tokenManager,
		Verifier:      verifier,
		Events:        events,
		Logger:        logger,
		EnrollKey:     appConfig.EnrollKey,
		MinMatchScore: appConfig.MinMatchScore,
		MaxFAR:        appConfig.MaxFAR,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildQueue(appConfig config.ServerConfig) (queue.Queue, error) {
	if appConfig.QueueBackend == "redis" {
		if appConfig.RedisAddr == "" {
			return nil, errors.New("redis.addr is required for the redis queue backend")
		}
		client := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddr})
		return queue.NewRedisQueue(client, ""), nil
	}
	return queue.NewInMemory(256), nil
}

// drainEvents keeps the queue flowing when no external consumer is
// attached yet; each event is surfaced in the logs.
func drainEvents(ctx context.Context, events queue.Queue, logger *zap.Logger) {
	stream, err := events.Consume(ctx)
	if err != nil {
		logger.Warn("event consumer unavailable", zap.Error(err))
		return
	}
	for event := range stream {
		logger.Debug("attendance event",
			zap.String("type", event.Type),
			zap.String("regNo", event.RegNo),
			zap.String("deviceId", event.DeviceID))
	}
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/campuskit/attendance/internal/biometric"
	"github.com/campuskit/attendance/internal/config"
	"github.com/campuskit/attendance/internal/datasync"
	"github.com/campuskit/attendance/internal/localstore"
	"github.com/campuskit/attendance/internal/logging"
	"github.com/campuskit/attendance/internal/remote"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "attendance-agent",
		Short: "Desktop attendance sync agent",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
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
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Companion API base URL")
	cmd.PersistentFlags().String("api-token", "", "Bearer token for the companion API (overrides env)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("sync-mode", defaults.GetString("sync.mode"), "Consistency mode (online-only, offline-only, online-first, offline-first)")
	cmd.PersistentFlags().String("device-kind", defaults.GetString("device.kind"), "Fingerprint device kind")
	cmd.PersistentFlags().Int("min-score", defaults.GetInt("match.min_score"), "Minimum accepted match score (0-100)")
	cmd.PersistentFlags().Float64("max-far", defaults.GetFloat64("match.max_far"), "Maximum accepted false-accept-rate")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Duration("template-sync-interval", defaults.GetDuration("sync.template_interval"), "Interval between template sync passes")
	cmd.PersistentFlags().Duration("pending-sync-interval", defaults.GetDuration("sync.pending_interval"), "Interval between pending-write flushes")
	cmd.PersistentFlags().Duration("status-probe-interval", defaults.GetDuration("sync.status_interval"), "Interval between online status probes")

	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "api.token", "api-token")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "sync.mode", "sync-mode")
	bindFlag(cmd, "device.kind", "device-kind")
	bindFlag(cmd, "match.min_score", "min-score")
	bindFlag(cmd, "match.max_far", "max-far")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "sync.template_interval", "template-sync-interval")
	bindFlag(cmd, "sync.pending_interval", "pending-sync-interval")
	bindFlag(cmd, "sync.status_interval", "status-probe-interval")
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

func runAgent(ctx context.Context) error {
	appConfig, err := config.LoadAgent(viper.GetViper())
	if err != nil {
		return err
	}

	mode, err := datasync.ParseMode(appConfig.SyncMode)
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

	store, err := localstore.Open(appConfig.DatabasePath, localstore.Options{
		Logger: logging.Component(logger, "localstore"),
	})
	if err != nil {
		return err
	}
	defer store.Close()

	client := remote.New(remote.Config{
		BaseURL:     appConfig.APIBaseURL,
		BearerToken: appConfig.APIToken,
		Timeout:     appConfig.HTTPTimeout,
	})

	device, err := biometric.Open(appConfig.DeviceKind)
	if err != nil {
		return err
	}
	if ready, err := device.Initialize(signalCtx); err != nil {
		return err
	} else if !ready {
		logger.Warn("fingerprint device reported not ready", zap.String("kind", appConfig.DeviceKind))
	}

	engine, err := datasync.NewEngine(datasync.EngineConfig{
		Store:         store,
		Source:        client,
		Verifier:      device,
		MinMatchScore: appConfig.MinMatchScore,
		MaxFAR:        appConfig.MaxFAR,
		Logger:        logging.Component(logger, "sync-engine"),
	})
	if err != nil {
		return err
	}

	service, err := datasync.NewService(datasync.ServiceConfig{
		Mode:          mode,
		Local:         store,
		Remote:        client,
		Authenticator: engine,
		Logger:        logging.Component(logger, "data-service"),
	})
	if err != nil {
		return err
	}

	manager, err := datasync.NewManager(datasync.ManagerConfig{
		Flusher:  service,
		Interval: appConfig.PendingSyncInterval,
		Logger:   logging.Component(logger, "pending-manager"),
	})
	if err != nil {
		return err
	}

	// Three background loops: template sync, pending flush, status probe.
	if mode != datasync.OfflineOnly {
		go engine.RunLoop(signalCtx, appConfig.TemplateSyncInterval)
		go probeStatus(signalCtx, service, appConfig.StatusProbeInterval, logger)
	}
	manager.Start(signalCtx)
	defer manager.Stop()

	logger.Info("attendance agent running",
		zap.String("mode", mode.String()),
		zap.String("api", appConfig.APIBaseURL),
		zap.String("device", appConfig.DeviceKind))

	<-signalCtx.Done()
	return nil
}

// probeStatus keeps the service's online flag honest.
func probeStatus(ctx context.Context, service *datasync.Service, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	service.CheckOnlineStatus(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := service.CheckOnlineStatus(ctx)
			logger.Debug("status probe", zap.Bool("online", online))
		}
	}
}

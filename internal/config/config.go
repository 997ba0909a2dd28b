package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "ATTEND"

	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "attendance.db"
	defaultLogLevel        = "info"
	defaultAPIBaseURL      = "http://localhost:8080"
	defaultSyncMode        = "offline-first"
	defaultDeviceKind      = "sim"
	defaultMinMatchScore   = 60
	defaultMaxFAR          = 0.01
	defaultHTTPTimeout     = 15 * time.Second
	defaultTemplateSync    = time.Minute
	defaultPendingSync     = 5 * time.Minute
	defaultStatusProbe     = 30 * time.Second
	defaultQueueBackend    = "memory"
	defaultAccessTokenTTL  = 12 * time.Hour
	defaultDeviceTokenAlgo = "HS256"
)

// AgentConfig captures runtime configuration for the desktop sync agent.
type AgentConfig struct {
	APIBaseURL           string
	APIToken             string
	DatabasePath         string
	LogLevel             string
	SyncMode             string
	DeviceKind           string
	MinMatchScore        int
	MaxFAR               float64
	HTTPTimeout          time.Duration
	TemplateSyncInterval time.Duration
	PendingSyncInterval  time.Duration
	StatusProbeInterval  time.Duration
}

// ServerConfig captures runtime configuration for the companion API server.
type ServerConfig struct {
	HTTPAddress    string
	DatabaseURL    string
	RedisAddr      string
	QueueBackend   string
	SigningSecret  string
	EnrollKey      string
	LogLevel       string
	MinMatchScore  int
	MaxFAR         float64
	AccessTokenTTL time.Duration
}

// NewViper returns a viper instance with defaults and env bindings
// configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.url", "")
	configViper.SetDefault("redis.addr", "")
	configViper.SetDefault("queue.backend", defaultQueueBackend)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("api.token", "")
	configViper.SetDefault("api.timeout", defaultHTTPTimeout)
	configViper.SetDefault("sync.mode", defaultSyncMode)
	configViper.SetDefault("sync.template_interval", defaultTemplateSync)
	configViper.SetDefault("sync.pending_interval", defaultPendingSync)
	configViper.SetDefault("sync.status_interval", defaultStatusProbe)
	configViper.SetDefault("device.kind", defaultDeviceKind)
	configViper.SetDefault("match.min_score", defaultMinMatchScore)
	configViper.SetDefault("match.max_far", defaultMaxFAR)
	configViper.SetDefault("auth.token_ttl", defaultAccessTokenTTL)
}

// LoadAgent parses agent configuration from viper.
func LoadAgent(configViper *viper.Viper) (AgentConfig, error) {
	cfg := AgentConfig{
		APIBaseURL:           configViper.GetString("api.base_url"),
		APIToken:             configViper.GetString("api.token"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SyncMode:             configViper.GetString("sync.mode"),
		DeviceKind:           configViper.GetString("device.kind"),
		MinMatchScore:        configViper.GetInt("match.min_score"),
		MaxFAR:               configViper.GetFloat64("match.max_far"),
		HTTPTimeout:          configViper.GetDuration("api.timeout"),
		TemplateSyncInterval: configViper.GetDuration("sync.template_interval"),
		PendingSyncInterval:  configViper.GetDuration("sync.pending_interval"),
		StatusProbeInterval:  configViper.GetDuration("sync.status_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

// LoadServer parses server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseURL:    configViper.GetString("database.url"),
		RedisAddr:      configViper.GetString("redis.addr"),
		QueueBackend:   configViper.GetString("queue.backend"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		EnrollKey:      configViper.GetString("auth.enroll_key"),
		LogLevel:       configViper.GetString("log.level"),
		MinMatchScore:  configViper.GetInt("match.min_score"),
		MaxFAR:         configViper.GetFloat64("match.max_far"),
		AccessTokenTTL: configViper.GetDuration("auth.token_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c AgentConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	switch strings.ToLower(c.SyncMode) {
	case "online-only", "offline-only", "online-first", "offline-first":
	default:
		return fmt.Errorf("sync.mode %q is not one of online-only, offline-only, online-first, offline-first", c.SyncMode)
	}
	if c.MinMatchScore < 0 || c.MinMatchScore > 100 {
		return fmt.Errorf("match.min_score must be within 0-100")
	}
	return nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	return nil
}

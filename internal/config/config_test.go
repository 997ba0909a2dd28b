package config

import (
	"testing"
	"time"
)

func TestLoadAgentDefaults(t *testing.T) {
	cfg, err := LoadAgent(NewViper())
	if err != nil {
		t.Fatalf("LoadAgent returned error: %v", err)
	}
	if cfg.SyncMode != "offline-first" {
		t.Fatalf("default sync mode = %q", cfg.SyncMode)
	}
	if cfg.MinMatchScore != 60 {
		t.Fatalf("default min score = %d", cfg.MinMatchScore)
	}
	if cfg.MaxFAR != 0.01 {
		t.Fatalf("default max FAR = %v", cfg.MaxFAR)
	}
	if cfg.TemplateSyncInterval != time.Minute {
		t.Fatalf("default template sync interval = %v", cfg.TemplateSyncInterval)
	}
	if cfg.PendingSyncInterval != 5*time.Minute {
		t.Fatalf("default pending sync interval = %v", cfg.PendingSyncInterval)
	}
	if cfg.DeviceKind != "sim" {
		t.Fatalf("default device kind = %q", cfg.DeviceKind)
	}
}

func TestLoadAgentRejectsBadMode(t *testing.T) {
	configViper := NewViper()
	configViper.Set("sync.mode", "sometimes-online")
	if _, err := LoadAgent(configViper); err == nil {
		t.Fatal("expected error for unknown sync mode")
	}
}

func TestLoadAgentRejectsScoreOutOfRange(t *testing.T) {
	configViper := NewViper()
	configViper.Set("match.min_score", 101)
	if _, err := LoadAgent(configViper); err == nil {
		t.Fatal("expected error for score above 100")
	}
}

func TestLoadServerRequiresDatabaseURL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	if _, err := LoadServer(configViper); err == nil {
		t.Fatal("expected error when database.url is empty")
	}
}

func TestLoadServerRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()
	configViper.Set("database.url", "postgres://localhost/attendance")
	if _, err := LoadServer(configViper); err == nil {
		t.Fatal("expected error when auth.signing_secret is empty")
	}
}

func TestLoadServerHappyPath(t *testing.T) {
	configViper := NewViper()
	configViper.Set("database.url", "postgres://localhost/attendance")
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("queue.backend", "redis")
	configViper.Set("redis.addr", "localhost:6379")

	cfg, err := LoadServer(configViper)
	if err != nil {
		t.Fatalf("LoadServer returned error: %v", err)
	}
	if cfg.QueueBackend != "redis" || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("queue config = %q / %q", cfg.QueueBackend, cfg.RedisAddr)
	}
	if cfg.AccessTokenTTL != 12*time.Hour {
		t.Fatalf("default token TTL = %v", cfg.AccessTokenTTL)
	}
}

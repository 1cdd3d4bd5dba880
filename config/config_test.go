package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DB_DSN", "HTTP_ADDR", "QUEUE_SIZE", "STORE_FLUSH_WORKERS",
		"DEFAULT_COOLDOWN_SECONDS", "TIMER_INTERVAL", "STATUS_POLL_INTERVAL"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.QueueSize != 256 {
		t.Errorf("QueueSize = %d", cfg.QueueSize)
	}
	if cfg.StoreFlushWorkers != 2 {
		t.Errorf("StoreFlushWorkers = %d", cfg.StoreFlushWorkers)
	}
	if cfg.DefaultCooldownSec != 0 {
		t.Errorf("DefaultCooldownSec = %d", cfg.DefaultCooldownSec)
	}
	if cfg.TimerInterval != time.Second {
		t.Errorf("TimerInterval = %s", cfg.TimerInterval)
	}
	if cfg.StatusPollInterval != 30*time.Second {
		t.Errorf("StatusPollInterval = %s", cfg.StatusPollInterval)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn default missing")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_SIZE", "1024")
	t.Setenv("TIMER_INTERVAL", "250ms")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QueueSize != 1024 {
		t.Errorf("QueueSize = %d", cfg.QueueSize)
	}
	if cfg.TimerInterval != 250*time.Millisecond {
		t.Errorf("TimerInterval = %s", cfg.TimerInterval)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("QUEUE_SIZE", "lots")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric QUEUE_SIZE")
	}
	t.Setenv("QUEUE_SIZE", "")
	t.Setenv("TIMER_INTERVAL", "-3s")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative TIMER_INTERVAL")
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "somechannel")
	t.Setenv("TWITCH_BOT_USERNAME", "somebot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.ValidateChatReady(); err == nil {
		t.Error("expected error without an oauth token")
	}
	cfg.TwitchOAuthToken = "oauth:abc"
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("ValidateChatReady: %v", err)
	}
}

func TestHelixReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "")
	t.Setenv("TWITCH_CLIENT_SECRET", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HelixReady() {
		t.Error("HelixReady without creds")
	}
	cfg.TwitchClientID = "id"
	cfg.TwitchClientSecret = "secret"
	if !cfg.HelixReady() {
		t.Error("HelixReady with creds")
	}
}

package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Monitor.CheckInterval != 60*time.Second {
		t.Errorf("check interval = %s, want 60s", cfg.Monitor.CheckInterval)
	}
	if cfg.Monitor.PollInterval != 15*time.Second {
		t.Errorf("poll interval = %s, want 15s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.MaxGameDuration != 4*time.Hour {
		t.Errorf("max game duration = %s, want 4h", cfg.Monitor.MaxGameDuration)
	}
	if cfg.OddsAPI.BookmakerKey != "draftkings" {
		t.Errorf("bookmaker = %s, want draftkings", cfg.OddsAPI.BookmakerKey)
	}
	if cfg.Game.StartingBankroll != 300 {
		t.Errorf("starting bankroll = %d, want 300", cfg.Game.StartingBankroll)
	}
	if cfg.ESPN.MatchThreshold != 0.80 {
		t.Errorf("match threshold = %v, want 0.80", cfg.ESPN.MatchThreshold)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SWEATSTAKE_SERVER_PORT", "9090")
	t.Setenv("SWEATSTAKE_MONITOR_POLL_INTERVAL", "5s")
	t.Setenv("SWEATSTAKE_ODDS_API_API_KEY", "test-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %s, want 9090", cfg.Server.Port)
	}
	if cfg.Monitor.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %s, want 5s", cfg.Monitor.PollInterval)
	}
	if cfg.OddsAPI.APIKey != "test-key" {
		t.Errorf("api key = %s, want test-key", cfg.OddsAPI.APIKey)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

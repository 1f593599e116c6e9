// Package config loads application configuration from an optional config
// file plus SWEATSTAKE_-prefixed environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	OddsAPI OddsAPIConfig `mapstructure:"odds_api"`
	ESPN    ESPNConfig    `mapstructure:"espn"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Game    GameConfig    `mapstructure:"game"`
	Store   StoreConfig   `mapstructure:"store"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OddsAPIConfig holds The Odds API client settings. The API is quota
// metered, so requests are rate limited client-side.
type OddsAPIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	BookmakerKey   string        `mapstructure:"bookmaker_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
	ScoresDaysFrom int           `mapstructure:"scores_days_from"`
}

// ESPNConfig holds the secondary score provider settings.
type ESPNConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MatchThreshold float64       `mapstructure:"match_threshold"`
	MatchWindow    time.Duration `mapstructure:"match_window"`
}

// MonitorConfig holds the game monitor's timer cadences.
type MonitorConfig struct {
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxGameDuration time.Duration `mapstructure:"max_game_duration"`
}

// GameConfig holds game-play constants.
type GameConfig struct {
	StartingBankroll int64 `mapstructure:"starting_bankroll"`
}

// StoreConfig holds persistence settings. An empty DatabaseURL falls back to
// the in-memory store; an empty RedisURL disables the cache layer.
type StoreConfig struct {
	DatabaseURL string        `mapstructure:"database_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// Load reads configuration from the given file path (optional — pass "" to
// use defaults and environment only) and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SWEATSTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("odds_api.base_url", "https://api.the-odds-api.com/v4")
	v.SetDefault("odds_api.bookmaker_key", "draftkings")
	v.SetDefault("odds_api.timeout", "15s")
	v.SetDefault("odds_api.requests_per_sec", 1.0)
	v.SetDefault("odds_api.scores_days_from", 3)

	v.SetDefault("espn.base_url", "https://site.api.espn.com/apis/site/v2/sports")
	v.SetDefault("espn.timeout", "15s")
	v.SetDefault("espn.match_threshold", 0.80)
	v.SetDefault("espn.match_window", "1h")

	v.SetDefault("monitor.check_interval", "60s")
	v.SetDefault("monitor.poll_interval", "15s")
	v.SetDefault("monitor.max_game_duration", "4h")

	v.SetDefault("game.starting_bankroll", 300)

	v.SetDefault("store.cache_ttl", "30s")
}

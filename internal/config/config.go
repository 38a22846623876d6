package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// State store drivers.
const (
	StateDriverRedis    = "redis"
	StateDriverPostgres = "postgres"
	StateDriverSQLite   = "sqlite"
)

// Config holds runtime configuration values for the roadmap service and CLI.
type Config struct {
	AppName   string
	AppEnv    string
	AppPort   string
	JWTSecret string
	APIToken  string

	CareerAPIBaseURL string
	CareerAPITimeout time.Duration

	PollInterval       time.Duration
	PollTimeout        time.Duration
	RefreshDelay       time.Duration
	ResetBudgetOnRetry bool
	SessionTTL         time.Duration
	CourseCacheTTL     time.Duration
	EvidenceMaxSizeMB  int

	StateDriver string
	StateTTL    time.Duration
	RedisURL    string
	DatabaseURL string
	SQLitePath  string

	NATSURL     string
	NATSSubject string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// ValidateServer checks the settings only the HTTP service needs.
func (c Config) ValidateServer() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret must be provided")
	}
	switch c.StateDriver {
	case StateDriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis url must be provided for the redis state driver")
		}
	case StateDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database url must be provided for the postgres state driver")
		}
	case StateDriverSQLite:
	default:
		return fmt.Errorf("unknown state driver %q", c.StateDriver)
	}
	return nil
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Roadmap")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("career_api.timeout", "0s")
	v.SetDefault("roadmap.poll_interval", "3s")
	v.SetDefault("roadmap.poll_timeout", "90s")
	v.SetDefault("roadmap.refresh_delay", "800ms")
	v.SetDefault("roadmap.reset_budget_on_retry", false)
	v.SetDefault("roadmap.session_ttl", "30m")
	v.SetDefault("roadmap.course_cache_ttl", "10m")
	v.SetDefault("evidence.max_size_mb", 10)
	v.SetDefault("state.driver", StateDriverRedis)
	v.SetDefault("state.ttl", "720h")
	v.SetDefault("sqlite.path", "roadmap.db")
	v.SetDefault("nats.subject", "gema.roadmap")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		JWTSecret:          v.GetString("jwt.secret"),
		APIToken:           strings.TrimSpace(v.GetString("api.token")),
		CareerAPIBaseURL:   strings.TrimSpace(v.GetString("career_api.base_url")),
		ResetBudgetOnRetry: v.GetBool("roadmap.reset_budget_on_retry"),
		EvidenceMaxSizeMB:  v.GetInt("evidence.max_size_mb"),
		StateDriver:        strings.ToLower(strings.TrimSpace(v.GetString("state.driver"))),
		RedisURL:           v.GetString("redis.url"),
		DatabaseURL:        v.GetString("database.url"),
		SQLitePath:         v.GetString("sqlite.path"),
		NATSURL:            v.GetString("nats.url"),
		NATSSubject:        v.GetString("nats.subject"),
	}
	durations["career_api.timeout"] = &cfg.CareerAPITimeout
	durations["roadmap.poll_interval"] = &cfg.PollInterval
	durations["roadmap.poll_timeout"] = &cfg.PollTimeout
	durations["roadmap.refresh_delay"] = &cfg.RefreshDelay
	durations["roadmap.session_ttl"] = &cfg.SessionTTL
	durations["roadmap.course_cache_ttl"] = &cfg.CourseCacheTTL
	durations["state.ttl"] = &cfg.StateTTL

	for key, target := range durations {
		parsed, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed < 0 {
			return Config{}, fmt.Errorf("invalid %s: must not be negative", key)
		}
		*target = parsed
	}

	if cfg.CareerAPIBaseURL == "" {
		return Config{}, fmt.Errorf("career api base url must be provided")
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}

	if cfg.PollTimeout < cfg.PollInterval {
		return Config{}, fmt.Errorf("roadmap poll timeout must be at least one poll interval")
	}

	if cfg.EvidenceMaxSizeMB <= 0 {
		cfg.EvidenceMaxSizeMB = 10
	}

	return cfg, nil
}

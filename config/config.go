// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	mjhttp "matchjumper/http"
	"matchjumper/internal/retry"
	"matchjumper/player"
	"matchjumper/storage"
	"matchjumper/timeline"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MATCHJUMPER_"

// Config holds all application configuration.
type Config struct {
	// YouTubeAPIKey authenticates YouTube Data API v3 calls.
	YouTubeAPIKey string `yaml:"youtube_api_key" env:"YOUTUBE_API_KEY"`
	// YouTubeEndpoint overrides the Data API base URL (tests, proxies).
	YouTubeEndpoint string `yaml:"youtube_endpoint" env:"YOUTUBE_ENDPOINT"`
	// RobotEventsToken is the bearer token for the RobotEvents v2 API.
	RobotEventsToken   string `yaml:"robotevents_token" env:"ROBOTEVENTS_TOKEN"`
	RobotEventsBaseURL string `yaml:"robotevents_base_url" env:"ROBOTEVENTS_BASE_URL"`

	// NavURL is the page scraped for navigation links. Empty uses the default site.
	NavURL string `yaml:"nav_url" env:"NAV_URL"`

	HTTP    HTTPConfig         `yaml:"http" envPrefix:"HTTP_"`
	Storage storage.Config     `yaml:"storage" envPrefix:"STORAGE_"`
	Sync    SyncConfig         `yaml:"sync" envPrefix:"SYNC_"`
	Seek    player.SeekOptions `yaml:"seek" envPrefix:"SEEK_"`
	Log     LogConfig          `yaml:"log" envPrefix:"LOG_"`
}

// HTTPConfig covers outbound request behavior.
type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries        int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff        time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
	CompetitionRPS    float64       `yaml:"competition_rps" env:"COMPETITION_RPS"`
	DataAPIRPS        float64       `yaml:"data_api_rps" env:"DATA_API_RPS"`
	DefaultRPS        float64       `yaml:"default_rps" env:"DEFAULT_RPS"`
}

// SyncConfig controls how matches are assigned to streams.
type SyncConfig struct {
	// Policy is "nearest" (default) or "strict".
	Policy string `yaml:"policy" env:"POLICY"`
	// TimeZone is the IANA zone used to bucket matches into event days.
	// Empty means the local zone.
	TimeZone string `yaml:"time_zone" env:"TIME_ZONE"`
}

// LogConfig configures the logrus logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		RobotEventsBaseURL: "https://www.robotevents.com/api/v2",
		HTTP: HTTPConfig{
			Timeout:           20 * time.Second,
			MaxRetries:        3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			CompetitionRPS:    4,
			DataAPIRPS:        2,
			DefaultRPS:        5,
		},
		Storage: storage.DefaultConfig(),
		Sync:    SyncConfig{Policy: "nearest"},
		Seek:    player.DefaultSeekOptions(),
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load loads configuration from a .env file, environment variables, a config
// file and defaults. Priority: env vars > config file > defaults.
// An empty path searches the working directory and ~/.config/matchjumper.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if err := cfg.loadFromFile(path); err != nil {
		if path != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SearchPaths lists the config files tried when no explicit path is given.
func SearchPaths() []string {
	names := []string{"matchjumper.yaml", "matchjumper.yml", "matchjumper.json"}
	paths := append([]string{}, names...)
	if home, err := os.UserHomeDir(); err == nil {
		for _, n := range names {
			paths = append(paths, filepath.Join(home, ".config", "matchjumper", n))
		}
	}
	return paths
}

// loadFromFile decodes YAML (or JSON, which YAML accepts) into c.
func (c *Config) loadFromFile(path string) error {
	paths := SearchPaths()
	if path != "" {
		paths = []string{path}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == "" {
				continue
			}
			return err
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		return nil
	}
	return os.ErrNotExist
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.RobotEventsBaseURL == "" {
		return fmt.Errorf("robotevents_base_url must be set")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be non-negative")
	}
	if c.HTTP.InitialBackoff <= 0 {
		return fmt.Errorf("http.initial_backoff must be positive")
	}
	if c.HTTP.MaxBackoff < c.HTTP.InitialBackoff {
		return fmt.Errorf("http.max_backoff must be >= initial_backoff")
	}
	if c.HTTP.BackoffMultiplier <= 1 {
		return fmt.Errorf("http.backoff_multiplier must be > 1")
	}
	if c.HTTP.CompetitionRPS < 0 || c.HTTP.DataAPIRPS < 0 || c.HTTP.DefaultRPS < 0 {
		return fmt.Errorf("http rate limits must be non-negative")
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if _, err := timeline.ParsePolicy(c.Sync.Policy); err != nil {
		return err
	}
	if _, err := c.Sync.Location(); err != nil {
		return err
	}
	if err := c.Seek.Validate(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Location resolves TimeZone, defaulting to time.Local.
func (s SyncConfig) Location() (*time.Location, error) {
	if s.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("sync.time_zone: %w", err)
	}
	return loc, nil
}

// AssignOptions converts the sync settings for timeline.Assign.
func (s SyncConfig) AssignOptions() timeline.AssignOptions {
	policy, _ := timeline.ParsePolicy(s.Policy)
	loc, err := s.Location()
	if err != nil {
		loc = time.Local
	}
	return timeline.AssignOptions{Policy: policy, Location: loc}
}

// HTTPClientConfig builds the shared HTTP client configuration.
func (c *Config) HTTPClientConfig() *mjhttp.Config {
	hc := mjhttp.DefaultConfig()
	hc.Timeout = c.HTTP.Timeout
	hc.Retry = retry.Config{
		MaxRetries:     c.HTTP.MaxRetries,
		InitialBackoff: c.HTTP.InitialBackoff,
		MaxBackoff:     c.HTTP.MaxBackoff,
		Multiplier:     c.HTTP.BackoffMultiplier,
		JitterFraction: 0.2,
	}
	hc.RateLimiter.CompetitionRPS = c.HTTP.CompetitionRPS
	hc.RateLimiter.DataAPIRPS = c.HTTP.DataAPIRPS
	hc.RateLimiter.DefaultRPS = c.HTTP.DefaultRPS
	return hc
}

// NewLogger builds a logrus logger from the log settings.
func NewLogger(lc LogConfig) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(lc.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Package config provides configuration structures for the creator
// discovery service
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds configuration for the discovery service
type Config struct {
	// Runtime environment: "development", "staging", "production"
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`

	// HTTP surface
	HTTPPort int    `mapstructure:"http_port" yaml:"http_port" json:"http_port"`
	SelfURL  string `mapstructure:"self_url" yaml:"self_url" json:"self_url"` // public base URL the queue calls back into

	// Webhook signing
	VerifySignatures  bool   `mapstructure:"verify_signatures" yaml:"verify_signatures" json:"verify_signatures"`
	SigningKeyCurrent string `mapstructure:"signing_key_current" yaml:"signing_key_current" json:"-"`
	SigningKeyNext    string `mapstructure:"signing_key_next" yaml:"signing_key_next" json:"-"`

	// Job store
	StoreDriver string `mapstructure:"store_driver" yaml:"store_driver" json:"store_driver"` // "postgres", "memory"
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url" json:"-"`

	// Job defaults
	ContinuationDelayMs  int           `mapstructure:"continuation_delay_ms" yaml:"continuation_delay_ms" json:"continuation_delay_ms"`
	JobTimeout           time.Duration `mapstructure:"job_timeout" yaml:"job_timeout" json:"job_timeout"`                      // sets timeoutAt on job creation
	ChunkStaleAfter      time.Duration `mapstructure:"chunk_stale_after" yaml:"chunk_stale_after" json:"chunk_stale_after"`    // processing lease considered stale after this
	DefaultTargetResults int           `mapstructure:"default_target_results" yaml:"default_target_results" json:"default_target_results"`

	// Dapr configuration
	Dapr DaprConfig `mapstructure:"dapr" yaml:"dapr" json:"dapr"`
}

// DaprConfig holds Dapr-specific configuration
type DaprConfig struct {
	PubSubComponent   string `mapstructure:"pubsub_component" yaml:"pubsub_component" json:"pubsub_component"`
	ContinuationTopic string `mapstructure:"continuation_topic" yaml:"continuation_topic" json:"continuation_topic"`
	AppPort           int    `mapstructure:"app_port" yaml:"app_port" json:"app_port"`
	GRPCPort          string `mapstructure:"grpc_port" yaml:"grpc_port" json:"grpc_port"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Environment:          "development",
		LogLevel:             "info",
		HTTPPort:             8080,
		SelfURL:              "http://localhost:8080",
		VerifySignatures:     true,
		StoreDriver:          "memory",
		ContinuationDelayMs:  2000,
		JobTimeout:           10 * time.Minute,
		ChunkStaleAfter:      2 * time.Minute,
		DefaultTargetResults: 100,
		Dapr: DaprConfig{
			PubSubComponent:   "pubsub",
			ContinuationTopic: "search-continuation",
			AppPort:           50051,
			GRPCPort:          "50001",
		},
	}
}

// Load builds the configuration from defaults, an optional .env file and
// environment variables (prefix DISCOVERY_, e.g. DISCOVERY_HTTP_PORT).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	cfg := DefaultConfig()

	v.SetDefault("environment", cfg.Environment)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("http_port", cfg.HTTPPort)
	v.SetDefault("self_url", cfg.SelfURL)
	v.SetDefault("verify_signatures", cfg.VerifySignatures)
	v.SetDefault("signing_key_current", "")
	v.SetDefault("signing_key_next", "")
	v.SetDefault("store_driver", cfg.StoreDriver)
	v.SetDefault("postgres_url", "")
	v.SetDefault("continuation_delay_ms", cfg.ContinuationDelayMs)
	v.SetDefault("job_timeout", cfg.JobTimeout)
	v.SetDefault("chunk_stale_after", cfg.ChunkStaleAfter)
	v.SetDefault("default_target_results", cfg.DefaultTargetResults)
	v.SetDefault("dapr.pubsub_component", cfg.Dapr.PubSubComponent)
	v.SetDefault("dapr.continuation_topic", cfg.Dapr.ContinuationTopic)
	v.SetDefault("dapr.app_port", cfg.Dapr.AppPort)
	v.SetDefault("dapr.grpc_port", cfg.Dapr.GRPCPort)

	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment '%s', must be one of: development, staging, production", c.Environment)
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be a valid port number")
	}

	if c.SelfURL == "" {
		return fmt.Errorf("self_url cannot be empty")
	}

	// Signature verification may be disabled only outside production.
	if c.IsProduction() && !c.VerifySignatures {
		return fmt.Errorf("verify_signatures cannot be disabled in production")
	}
	if c.VerifySignatures && c.SigningKeyCurrent == "" {
		return fmt.Errorf("signing_key_current is required when verify_signatures is enabled")
	}

	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres store driver")
		}
	default:
		return fmt.Errorf("invalid store_driver '%s', must be one of: postgres, memory", c.StoreDriver)
	}

	if c.ContinuationDelayMs < 0 {
		return fmt.Errorf("continuation_delay_ms cannot be negative")
	}

	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive")
	}

	if c.ChunkStaleAfter <= 0 {
		return fmt.Errorf("chunk_stale_after must be positive")
	}

	if c.DefaultTargetResults < 1 {
		return fmt.Errorf("default_target_results must be at least 1")
	}

	if c.Dapr.PubSubComponent == "" {
		return fmt.Errorf("dapr.pubsub_component cannot be empty")
	}

	if c.Dapr.ContinuationTopic == "" {
		return fmt.Errorf("dapr.continuation_topic cannot be empty")
	}

	return nil
}

// IsProduction returns true when running in the production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ContinuationDelay returns the continuation delay as a duration, rounded up
// to at least one second to match the queue's native delay unit.
func (c *Config) ContinuationDelay() time.Duration {
	d := time.Duration(c.ContinuationDelayMs) * time.Millisecond
	if d > 0 && d < time.Second {
		return time.Second
	}
	return d
}

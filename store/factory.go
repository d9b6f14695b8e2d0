package store

import (
	"context"
	"fmt"
)

// DefaultFactory is the default implementation of Factory
type DefaultFactory struct{}

// NewFactory creates a new job store factory
func NewFactory() Factory {
	return &DefaultFactory{}
}

// Create returns a job store implementation based on the configuration
func (f *DefaultFactory) Create(cfg Config) (JobStore, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.PostgresConfig == nil || cfg.PostgresConfig.URL == "" {
			return nil, fmt.Errorf("postgres driver requires a connection URL")
		}
		return NewPostgresStore(context.Background(), cfg.PostgresConfig.URL)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// Package config loads process configuration from the environment, the
// same way helixml/helix's api/pkg/config package wraps envconfig.
package config

import "github.com/kelseyhightower/envconfig"

// ServerConfig is the complete environment-driven configuration for the
// reaction hub process (spec.md §6 "Environment").
type ServerConfig struct {
	// Port the boundary HTTP/WebSocket listener binds to.
	Port int `envconfig:"PORT" default:"8001"`

	// DatabaseURL selects the persistence dialect and target:
	// empty, a "file:" path, or a path ending in ".db" opens sqlite;
	// a "postgres://" DSN opens the networked relational store.
	DatabaseURL string `envconfig:"DATABASE_URL" default:"file:reaction_hub.db"`

	// FrontendURL is the sole origin the CORS policy allows. "*" allows any.
	FrontendURL string `envconfig:"FRONTEND_URL" default:"*"`

	// LogFormat is "console" (default, human-readable) or "json".
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
}

// Load reads ServerConfig from the environment, applying defaults for
// anything unset.
func Load() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

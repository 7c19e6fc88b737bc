// Package config provides configuration loading and management.
package config

import (
	"github.com/coral-mesh/corostack/internal/constants"
	"github.com/coral-mesh/corostack/internal/coroutine/mirror"
)

// Config is the corostack configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Resolver ResolverConfig `yaml:"resolver"`
	Walker   WalkerConfig   `yaml:"walker"`
	Session  SessionConfig  `yaml:"session"`
	Output   OutputConfig   `yaml:"output"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"COROSTACK_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"COROSTACK_LOG_PRETTY"`
}

// RuntimeConfig describes how the debuggee's coroutine runtime lays out its
// objects.
type RuntimeConfig = mirror.Layout

// ResolverConfig controls coroutine state resolution.
type ResolverConfig struct {
	UseAgent    bool   `yaml:"use_agent" env:"COROSTACK_USE_AGENT"`
	DefaultName string `yaml:"default_name"`
}

// WalkerConfig controls continuation chain walking.
type WalkerConfig struct {
	MaxDepth int `yaml:"max_depth" env:"COROSTACK_MAX_DEPTH"`
}

// SessionConfig controls the per-pause command executor.
type SessionConfig struct {
	QueueSize int `yaml:"queue_size" env:"COROSTACK_QUEUE_SIZE"`
}

// OutputConfig controls CLI presentation.
type OutputConfig struct {
	Format       string `yaml:"format" env:"COROSTACK_FORMAT"`
	HidePlumbing bool   `yaml:"hide_plumbing" env:"COROSTACK_HIDE_PLUMBING"`
	// PlumbingFilter is a CEL expression over class, method and line.
	PlumbingFilter string `yaml:"plumbing_filter" env:"COROSTACK_PLUMBING_FILTER"`
}

// Default returns the default configuration for kotlinx.coroutines debuggees.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Runtime: DefaultRuntime(),
		Resolver: ResolverConfig{
			UseAgent:    true,
			DefaultName: "coroutine",
		},
		Walker: WalkerConfig{
			MaxDepth: constants.DefaultMaxChainDepth,
		},
		Session: SessionConfig{
			QueueSize: constants.DefaultCommandQueue,
		},
		Output: OutputConfig{
			Format:         "text",
			PlumbingFilter: `class.startsWith("kotlinx.coroutines.scheduling.") || class.startsWith("java.lang.Thread")`,
		},
	}
}

// DefaultRuntime returns the kotlinx.coroutines object layout.
func DefaultRuntime() RuntimeConfig {
	return mirror.DefaultLayout()
}

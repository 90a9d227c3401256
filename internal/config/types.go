package config

import "time"

// Config represents the complete push-board configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Session    SessionConfig    `yaml:"session"`
	Sink       SinkConfig       `yaml:"sink"`
	API        APIConfig        `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DispatcherConfig defines worker pool settings.
type DispatcherConfig struct {
	// PoolSize is the maximum number of jobs in the running state at any
	// instant across the whole dispatcher.
	PoolSize int `yaml:"pool_size"`
	// EventBuffer is the per-subscriber event channel capacity.
	EventBuffer int `yaml:"event_buffer,omitempty"`
}

// SessionConfig defines how device sessions are established.
type SessionConfig struct {
	Username    string                      `yaml:"username"`
	Password    string                      `yaml:"password"`
	Credentials map[string]CredentialConfig `yaml:"credentials,omitempty"`
	Jumphost    *JumphostConfig             `yaml:"jumphost,omitempty"`
	Timeouts    TimeoutsConfig              `yaml:"timeouts"`
	Retry       RetryConfig                 `yaml:"retry"`
	// SaveConfig issues the device's save command after a successful push.
	SaveConfig  bool   `yaml:"save_config"`
	SaveCommand string `yaml:"save_command,omitempty"`
}

// CredentialConfig is a named credential set referenced by a target's
// credential_ref.
type CredentialConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// JumphostConfig defines an optional SSH proxy hop in front of the devices.
type JumphostConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TimeoutsConfig bounds the two blocking phases of a push.
type TimeoutsConfig struct {
	Connect time.Duration `yaml:"connect"`
	Push    time.Duration `yaml:"push"`
}

// RetryConfig defines bounded retry behavior inside a session call.
// MaxAttempts of 1 means no retry.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// SinkConfig defines where terminal push records are persisted.
type SinkConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "pushboard",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Dispatcher: DispatcherConfig{
			PoolSize:    8,
			EventBuffer: 256,
		},
		Session: SessionConfig{
			Timeouts: TimeoutsConfig{
				Connect: 15 * time.Second,
				Push:    60 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 1,
				BackoffBase: 2 * time.Second,
			},
			SaveCommand: "write memory",
		},
		Sink: SinkConfig{
			Path: "./data/pushlog.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}

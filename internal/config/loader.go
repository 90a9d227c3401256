package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. ${VAR} references in the
// file are expanded from the environment before parsing, so credentials can
// stay out of the file itself.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} with the environment value. Unset variables
// expand to the empty string; validation catches the fields that matter.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

// applyDefaults fills zero values that yaml unmarshalling may have cleared.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = def.Service.LogFormat
	}
	if cfg.Dispatcher.PoolSize == 0 {
		cfg.Dispatcher.PoolSize = def.Dispatcher.PoolSize
	}
	if cfg.Dispatcher.EventBuffer == 0 {
		cfg.Dispatcher.EventBuffer = def.Dispatcher.EventBuffer
	}
	if cfg.Session.Timeouts.Connect == 0 {
		cfg.Session.Timeouts.Connect = def.Session.Timeouts.Connect
	}
	if cfg.Session.Timeouts.Push == 0 {
		cfg.Session.Timeouts.Push = def.Session.Timeouts.Push
	}
	if cfg.Session.Retry.MaxAttempts == 0 {
		cfg.Session.Retry.MaxAttempts = def.Session.Retry.MaxAttempts
	}
	if cfg.Session.Retry.BackoffBase == 0 {
		cfg.Session.Retry.BackoffBase = def.Session.Retry.BackoffBase
	}
	if cfg.Session.SaveCommand == "" {
		cfg.Session.SaveCommand = def.Session.SaveCommand
	}
	if cfg.Sink.Path == "" {
		cfg.Sink.Path = def.Sink.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = def.API.Listen
	}
}

func validate(cfg *Config) error {
	if cfg.Dispatcher.PoolSize < 1 {
		return fmt.Errorf("dispatcher.pool_size must be >= 1, got %d", cfg.Dispatcher.PoolSize)
	}
	if cfg.Session.Timeouts.Connect <= 0 {
		return fmt.Errorf("session.timeouts.connect must be positive")
	}
	if cfg.Session.Timeouts.Push <= 0 {
		return fmt.Errorf("session.timeouts.push must be positive")
	}
	if cfg.Session.Retry.MaxAttempts < 1 {
		return fmt.Errorf("session.retry.max_attempts must be >= 1, got %d", cfg.Session.Retry.MaxAttempts)
	}
	if cfg.Session.Jumphost != nil && cfg.Session.Jumphost.Host == "" {
		return fmt.Errorf("session.jumphost.host is required when jumphost is set")
	}
	for name, cred := range cfg.Session.Credentials {
		if cred.Username == "" {
			return fmt.Errorf("session.credentials[%s].username is empty", name)
		}
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}
	return nil
}

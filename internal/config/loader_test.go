package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: test-board
session:
  username: netops
  password: secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Name != "test-board" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
	if cfg.Service.LogLevel != "info" {
		t.Errorf("default log_level = %q, want info", cfg.Service.LogLevel)
	}
	if cfg.Dispatcher.PoolSize != 8 {
		t.Errorf("default pool_size = %d, want 8", cfg.Dispatcher.PoolSize)
	}
	if cfg.Session.Timeouts.Connect != 15*time.Second {
		t.Errorf("default connect timeout = %v", cfg.Session.Timeouts.Connect)
	}
	if cfg.Session.Timeouts.Push != 60*time.Second {
		t.Errorf("default push timeout = %v", cfg.Session.Timeouts.Push)
	}
	if cfg.Session.Retry.MaxAttempts != 1 {
		t.Errorf("default max_attempts = %d, want 1", cfg.Session.Retry.MaxAttempts)
	}
	if cfg.Session.SaveCommand != "write memory" {
		t.Errorf("default save_command = %q", cfg.Session.SaveCommand)
	}
	if cfg.Sink.Path == "" {
		t.Error("default sink.path is empty")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PUSHBOARD_TEST_PASSWORD", "s3cr3t")

	path := writeConfig(t, `
session:
  username: netops
  password: ${PUSHBOARD_TEST_PASSWORD}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Password != "s3cr3t" {
		t.Errorf("password = %q, want expanded env value", cfg.Session.Password)
	}
}

func TestLoadUnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
session:
  username: netops
  password: ${PUSHBOARD_DEFINITELY_UNSET_VAR}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Password != "" {
		t.Errorf("password = %q, want empty for unset var", cfg.Session.Password)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  name: lab-board
  log_level: debug
  log_format: text
dispatcher:
  pool_size: 4
session:
  username: netops
  password: secret
  credentials:
    lab:
      username: labops
      password: labsecret
  jumphost:
    host: bastion.example.net
    port: 22
    username: jump
    password: jumppass
  timeouts:
    connect: 5s
    push: 30s
  retry:
    max_attempts: 3
    backoff_base: 1s
  save_config: true
sink:
  path: /tmp/pushlog.db
api:
  enabled: true
  listen: 127.0.0.1:9090
  api_key: testkey
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Dispatcher.PoolSize != 4 {
		t.Errorf("pool_size = %d", cfg.Dispatcher.PoolSize)
	}
	if cfg.Session.Timeouts.Connect != 5*time.Second {
		t.Errorf("connect timeout = %v", cfg.Session.Timeouts.Connect)
	}
	if cfg.Session.Retry.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d", cfg.Session.Retry.MaxAttempts)
	}
	if !cfg.Session.SaveConfig {
		t.Error("save_config not set")
	}
	cred, ok := cfg.Session.Credentials["lab"]
	if !ok || cred.Username != "labops" {
		t.Errorf("credentials[lab] = %+v", cred)
	}
	if cfg.Session.Jumphost == nil || cfg.Session.Jumphost.Host != "bastion.example.net" {
		t.Errorf("jumphost = %+v", cfg.Session.Jumphost)
	}
	if !cfg.API.Enabled || cfg.API.Listen != "127.0.0.1:9090" {
		t.Errorf("api = %+v", cfg.API)
	}
}

func TestLoadRejectsBadPoolSize(t *testing.T) {
	path := writeConfig(t, `
dispatcher:
  pool_size: -2
session:
  username: netops
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative pool_size")
	}
}

func TestLoadRejectsJumphostWithoutHost(t *testing.T) {
	path := writeConfig(t, `
session:
  username: netops
  jumphost:
    username: jump
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for jumphost without host")
	}
}

func TestLoadRejectsCredentialWithoutUsername(t *testing.T) {
	path := writeConfig(t, `
session:
  username: netops
  credentials:
    broken:
      password: onlypassword
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for credential without username")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

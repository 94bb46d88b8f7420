package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.yaml")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SIGMSG_DAEMON_HOST", "SIGMSG_DAEMON_PORT", "SIGMSG_LISTEN", "SIGMSG_ACCOUNT", "SIGMSG_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.ShutdownTimeout = 3 * time.Second
	original.AutoReply = "pong"
	original.Daemon.Host = "10.0.0.5"
	original.Daemon.Port = 7600
	original.Gateway.Listen = ":9090"
	original.Gateway.RateLimit.RPS = 2.5
	original.Account.Number = "+15550001234"
	original.Account.Name = "Relay"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file does not exist after Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != "debug" {
		t.Errorf("LogLevel mismatch: %v", loaded.LogLevel)
	}
	if loaded.ShutdownTimeout != 3*time.Second {
		t.Errorf("ShutdownTimeout mismatch: %v", loaded.ShutdownTimeout)
	}
	if loaded.AutoReply != "pong" {
		t.Errorf("AutoReply mismatch: %v", loaded.AutoReply)
	}
	if loaded.Daemon.Host != "10.0.0.5" || loaded.Daemon.Port != 7600 {
		t.Errorf("Daemon mismatch: %+v", loaded.Daemon)
	}
	if loaded.Gateway.Listen != ":9090" || loaded.Gateway.RateLimit.RPS != 2.5 || loaded.Gateway.RateLimit.Burst != 40 {
		t.Errorf("Gateway mismatch: %+v", loaded.Gateway)
	}
	if loaded.Account.Number != "+15550001234" || loaded.Account.Name != "Relay" {
		t.Errorf("Account mismatch: %+v", loaded.Account)
	}
}

func TestLoad_CreatesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Daemon.Port != 7583 || cfg.Gateway.Listen != "127.0.0.1:8080" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults were not written: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	t.Setenv("SIGMSG_DAEMON_HOST", "signal.local")
	t.Setenv("SIGMSG_DAEMON_PORT", "7700")
	t.Setenv("SIGMSG_LISTEN", ":8181")
	t.Setenv("SIGMSG_ACCOUNT", "+15550009999")
	t.Setenv("SIGMSG_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DaemonAddr() != "signal.local:7700" {
		t.Errorf("DaemonAddr = %q", cfg.DaemonAddr())
	}
	if cfg.Gateway.Listen != ":8181" || cfg.Account.Number != "+15550009999" || cfg.LogLevel != "debug" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	t.Setenv("SIGMSG_DAEMON_PORT", "not-a-port")
	if _, err := Load(path); err == nil {
		t.Error("expected error for a non-numeric port")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte("daemon: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "account.number") {
		t.Errorf("expected missing account error, got %v", err)
	}

	cfg.Account.Number = "+15550001"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.Daemon.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected port range error")
	}

	cfg.Daemon.Port = 7583
	cfg.ShutdownTimeout = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected negative timeout error")
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid YAML: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestListValues_NoMask(t *testing.T) {
	cfg := Default()
	cfg.Account.Number = "+15550001234"

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["account.number"] != "+15550001234" {
		t.Errorf("expected unmasked number, got %v", flat["account.number"])
	}
	if flat["daemon.host"] != "127.0.0.1" {
		t.Errorf("expected daemon.host=127.0.0.1, got %v", flat["daemon.host"])
	}
	if flat["gateway.rate_limit.burst"] != 40 {
		t.Errorf("expected gateway.rate_limit.burst=40, got %v", flat["gateway.rate_limit.burst"])
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := Default()
	cfg.Account.Number = "+15550001234"
	cfg.Account.Name = "Relay"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["account.number"] != "***1234" {
		t.Errorf("expected masked number, got %v", flat["account.number"])
	}
	if flat["account.name"] != "Relay" {
		t.Errorf("non-secret was masked: %v", flat["account.name"])
	}
}

func TestGetValue_ExistingKey(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	cfg := Default()
	cfg.Daemon.Host = "10.1.1.1"
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "daemon.host")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "10.1.1.1" {
		t.Errorf("expected 10.1.1.1, got %v", v)
	}

	v, err = GetValue(path, "daemon.port")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != 7583 {
		t.Errorf("expected 7583, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "unknown config key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGetValue_NonexistentFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	v, err := GetValue(path, "daemon.port")
	if err != nil {
		t.Fatalf("GetValue should create defaults, got %v", err)
	}
	if v != 7583 {
		t.Errorf("expected default port, got %v", v)
	}
}

func TestSetValue_String(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "account.number", "+15550001234"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Account.Number != "+15550001234" {
		t.Errorf("expected +15550001234, got %q", cfg.Account.Number)
	}
}

func TestSetValue_Numeric(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "daemon.port", "7600"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "daemon.port")
	if err != nil {
		t.Fatal(err)
	}
	if v != 7600 {
		t.Errorf("expected int 7600, got %v (%T)", v, v)
	}
}

func TestSetValue_Float(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "gateway.rate_limit.rps", "2.5"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.RateLimit.RPS != 2.5 {
		t.Errorf("expected 2.5, got %v", cfg.Gateway.RateLimit.RPS)
	}
}

func TestSetValue_Duration(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "shutdown_timeout", "30s"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestSetValue_RejectsWrongType(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "daemon.port", "abc"); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Daemon.Port != 7583 {
		t.Errorf("rejected value was written: %d", cfg.Daemon.Port)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "config.yaml")
	writeTestConfig(t, path, Default())
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config not created: %v", err)
	}
}

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir         string        `yaml:"data_dir"`
	LogLevel        string        `yaml:"log_level"`
	LogFile         string        `yaml:"log_file"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AutoReply       string        `yaml:"auto_reply"`
	Daemon          struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"daemon"`
	Gateway struct {
		Listen    string `yaml:"listen"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"gateway"`
	Account struct {
		Number     string `yaml:"number"`
		Name       string `yaml:"name"`
		GivenName  string `yaml:"given_name"`
		FamilyName string `yaml:"family_name"`
	} `yaml:"account"`
}

// DefaultPath returns $HOME/.sigmsg/config.yaml.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".sigmsg", "config.yaml")
}

// Default returns a Config holding every default value.
func Default() *Config {
	cfg := &Config{
		DataDir:         filepath.Join(os.Getenv("HOME"), ".sigmsg"),
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
	cfg.Daemon.Host = "127.0.0.1"
	cfg.Daemon.Port = 7583
	cfg.Gateway.Listen = "127.0.0.1:8080"
	cfg.Gateway.RateLimit.RPS = 20
	cfg.Gateway.RateLimit.Burst = 40
	return cfg
}

// Load reads the file at path, writing defaults there first if it is
// missing, then applies SIGMSG_* environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// DaemonAddr returns the daemon's host:port.
func (c *Config) DaemonAddr() string {
	return net.JoinHostPort(c.Daemon.Host, strconv.Itoa(c.Daemon.Port))
}

// Validate reports settings that would stop serve from starting.
func (c *Config) Validate() error {
	if c.Account.Number == "" {
		return fmt.Errorf("account.number is not set (run setup or set SIGMSG_ACCOUNT)")
	}
	return c.checkRanges()
}

func (c *Config) checkRanges() error {
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port out of range: %d", c.Daemon.Port)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error: %q", c.LogLevel)
	}
	if c.Gateway.RateLimit.RPS < 0 || c.Gateway.RateLimit.Burst < 0 {
		return fmt.Errorf("gateway.rate_limit must not be negative")
	}
	return nil
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

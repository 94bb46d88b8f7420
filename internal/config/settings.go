package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Setting is one dotted key of Config, as used by the config command.
type Setting struct {
	Key    string
	Env    string // environment variable that overrides the file value
	Secret bool
}

var settings = []Setting{
	{Key: "data_dir"},
	{Key: "log_level", Env: "SIGMSG_LOG_LEVEL"},
	{Key: "log_file"},
	{Key: "shutdown_timeout"},
	{Key: "auto_reply"},
	{Key: "daemon.host", Env: "SIGMSG_DAEMON_HOST"},
	{Key: "daemon.port", Env: "SIGMSG_DAEMON_PORT"},
	{Key: "gateway.listen", Env: "SIGMSG_LISTEN"},
	{Key: "gateway.rate_limit.rps"},
	{Key: "gateway.rate_limit.burst"},
	{Key: "account.number", Env: "SIGMSG_ACCOUNT", Secret: true},
	{Key: "account.name"},
	{Key: "account.given_name"},
	{Key: "account.family_name"},
}

// Settings returns every known key in display order.
func Settings() []Setting {
	out := make([]Setting, len(settings))
	copy(out, settings)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Lookup finds the setting for key.
func Lookup(key string) (Setting, error) {
	for _, s := range settings {
		if s.Key == key {
			return s, nil
		}
	}
	return Setting{}, fmt.Errorf("unknown config key: %s", key)
}

// Override returns the environment value shadowing the setting, if any.
func (s Setting) Override() (string, bool) {
	if s.Env == "" {
		return "", false
	}
	v := os.Getenv(s.Env)
	return v, v != ""
}

// MaskSecret shows only the last four characters of a secret value.
func MaskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "***" + v
	}
	return "***" + v[len(v)-4:]
}

// scalar encodes c and returns the tree along with the node holding key.
func (c *Config) scalar(key string) (*yaml.Node, *yaml.Node, error) {
	if _, err := Lookup(key); err != nil {
		return nil, nil, err
	}
	var root yaml.Node
	if err := root.Encode(c); err != nil {
		return nil, nil, fmt.Errorf("encode config: %w", err)
	}
	n := &root
	for _, part := range strings.Split(key, ".") {
		var next *yaml.Node
		for i := 0; n.Kind == yaml.MappingNode && i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == part {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil, nil, fmt.Errorf("unknown config key: %s", key)
		}
		n = next
	}
	if n.Kind != yaml.ScalarNode {
		return nil, nil, fmt.Errorf("config key %s is not a value", key)
	}
	return &root, n, nil
}

// Get returns the value of a dotted key in its YAML form: durations as
// strings, ports as ints.
func (c *Config) Get(key string) (any, error) {
	_, n, err := c.scalar(key)
	if err != nil {
		return nil, err
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

// Set parses raw as the type of the field behind key and stores it. c is
// left unchanged when raw does not fit that type.
func (c *Config) Set(key, raw string) error {
	root, n, err := c.scalar(key)
	if err != nil {
		return err
	}
	// String fields keep their tag so raw is never reinterpreted. Any other
	// field resolves raw afresh and the decoder enforces the field's type.
	if n.ShortTag() != "!!str" {
		n.Tag = ""
	}
	n.Value = raw
	n.Style = 0
	updated := *c
	if err := root.Decode(&updated); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*c = updated
	return nil
}

func (c *Config) applyEnv() error {
	for _, s := range settings {
		v, ok := s.Override()
		if !ok {
			continue
		}
		if err := c.Set(s.Key, v); err != nil {
			return fmt.Errorf("%s: %w", s.Env, err)
		}
	}
	return nil
}

// ListValues returns every setting of cfg keyed by dotted path, with
// secrets masked when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	out := make(map[string]any, len(settings))
	for _, s := range settings {
		v, err := cfg.Get(s.Key)
		if err != nil {
			return nil, err
		}
		if str, ok := v.(string); ok && mask && s.Secret {
			v = MaskSecret(str)
		}
		out[s.Key] = v
	}
	return out, nil
}

// GetValue returns the effective value of key: the file at path (created
// with defaults if missing) with environment overrides applied.
func GetValue(path, key string) (any, error) {
	if _, err := Lookup(key); err != nil {
		return nil, err
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return cfg.Get(key)
}

// SetValue stores key in the file at path. Environment overrides are not
// written back, and the result must pass the same range checks serve
// applies.
func SetValue(path, key, raw string) error {
	cfg, err := loadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, raw); err != nil {
		return err
	}
	if err := cfg.checkRanges(); err != nil {
		return err
	}
	return Save(path, cfg)
}

// Package config provides layered configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omas-app/omas-vendor-go/internal/names"
)

// Config holds the resolved configuration.
type Config struct {
	// Vendor API settings
	APIURL   string `yaml:"api_url"`
	VendorID string `yaml:"vendor_id"`

	// Auth settings
	TokenURL  string `yaml:"token_url"`
	DeviceURL string `yaml:"device_url"`
	ClientID  string `yaml:"client_id"`
	Scope     string `yaml:"scope"`

	// Agent behavior
	PollInterval    Duration `yaml:"poll_interval"`
	DecisionTimeout Duration `yaml:"decision_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// Local durable state (poll cursor, credential file fallback)
	StateDir string `yaml:"state_dir"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `yaml:"-"`
}

// Duration is a time.Duration that round-trips through YAML as "5s", "1m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	APIURL   string
	VendorID string
	ClientID string
	StateDir string
}

// Default returns the default configuration.
func Default() *Config {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, _ := os.UserHomeDir()
		stateDir = filepath.Join(home, ".local", "state")
	}

	return &Config{
		APIURL:          "https://api.omas.app",
		VendorID:        "demo-vendor",
		TokenURL:        "https://auth.omas.app/realms/omas/protocol/openid-connect/token",
		DeviceURL:       "https://auth.omas.app/realms/omas/protocol/openid-connect/auth/device",
		ClientID:        "demo-client",
		Scope:           "openid omas offline_access",
		PollInterval:    Duration(5 * time.Second),
		DecisionTimeout: Duration(60 * time.Second),
		ShutdownTimeout: Duration(30 * time.Second),
		StateDir:        filepath.Join(stateDir, "omas-vendor"),
		Sources:         make(map[string]string),
	}
}

// GlobalPath returns the path of the config file.
func GlobalPath() string {
	if p := os.Getenv("OMAS_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "omas-vendor", "config.yaml")
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > config file > defaults.
func Load(overrides FlagOverrides) (*Config, error) {
	return LoadFile(GlobalPath(), overrides)
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string, overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	cfg.mergeEnv()
	cfg.mergeFlags(overrides)

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id must not be empty")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive")
	}
	return cfg, nil
}

// FileOnly resolves defaults plus the config file, skipping env and
// flags. Used by `config set`, which writes the result back and must not
// bake transient overrides into the file.
func FileOnly(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set := func(key string, dst *string, v string) {
		if v != "" {
			*dst = v
			c.Sources[key] = string(SourceFile)
		}
	}
	set("api_url", &c.APIURL, file.APIURL)
	set("vendor_id", &c.VendorID, file.VendorID)
	set("token_url", &c.TokenURL, file.TokenURL)
	set("device_url", &c.DeviceURL, file.DeviceURL)
	set("client_id", &c.ClientID, file.ClientID)
	set("scope", &c.Scope, file.Scope)
	set("state_dir", &c.StateDir, file.StateDir)
	if file.PollInterval > 0 {
		c.PollInterval = file.PollInterval
		c.Sources["poll_interval"] = string(SourceFile)
	}
	if file.DecisionTimeout > 0 {
		c.DecisionTimeout = file.DecisionTimeout
		c.Sources["decision_timeout"] = string(SourceFile)
	}
	if file.ShutdownTimeout > 0 {
		c.ShutdownTimeout = file.ShutdownTimeout
		c.Sources["shutdown_timeout"] = string(SourceFile)
	}
	return nil
}

func (c *Config) mergeEnv() {
	set := func(key, env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
			c.Sources[key] = string(SourceEnv)
		}
	}
	set("api_url", "OMAS_API_URL", &c.APIURL)
	set("vendor_id", "OMAS_VENDOR_ID", &c.VendorID)
	set("token_url", "OMAS_TOKEN_URL", &c.TokenURL)
	set("device_url", "OMAS_DEVICE_URL", &c.DeviceURL)
	set("client_id", "OMAS_CLIENT_ID", &c.ClientID)
	set("scope", "OMAS_SCOPE", &c.Scope)
	set("state_dir", "OMAS_STATE_DIR", &c.StateDir)

	if v := os.Getenv("OMAS_POLL_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			c.PollInterval = Duration(parsed)
			c.Sources["poll_interval"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("OMAS_DECISION_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			c.DecisionTimeout = Duration(parsed)
			c.Sources["decision_timeout"] = string(SourceEnv)
		}
	}
}

func (c *Config) mergeFlags(overrides FlagOverrides) {
	set := func(key string, dst *string, v string) {
		if v != "" {
			*dst = v
			c.Sources[key] = string(SourceFlag)
		}
	}
	set("api_url", &c.APIURL, overrides.APIURL)
	set("vendor_id", &c.VendorID, overrides.VendorID)
	set("client_id", &c.ClientID, overrides.ClientID)
	set("state_dir", &c.StateDir, overrides.StateDir)
}

// Parent returns the resource name of the vendor, the parent of its
// fulfillment collection.
func (c *Config) Parent() string {
	return names.Vendor(c.VendorID)
}

// Save writes the configuration to path, creating parent directories.
// Only file-persistable fields are written.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Get returns a config value by its YAML key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "vendor_id":
		return c.VendorID, nil
	case "token_url":
		return c.TokenURL, nil
	case "device_url":
		return c.DeviceURL, nil
	case "client_id":
		return c.ClientID, nil
	case "scope":
		return c.Scope, nil
	case "state_dir":
		return c.StateDir, nil
	case "poll_interval":
		return c.PollInterval.Std().String(), nil
	case "decision_timeout":
		return c.DecisionTimeout.Std().String(), nil
	case "shutdown_timeout":
		return c.ShutdownTimeout.Std().String(), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

// Set updates a config value by its YAML key.
func (c *Config) Set(key, value string) error {
	switch key {
	case "api_url":
		c.APIURL = value
	case "vendor_id":
		c.VendorID = value
	case "token_url":
		c.TokenURL = value
	case "device_url":
		c.DeviceURL = value
	case "client_id":
		c.ClientID = value
	case "scope":
		c.Scope = value
	case "state_dir":
		c.StateDir = value
	case "poll_interval", "decision_timeout", "shutdown_timeout":
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
		switch key {
		case "poll_interval":
			c.PollInterval = Duration(parsed)
		case "decision_timeout":
			c.DecisionTimeout = Duration(parsed)
		case "shutdown_timeout":
			c.ShutdownTimeout = Duration(parsed)
		}
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// Keys lists the settable config keys in display order.
func Keys() []string {
	return []string{
		"api_url",
		"vendor_id",
		"token_url",
		"device_url",
		"client_id",
		"scope",
		"state_dir",
		"poll_interval",
		"decision_timeout",
		"shutdown_timeout",
	}
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	goble "github.com/srg/kbridge/internal/device/go-ble"
	"github.com/srg/kbridge/internal/session"
)

// Config holds application configuration
type Config struct {
	LogLevel   logrus.Level `yaml:"-"`
	LogLevelID string       `yaml:"log_level" default:"info"`
	ListenAddr string       `yaml:"listen_addr" default:"127.0.0.1:8765"`
	ScanPrefix string       `yaml:"scan_prefix" default:""`

	// Adapter is the BlueZ adapter watched for power changes on Linux.
	Adapter string `yaml:"adapter" default:"hci0"`

	ConnectTimeout          time.Duration `yaml:"connect_timeout" default:"5s"`
	ProvisionConnectTimeout time.Duration `yaml:"provision_connect_timeout" default:"15s"`
	DisconnectTimeout       time.Duration `yaml:"disconnect_timeout" default:"3s"`
	RenameDisconnectDelay   time.Duration `yaml:"rename_disconnect_delay" default:"0s"`
	EventBuffer             int           `yaml:"event_buffer" default:"128"`

	Beacon       BeaconGATT       `yaml:"beacon"`
	Provisioning ProvisioningGATT `yaml:"provisioning"`
}

// BeaconGATT lists the characteristics the beacon primitive talks to.
type BeaconGATT struct {
	AuthChar   string `yaml:"auth_char" default:""`
	NotifyChar string `yaml:"notify_char" default:""`
	NameChar   string `yaml:"name_char" default:"2a00"`
}

// ProvisioningGATT lists the provisioning service and its characteristics.
type ProvisioningGATT struct {
	ServiceUUID    string `yaml:"service_uuid" default:"021a9004-0382-4aea-bff4-6b3f1c5adfb4"`
	ProofChar      string `yaml:"proof_char" default:"021aff50-0382-4aea-bff4-6b3f1c5adfb4"`
	SSIDChar       string `yaml:"ssid_char" default:"021aff51-0382-4aea-bff4-6b3f1c5adfb4"`
	PassphraseChar string `yaml:"passphrase_char" default:"021aff52-0382-4aea-bff4-6b3f1c5adfb4"`
	NetworksChar   string `yaml:"networks_char" default:"021aff53-0382-4aea-bff4-6b3f1c5adfb4"`
	StatusChar     string `yaml:"status_char" default:"021aff54-0382-4aea-bff4-6b3f1c5adfb4"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load returns the defaults overlaid with the YAML file at path. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.SetLogLevel(cfg.LogLevelID); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetLogLevel parses and applies a logrus level name.
func (c *Config) SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
	c.LogLevel = lvl
	c.LogLevelID = level
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions maps the timeouts onto the session manager.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		ConnectTimeout:          c.ConnectTimeout,
		ProvisionConnectTimeout: c.ProvisionConnectTimeout,
		DisconnectTimeout:       c.DisconnectTimeout,
		RenameDisconnectDelay:   c.RenameDisconnectDelay,
		ProvisioningServiceUUID: c.Provisioning.ServiceUUID,
		EventBuffer:             c.EventBuffer,
	}
}

func (c *Config) BeaconConfig() goble.BeaconConfig {
	return goble.BeaconConfig{
		AuthCharUUID:   c.Beacon.AuthChar,
		NotifyCharUUID: c.Beacon.NotifyChar,
		NameCharUUID:   c.Beacon.NameChar,
	}
}

func (c *Config) ProvisioningConfig() goble.ProvisioningConfig {
	return goble.ProvisioningConfig{
		ProofCharUUID:      c.Provisioning.ProofChar,
		SSIDCharUUID:       c.Provisioning.SSIDChar,
		PassphraseCharUUID: c.Provisioning.PassphraseChar,
		NetworksCharUUID:   c.Provisioning.NetworksChar,
		StatusCharUUID:     c.Provisioning.StatusChar,
	}
}

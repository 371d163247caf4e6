package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/bikelight/pkg/wireless"
)

// Backends a node can run on.
const (
	BackendGoBLE    = "goble"
	BackendTinyGo   = "tinygo"
	BackendLoopback = "loopback"
)

// Config holds application configuration
type Config struct {
	LogLevel string       `yaml:"log_level" default:"info"`
	Node     NodeConfig   `yaml:"node"`
	Target   TargetConfig `yaml:"target"`
	Timing   TimingConfig `yaml:"timing"`
}

type NodeConfig struct {
	Name    string `yaml:"name" default:"BikeLight"`
	Role    string `yaml:"role" default:"peripheral"`
	Backend string `yaml:"backend" default:"goble"`
}

// TargetConfig filters the peer the node links with. Empty fields match
// anything.
type TargetConfig struct {
	Name     string   `yaml:"name"`
	Address  string   `yaml:"address"`
	Services []string `yaml:"services"`
}

type TimingConfig struct {
	ConnectionInterval    time.Duration `yaml:"connection_interval" default:"1s"`
	ConnectBackoff        time.Duration `yaml:"connect_backoff" default:"2s"`
	DisconnectBackoff     time.Duration `yaml:"disconnect_backoff" default:"2s"`
	ReadBackoff           time.Duration `yaml:"read_backoff" default:"100ms"`
	WriteBackoff          time.Duration `yaml:"write_backoff" default:"100ms"`
	CharacteristicRefresh time.Duration `yaml:"characteristic_refresh" default:"5s"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout" default:"10s"`
	IOTimeout             time.Duration `yaml:"io_timeout" default:"1s"`
	ScanDuration          time.Duration `yaml:"scan_duration" default:"5s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Unmarshal overlays YAML data on c and validates the result.
func (c *Config) Unmarshal(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if _, err := wireless.ParseRole(c.Node.Role); err != nil {
		return fmt.Errorf("invalid node.role: %w", err)
	}
	switch c.Node.Backend {
	case BackendGoBLE, BackendTinyGo, BackendLoopback:
	default:
		return fmt.Errorf("invalid node.backend %q (use %s, %s or %s)", c.Node.Backend, BackendGoBLE, BackendTinyGo, BackendLoopback)
	}
	if _, err := wireless.ValidateUUID(c.Target.Services...); err != nil {
		return fmt.Errorf("invalid target service: %w", err)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

func (c *Config) Role() wireless.Role {
	role, _ := wireless.ParseRole(strings.ToLower(c.Node.Role))
	return role
}

func (c *Config) SessionOptions(logger *logrus.Logger) wireless.SessionOptions {
	return wireless.SessionOptions{
		Name:               c.Node.Name,
		ConnectionInterval: c.Timing.ConnectionInterval,
		ConnectBackoff:     c.Timing.ConnectBackoff,
		DisconnectBackoff:  c.Timing.DisconnectBackoff,
		ConnectTimeout:     c.Timing.ConnectTimeout,
		Logger:             logger,
	}
}

// TargetFilter returns nil when no filter field is set.
func (c *Config) TargetFilter() *wireless.Target {
	t := c.Target
	if t.Name == "" && t.Address == "" && len(t.Services) == 0 {
		return nil
	}
	return &wireless.Target{Name: t.Name, Address: t.Address, Services: append([]string(nil), t.Services...)}
}

func (c *Config) TransportTiming() wireless.Timing {
	return wireless.Timing{
		ScanDuration:   c.Timing.ScanDuration,
		ConnectTimeout: c.Timing.ConnectTimeout,
		IOTimeout:      c.Timing.IOTimeout,
	}
}

// CharacteristicOptions carries the timing settings to every
// characteristic of a profile.
func (c *Config) CharacteristicOptions() []wireless.CharacteristicOption {
	return []wireless.CharacteristicOption{
		wireless.WithRefresh(c.Timing.CharacteristicRefresh),
		wireless.WithBackoff(c.Timing.ReadBackoff, c.Timing.WriteBackoff),
	}
}

// Package config loads pal-beacon settings from $PAL_BEACON_DIR/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/pal-beacon/beacon"
	"github.com/user/pal-beacon/kotlin"
	"github.com/user/pal-beacon/logger"
	"github.com/user/pal-beacon/proximity"
	"gopkg.in/yaml.v3"
)

const (
	// EnvDir overrides the data directory.
	EnvDir = "PAL_BEACON_DIR"
	// EnvLogLevel overrides log_level.
	EnvLogLevel = "PAL_BEACON_LOG_LEVEL"

	FileName = "config.yaml"
)

type Config struct {
	CompanyID    uint16          `yaml:"company_id"`
	StartTimeout time.Duration   `yaml:"start_timeout"`
	LogLevel     string          `yaml:"log_level"`
	Proximity    ProximityConfig `yaml:"proximity"`
	Simulation   SimConfig       `yaml:"simulation"`
}

type ProximityConfig struct {
	RSSIThreshold   int           `yaml:"rssi_threshold"`
	ConsecutiveHits int           `yaml:"consecutive_hits"`
	DedupWindow     time.Duration `yaml:"dedup_window"`
	MatchPrefix     int           `yaml:"match_prefix"`
}

// SimConfig drives the simulated Android stack used by --simulate and demo.
type SimConfig struct {
	DeviceName           string        `yaml:"device_name"`
	AdvertisingSupported bool          `yaml:"advertising_supported"`
	PermissionGranted    bool          `yaml:"permission_granted"`
	MaxAdvertisers       int           `yaml:"max_advertisers"`
	StartDelay           time.Duration `yaml:"start_delay"`
	FailureCode          int           `yaml:"failure_code"`
	Unresponsive         bool          `yaml:"unresponsive"`
}

func Defaults() *Config {
	sim := kotlin.DefaultSimulationConfig()
	prox := proximity.DefaultConfig()
	return &Config{
		CompanyID:    beacon.DefaultCompanyID,
		StartTimeout: beacon.DefaultStartTimeout,
		LogLevel:     "INFO",
		Proximity: ProximityConfig{
			RSSIThreshold:   prox.Threshold,
			ConsecutiveHits: prox.ConsecutiveHits,
			DedupWindow:     5 * time.Second,
			MatchPrefix:     6,
		},
		Simulation: SimConfig{
			DeviceName:           "Pixel 8 Pro",
			AdvertisingSupported: sim.AdvertisingSupported,
			PermissionGranted:    true,
			MaxAdvertisers:       sim.MaxAdvertisers,
			StartDelay:           sim.StartDelay,
		},
	}
}

// DataDir returns $PAL_BEACON_DIR, or ~/.pal-beacon.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home directory: %w", err)
	}
	return filepath.Join(home, ".pal-beacon"), nil
}

// DefaultPath is config.yaml inside DataDir.
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads path over the defaults. A missing file is not an error.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debug("Config", "no config at %s, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

func (c *Config) Validate() error {
	if c.CompanyID == 0 {
		return errors.New("config: company_id must be non-zero")
	}
	if c.Proximity.ConsecutiveHits < 1 {
		return fmt.Errorf("config: proximity.consecutive_hits must be at least 1, got %d", c.Proximity.ConsecutiveHits)
	}
	if c.Proximity.MatchPrefix < 1 {
		return fmt.Errorf("config: proximity.match_prefix must be at least 1, got %d", c.Proximity.MatchPrefix)
	}
	if c.Proximity.DedupWindow < 0 {
		return fmt.Errorf("config: proximity.dedup_window must not be negative")
	}
	return nil
}

// Level is the parsed log_level. Unknown names fall back to INFO.
func (c *Config) Level() logger.LogLevel {
	return logger.ParseLevel(c.LogLevel)
}

func (c *Config) Session() beacon.Config {
	return beacon.Config{
		CompanyID:    c.CompanyID,
		StartTimeout: c.StartTimeout,
	}
}

func (c *Config) Watcher() proximity.Config {
	return proximity.Config{
		CompanyID:       c.CompanyID,
		Threshold:       c.Proximity.RSSIThreshold,
		ConsecutiveHits: c.Proximity.ConsecutiveHits,
	}
}

func (c *Config) Verifier() *proximity.Verifier {
	return proximity.NewVerifier(c.Proximity.DedupWindow, c.Proximity.MatchPrefix)
}

func (c *Config) SimulationConfig() *kotlin.SimulationConfig {
	sim := kotlin.DefaultSimulationConfig()
	sim.AdvertisingSupported = c.Simulation.AdvertisingSupported
	sim.MaxAdvertisers = c.Simulation.MaxAdvertisers
	sim.StartDelay = c.Simulation.StartDelay
	sim.FailureCode = c.Simulation.FailureCode
	sim.Unresponsive = c.Simulation.Unresponsive
	return sim
}

// SimulatedAdapter builds the Android adapter described by the simulation
// section.
func (c *Config) SimulatedAdapter() *kotlin.BluetoothAdapter {
	adapter := kotlin.NewBluetoothAdapter(c.Simulation.DeviceName, c.SimulationConfig())
	adapter.SetPermissionGranted(c.Simulation.PermissionGranted)
	return adapter
}

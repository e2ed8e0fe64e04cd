package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/stopline/internal/serialmux"
	"github.com/banshee-data/stopline/internal/stopline"
	"gonum.org/v1/gonum/spatial/r2"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/stopline.defaults.json"

// Config is the startup configuration. Unset fields fall back to the
// defaults returned by the Get* methods, so partial files are safe.
type Config struct {
	// StopLinePositions lists one [x, y] map position per signalised
	// intersection, in map order.
	StopLinePositions [][2]float64 `json:"stop_line_positions,omitempty"`

	StateCountThreshold *int     `json:"state_count_threshold,omitempty"`
	LightKeyTolerance   *float64 `json:"light_key_tolerance,omitempty"` // metres

	// Transport params
	Serial          *serialmux.PortOptions `json:"serial,omitempty"`
	UDPEventPort    *int                   `json:"udp_event_port,omitempty"`
	FixtureInterval *string                `json:"fixture_interval,omitempty"` // duration string like "100ms"
	EventQueueSize  *int                   `json:"event_queue_size,omitempty"`

	// Storage params
	HistoryLimit *int `json:"history_limit,omitempty"`
}

// LoadConfig loads a Config from a JSON file. The file must have a .json
// extension and be at most 1 MiB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	if c.StateCountThreshold != nil && *c.StateCountThreshold < 1 {
		return fmt.Errorf("state_count_threshold must be at least 1, got %d", *c.StateCountThreshold)
	}
	if c.LightKeyTolerance != nil && *c.LightKeyTolerance <= 0 {
		return fmt.Errorf("light_key_tolerance must be positive, got %f", *c.LightKeyTolerance)
	}
	if c.UDPEventPort != nil && (*c.UDPEventPort < 1 || *c.UDPEventPort > 65535) {
		return fmt.Errorf("udp_event_port must be between 1 and 65535, got %d", *c.UDPEventPort)
	}
	if c.FixtureInterval != nil && *c.FixtureInterval != "" {
		d, err := time.ParseDuration(*c.FixtureInterval)
		if err != nil {
			return fmt.Errorf("invalid fixture_interval '%s': %w", *c.FixtureInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("fixture_interval must be positive, got %s", d)
		}
	}
	if c.EventQueueSize != nil && *c.EventQueueSize < 0 {
		return fmt.Errorf("event_queue_size must be non-negative, got %d", *c.EventQueueSize)
	}
	if c.HistoryLimit != nil && *c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1, got %d", *c.HistoryLimit)
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}
	return nil
}

// GetStopLines returns the configured stop line positions.
func (c *Config) GetStopLines() []r2.Vec {
	out := make([]r2.Vec, len(c.StopLinePositions))
	for i, p := range c.StopLinePositions {
		out[i] = r2.Vec{X: p[0], Y: p[1]}
	}
	return out
}

// GetStateCountThreshold returns the state_count_threshold value or the default.
func (c *Config) GetStateCountThreshold() int {
	if c.StateCountThreshold == nil {
		return stopline.DefaultStateCountThreshold
	}
	return *c.StateCountThreshold
}

// GetLightKeyTolerance returns the light_key_tolerance value or the default.
func (c *Config) GetLightKeyTolerance() float64 {
	if c.LightKeyTolerance == nil {
		return stopline.DefaultLightKeyTolerance
	}
	return *c.LightKeyTolerance
}

// GetSerialOptions returns the serial options or the zero value, which
// normalises to serialmux.DefaultEventLink.
func (c *Config) GetSerialOptions() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *c.Serial
}

// GetUDPEventPort returns the udp_event_port value or the default.
func (c *Config) GetUDPEventPort() int {
	if c.UDPEventPort == nil {
		return 6200
	}
	return *c.UDPEventPort
}

// GetFixtureInterval parses and returns the FixtureInterval as a time.Duration.
func (c *Config) GetFixtureInterval() time.Duration {
	if c.FixtureInterval == nil || *c.FixtureInterval == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.FixtureInterval)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

// GetEventQueueSize returns the event_queue_size value or the default.
func (c *Config) GetEventQueueSize() int {
	if c.EventQueueSize == nil {
		return 64
	}
	return *c.EventQueueSize
}

// GetHistoryLimit returns the history_limit value or the default.
func (c *Config) GetHistoryLimit() int {
	if c.HistoryLimit == nil {
		return 500
	}
	return *c.HistoryLimit
}

// LoopConfig builds the perception loop configuration. Collaborators are
// left for the caller to fill in.
func (c *Config) LoopConfig() stopline.LoopConfig {
	return stopline.LoopConfig{
		StopLines:           c.GetStopLines(),
		StateCountThreshold: c.GetStateCountThreshold(),
		LightKeyTolerance:   c.GetLightKeyTolerance(),
	}
}

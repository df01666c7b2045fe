// Package config provides configuration management for the analysis service
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config represents the main service configuration
type Config struct {
	Version  string         `yaml:"version"`
	System   SystemConfig   `yaml:"system"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Detector DetectorConfig `yaml:"detector"`
	Server   ServerConfig   `yaml:"server"`
	Bus      BusConfig      `yaml:"bus"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// SystemConfig holds system-wide settings
type SystemConfig struct {
	Name        string         `yaml:"name"`
	StoragePath string         `yaml:"storage_path"`
	Database    DatabaseConfig `yaml:"database"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite path
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// AnalysisConfig holds the accident detection parameters
type AnalysisConfig struct {
	ConfThreshold    float64  `yaml:"conf_thres" json:"conf_thres"`
	IoUThreshold     float64  `yaml:"accident_iou_thres" json:"accident_iou_thres"`
	AreaGrowthFactor float64  `yaml:"area_growth_factor" json:"area_growth_factor"`
	VehicleClasses   []string `yaml:"vehicle_classes,omitempty" json:"vehicle_classes,omitempty"`
	MaxFrames        int      `yaml:"max_frames,omitempty" json:"max_frames,omitempty"`
	DurationSeconds  int      `yaml:"duration_sec,omitempty" json:"duration_sec,omitempty"`
	OutputDir        string   `yaml:"output_dir" json:"output_dir"`
}

// DetectorConfig holds object detector settings
type DetectorConfig struct {
	Mode           string            `yaml:"mode"` // http or dnn
	Address        string            `yaml:"address,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_sec,omitempty"`
	Model          DetectorDNNConfig `yaml:"model,omitempty"`
}

// Timeout returns the detector request timeout as a duration.
func (d DetectorConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// DetectorDNNConfig holds the paths of an in-process DNN model
type DetectorDNNConfig struct {
	ModelPath  string `yaml:"model_path"`
	ConfigPath string `yaml:"config_path,omitempty"`
	LabelsPath string `yaml:"labels_path"`
	InputSize  int    `yaml:"input_size,omitempty"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// BusConfig holds embedded message bus settings
type BusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	return &cfg, nil
}

// LoadOrCreate loads the configuration at path, first writing a default
// file there when none exists yet.
func LoadOrCreate(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.SetPath(path)
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Default returns a configuration with all defaults applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// Save saves the configuration to a YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	// Copy for marshaling (without mutex)
	cfgCopy := &Config{
		Version:  c.Version,
		System:   c.System,
		Analysis: c.Analysis,
		Detector: c.Detector,
		Server:   c.Server,
		Bus:      c.Bus,
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# RoadWatch Configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk
func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Analysis = newCfg.Analysis
	c.Detector = newCfg.Detector
	c.Server = newCfg.Server
	c.Bus = newCfg.Bus
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// GetAnalysis returns a consistent copy of the analysis section. Reads
// through this getter are safe while a hot reload rewrites the fields.
func (c *Config) GetAnalysis() AnalysisConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a := c.Analysis
	a.VehicleClasses = append([]string(nil), a.VehicleClasses...)
	return a
}

// GetDetector returns a consistent copy of the detector section.
func (c *Config) GetDetector() DetectorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Detector
}

// GetLogging returns a consistent copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.Logging
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// SetPath sets the path for the config file (used for saving)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Name == "" {
		c.System.Name = "roadwatch"
	}
	if c.System.StoragePath == "" {
		c.System.StoragePath = "data"
	}
	if c.System.Database.Path == "" {
		c.System.Database.Path = "data/roadwatch.db"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = "json"
	}
	if c.Analysis.ConfThreshold == 0 {
		c.Analysis.ConfThreshold = 0.5
	}
	if c.Analysis.IoUThreshold == 0 {
		c.Analysis.IoUThreshold = 0.5
	}
	if c.Analysis.AreaGrowthFactor == 0 {
		c.Analysis.AreaGrowthFactor = 1.5
	}
	if c.Analysis.OutputDir == "" {
		c.Analysis.OutputDir = "outputs"
	}
	if c.Detector.Mode == "" {
		c.Detector.Mode = "http"
	}
	if c.Detector.Address == "" {
		c.Detector.Address = "localhost:8765"
	}
	if c.Detector.TimeoutSeconds == 0 {
		c.Detector.TimeoutSeconds = 30
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Bus.Host == "" {
		c.Bus.Host = "127.0.0.1"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 4222
	}
}

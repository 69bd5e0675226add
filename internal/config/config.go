// Package config provides configuration management for the CrowdSight server
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

// Config represents the main server configuration
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Bus       BusConfig       `yaml:"bus"`
	Logging   LoggingConfig   `yaml:"logging"`
	Detector  DetectorConfig  `yaml:"detector"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	ReID      ReIDConfig      `yaml:"reid"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Cache     CacheConfig     `yaml:"frame_cache"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Push      PushConfig      `yaml:"push"`
	Stream    StreamConfig    `yaml:"stream"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	CORSOrigins     []string `yaml:"cors_origins,omitempty"`
	RequestTimeout  int      `yaml:"request_timeout_seconds"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_seconds"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// BusConfig holds embedded message bus settings
type BusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DetectorConfig holds person detector settings
type DetectorConfig struct {
	// Mode selects the detector implementation: "http" or "static"
	Mode          string  `yaml:"mode"`
	Endpoint      string  `yaml:"endpoint,omitempty"`
	ConfThreshold float64 `yaml:"conf_threshold"`
	NMSIoU        float64 `yaml:"nms_iou"`
	TimeoutMS     int     `yaml:"timeout_ms"`
	MaxRetries    int     `yaml:"max_retries"`
	// Strict refuses startup when the detector endpoint is unreachable
	Strict bool `yaml:"strict,omitempty"`
}

// TrackerConfig holds multi-object tracker settings
type TrackerConfig struct {
	IoUThreshold float64 `yaml:"iou_threshold"`
	MinHits      int     `yaml:"min_hits"`
	MaxAge       int     `yaml:"max_age"`
}

// ReIDConfig holds appearance embedding settings
type ReIDConfig struct {
	Alpha float64 `yaml:"ema_alpha"`
}

// PipelineConfig holds per-camera pipeline settings
type PipelineConfig struct {
	QueueSize          int `yaml:"queue_size"`
	CameraIdleSeconds  int `yaml:"camera_idle_seconds"`
	WriteBufferSamples int `yaml:"write_buffer_samples"`
}

// AnalyticsConfig holds crowd analytics settings
type AnalyticsConfig struct {
	DensityNorm        float64 `yaml:"density_norm"`
	ReferenceSpeed     float64 `yaml:"reference_speed"`
	SpeedJumpThreshold float64 `yaml:"speed_jump_threshold"`
}

// AlertsConfig holds alert generator settings
type AlertsConfig struct {
	ResampleSeconds int `yaml:"resample_seconds"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
}

// CacheConfig holds frame cache settings
type CacheConfig struct {
	Frames     int `yaml:"frames"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

// MatcherConfig holds cross-camera matcher settings
type MatcherConfig struct {
	WindowSeconds int     `yaml:"window_seconds"`
	SimThreshold  float64 `yaml:"similarity_threshold"`
}

// PushConfig holds push fabric settings
type PushConfig struct {
	BufferSize          int `yaml:"buffer_size"`
	SendDeadlineMS      int `yaml:"send_deadline_ms"`
	MaxConsecutiveDrops int `yaml:"max_consecutive_drops"`
}

// StreamConfig holds MJPEG streaming settings
type StreamConfig struct {
	FPS             int `yaml:"fps"`
	Quality         int `yaml:"quality"`
	SnapshotQuality int `yaml:"snapshot_quality"`
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

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Save saves the configuration to a YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version:   c.Version,
		Server:    c.Server,
		Database:  c.Database,
		Bus:       c.Bus,
		Logging:   c.Logging,
		Detector:  c.Detector,
		Tracker:   c.Tracker,
		ReID:      c.ReID,
		Pipeline:  c.Pipeline,
		Analytics: c.Analytics,
		Alerts:    c.Alerts,
		Cache:     c.Cache,
		Matcher:   c.Matcher,
		Push:      c.Push,
		Stream:    c.Stream,
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# CrowdSight Server Configuration\n\n"
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
	c.Server = newCfg.Server
	c.Database = newCfg.Database
	c.Bus = newCfg.Bus
	c.Logging = newCfg.Logging
	c.Detector = newCfg.Detector
	c.Tracker = newCfg.Tracker
	c.ReID = newCfg.ReID
	c.Pipeline = newCfg.Pipeline
	c.Analytics = newCfg.Analytics
	c.Alerts = newCfg.Alerts
	c.Cache = newCfg.Cache
	c.Matcher = newCfg.Matcher
	c.Push = newCfg.Push
	c.Stream = newCfg.Stream
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// SetPath sets the path for the config file (used for saving)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/crowdsight.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Bus.Host == "" {
		c.Bus.Host = "127.0.0.1"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 14222
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Detector.Mode == "" {
		c.Detector.Mode = "http"
	}
	if c.Detector.ConfThreshold == 0 {
		c.Detector.ConfThreshold = 0.5
	}
	if c.Detector.NMSIoU == 0 {
		c.Detector.NMSIoU = 0.4
	}
	if c.Detector.TimeoutMS == 0 {
		c.Detector.TimeoutMS = 2000
	}
	if c.Detector.MaxRetries == 0 {
		c.Detector.MaxRetries = 2
	}
	if c.Tracker.IoUThreshold == 0 {
		c.Tracker.IoUThreshold = 0.5
	}
	if c.Tracker.MinHits == 0 {
		c.Tracker.MinHits = 3
	}
	if c.Tracker.MaxAge == 0 {
		c.Tracker.MaxAge = 30
	}
	if c.ReID.Alpha == 0 {
		c.ReID.Alpha = 0.3
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 10
	}
	if c.Pipeline.CameraIdleSeconds == 0 {
		c.Pipeline.CameraIdleSeconds = 30
	}
	if c.Pipeline.WriteBufferSamples == 0 {
		c.Pipeline.WriteBufferSamples = 1000
	}
	if c.Analytics.DensityNorm == 0 {
		c.Analytics.DensityNorm = 10.0
	}
	if c.Analytics.ReferenceSpeed == 0 {
		c.Analytics.ReferenceSpeed = 120.0
	}
	if c.Analytics.SpeedJumpThreshold == 0 {
		c.Analytics.SpeedJumpThreshold = 60.0
	}
	if c.Alerts.ResampleSeconds == 0 {
		c.Alerts.ResampleSeconds = 30
	}
	if c.Alerts.CooldownSeconds == 0 {
		c.Alerts.CooldownSeconds = 10
	}
	if c.Cache.Frames == 0 {
		c.Cache.Frames = 10
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 5
	}
	if c.Matcher.WindowSeconds == 0 {
		c.Matcher.WindowSeconds = 600
	}
	if c.Matcher.SimThreshold == 0 {
		c.Matcher.SimThreshold = 0.70
	}
	if c.Push.BufferSize == 0 {
		c.Push.BufferSize = 256
	}
	if c.Push.SendDeadlineMS == 0 {
		c.Push.SendDeadlineMS = 1000
	}
	if c.Push.MaxConsecutiveDrops == 0 {
		c.Push.MaxConsecutiveDrops = 3
	}
	if c.Stream.FPS == 0 {
		c.Stream.FPS = 30
	}
	if c.Stream.Quality == 0 {
		c.Stream.Quality = 85
	}
	if c.Stream.SnapshotQuality == 0 {
		c.Stream.SnapshotQuality = 95
	}
}

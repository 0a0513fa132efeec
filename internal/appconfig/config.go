package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/tabrotor/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string         `mapstructure:"state_dir" yaml:"state_dir"`
	Store         StoreConfig    `mapstructure:"store" yaml:"store"`
	Browser       BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Rotation      RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	Sweep         SweepConfig    `mapstructure:"sweep" yaml:"sweep"`
	Alarm         AlarmConfig    `mapstructure:"alarm" yaml:"alarm"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
	Logging       LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// StoreConfig selects the persistent state backend.
type StoreConfig struct {
	// Driver is one of file, sqlite or memory.
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// BrowserConfig configures the DevTools connection.
type BrowserConfig struct {
	RemoteURL              string         `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath               string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir            string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Headless               bool           `mapstructure:"headless" yaml:"headless"`
	Flags                  map[string]any `mapstructure:"flags" yaml:"flags"`
	NavigateTimeoutSeconds int            `mapstructure:"navigate_timeout_seconds" yaml:"navigate_timeout_seconds"`
	ConnectTimeoutSeconds  int            `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
}

// RotationConfig controls rotation limits and defaults.
type RotationConfig struct {
	MaxURLs         int `mapstructure:"max_urls" yaml:"max_urls"`
	MaxSavedURLs    int `mapstructure:"max_saved_urls" yaml:"max_saved_urls"`
	MaxURLStats     int `mapstructure:"max_url_stats" yaml:"max_url_stats"`
	MaxSessionStats int `mapstructure:"max_session_stats" yaml:"max_session_stats"`
	DefaultMinTime  int `mapstructure:"default_min_time" yaml:"default_min_time"`
	DefaultMaxTime  int `mapstructure:"default_max_time" yaml:"default_max_time"`
}

// SweepConfig controls the periodic maintenance sweep.
type SweepConfig struct {
	Disabled               bool `mapstructure:"disabled" yaml:"disabled"`
	IntervalMinutes        int  `mapstructure:"interval_minutes" yaml:"interval_minutes"`
	TimeoutSeconds         int  `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	SessionRetentionHours  int  `mapstructure:"session_retention_hours" yaml:"session_retention_hours"`
	URLStatsRetentionHours int  `mapstructure:"url_stats_retention_hours" yaml:"url_stats_retention_hours"`
}

// AlarmConfig controls the alarm scheduler.
type AlarmConfig struct {
	ResolutionMillis int `mapstructure:"resolution_ms" yaml:"resolution_ms"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".tabrotor", "state"),
		Store: StoreConfig{
			Driver:    "file",
			Path:      "",
			Namespace: "tabrotor.",
		},
		Browser: BrowserConfig{
			RemoteURL:              "",
			ExecPath:               "",
			UserDataDir:            filepath.Join(home, ".tabrotor", "chrome"),
			Headless:               false,
			Flags:                  map[string]any{},
			NavigateTimeoutSeconds: 30,
			ConnectTimeoutSeconds:  60,
		},
		Rotation: RotationConfig{
			MaxURLs:         schema.DefaultMaxURLs,
			MaxSavedURLs:    schema.DefaultMaxSavedURLs,
			MaxURLStats:     schema.DefaultMaxURLStats,
			MaxSessionStats: schema.DefaultMaxSessionStats,
			DefaultMinTime:  schema.DefaultMinTime,
			DefaultMaxTime:  schema.DefaultMaxTime,
		},
		Sweep: SweepConfig{
			Disabled:               false,
			IntervalMinutes:        int(schema.DefaultSweepInterval / time.Minute),
			TimeoutSeconds:         int(schema.DefaultSweepTimeout / time.Second),
			SessionRetentionHours:  int(schema.DefaultSessionRetention / time.Hour),
			URLStatsRetentionHours: int(schema.DefaultURLStatsRetention / time.Hour),
		},
		Alarm: AlarmConfig{
			ResolutionMillis: 1000,
		},
		HTTP: HTTPConfig{
			Addr:     "127.0.0.1:27490",
			BasePath: "",
		},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tabrotor", "config.yaml"), nil
}

// ServiceConfig converts the rotation and sweep sections to engine settings.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		MaxURLs:           c.Rotation.MaxURLs,
		MaxSavedURLs:      c.Rotation.MaxSavedURLs,
		MaxURLStats:       c.Rotation.MaxURLStats,
		MaxSessionStats:   c.Rotation.MaxSessionStats,
		DefaultMinTime:    c.Rotation.DefaultMinTime,
		DefaultMaxTime:    c.Rotation.DefaultMaxTime,
		SessionRetention:  time.Duration(c.Sweep.SessionRetentionHours) * time.Hour,
		URLStatsRetention: time.Duration(c.Sweep.URLStatsRetentionHours) * time.Hour,
		SweepInterval:     time.Duration(c.Sweep.IntervalMinutes) * time.Minute,
		SweepTimeout:      time.Duration(c.Sweep.TimeoutSeconds) * time.Second,
	}
}

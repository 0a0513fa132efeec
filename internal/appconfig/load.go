package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TABROTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.namespace", cfg.Store.Namespace)
	v.SetDefault("browser.remote_url", cfg.Browser.RemoteURL)
	v.SetDefault("browser.exec_path", cfg.Browser.ExecPath)
	v.SetDefault("browser.user_data_dir", cfg.Browser.UserDataDir)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.flags", cfg.Browser.Flags)
	v.SetDefault("browser.navigate_timeout_seconds", cfg.Browser.NavigateTimeoutSeconds)
	v.SetDefault("browser.connect_timeout_seconds", cfg.Browser.ConnectTimeoutSeconds)
	v.SetDefault("rotation.max_urls", cfg.Rotation.MaxURLs)
	v.SetDefault("rotation.max_saved_urls", cfg.Rotation.MaxSavedURLs)
	v.SetDefault("rotation.max_url_stats", cfg.Rotation.MaxURLStats)
	v.SetDefault("rotation.max_session_stats", cfg.Rotation.MaxSessionStats)
	v.SetDefault("rotation.default_min_time", cfg.Rotation.DefaultMinTime)
	v.SetDefault("rotation.default_max_time", cfg.Rotation.DefaultMaxTime)
	v.SetDefault("sweep.disabled", cfg.Sweep.Disabled)
	v.SetDefault("sweep.interval_minutes", cfg.Sweep.IntervalMinutes)
	v.SetDefault("sweep.timeout_seconds", cfg.Sweep.TimeoutSeconds)
	v.SetDefault("sweep.session_retention_hours", cfg.Sweep.SessionRetentionHours)
	v.SetDefault("sweep.url_stats_retention_hours", cfg.Sweep.URLStatsRetentionHours)
	v.SetDefault("alarm.resolution_ms", cfg.Alarm.ResolutionMillis)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("logging.disable_audit_trails", cfg.Logging.DisableAuditTrails)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported store.driver %q", cfg.Store.Driver)
	}
	if cfg.Rotation.DefaultMinTime <= 0 || cfg.Rotation.DefaultMinTime >= cfg.Rotation.DefaultMaxTime {
		return fmt.Errorf("rotation.default_min_time must be positive and less than rotation.default_max_time")
	}
	if cfg.Sweep.URLStatsRetentionHours < cfg.Sweep.SessionRetentionHours {
		return fmt.Errorf("sweep.url_stats_retention_hours must not be shorter than sweep.session_retention_hours")
	}
	if cfg.Alarm.ResolutionMillis < 0 {
		return fmt.Errorf("alarm.resolution_ms must not be negative")
	}
	return validateHTTPConfig(cfg.HTTP)
}

func validateHTTPConfig(cfg HTTPConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("http.addr is required")
	}
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Store.Path = expandEnv(cfg.Store.Path)
	cfg.Browser.RemoteURL = expandEnv(cfg.Browser.RemoteURL)
	cfg.Browser.ExecPath = expandEnv(cfg.Browser.ExecPath)
	cfg.Browser.UserDataDir = expandEnv(cfg.Browser.UserDataDir)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path and returns the path written.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	data := append([]byte(defaultHeader), body...)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

const defaultHeader = `# tabrotor configuration.
# Paths expand $VAR and ${VAR}; $UID and $GID are always available.
# Any key can be overridden with TABROTOR_<SECTION>_<KEY>, e.g. TABROTOR_HTTP_ADDR.
# store.driver: file | sqlite | memory
# browser.remote_url: leave empty to launch a local Chrome.
`

package schema

import (
	"errors"
	"time"
)

// ServiceConfig defines defaults and limits for the rotation engine.
type ServiceConfig struct {
	MaxURLs           int
	MaxSavedURLs      int
	MaxURLStats       int
	MaxSessionStats   int
	DefaultMinTime    int
	DefaultMaxTime    int
	SessionRetention  time.Duration
	URLStatsRetention time.Duration
	SweepInterval     time.Duration
	SweepTimeout      time.Duration
}

const (
	// DefaultMaxURLs caps the URL list accepted by start.
	DefaultMaxURLs = 100
	// DefaultMaxSavedURLs caps the saved URL list.
	DefaultMaxSavedURLs = 100
	// DefaultMaxURLStats caps the number of tracked URLs.
	DefaultMaxURLStats = 1000
	// DefaultMaxSessionStats caps the session log.
	DefaultMaxSessionStats = 50
	// DefaultMinTime is the minimum delay in seconds shown for tabs without state.
	DefaultMinTime = 60
	// DefaultMaxTime is the maximum delay in seconds shown for tabs without state.
	DefaultMaxTime = 90
	// DefaultSessionRetention is how long session records are kept.
	DefaultSessionRetention = 7 * 24 * time.Hour
	// DefaultURLStatsRetention is how long unused URL stats are kept.
	DefaultURLStatsRetention = 30 * 24 * time.Hour
	// DefaultSweepInterval is the period between maintenance sweeps.
	DefaultSweepInterval = time.Hour
	// DefaultSweepTimeout bounds a single sweep.
	DefaultSweepTimeout = 30 * time.Second
)

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = DefaultMaxURLs
	}
	if cfg.MaxSavedURLs <= 0 {
		cfg.MaxSavedURLs = DefaultMaxSavedURLs
	}
	if cfg.MaxURLStats <= 0 {
		cfg.MaxURLStats = DefaultMaxURLStats
	}
	if cfg.MaxSessionStats <= 0 {
		cfg.MaxSessionStats = DefaultMaxSessionStats
	}
	if cfg.DefaultMinTime <= 0 {
		cfg.DefaultMinTime = DefaultMinTime
	}
	if cfg.DefaultMaxTime <= 0 {
		cfg.DefaultMaxTime = DefaultMaxTime
	}
	if cfg.SessionRetention <= 0 {
		cfg.SessionRetention = DefaultSessionRetention
	}
	if cfg.URLStatsRetention <= 0 {
		cfg.URLStatsRetention = DefaultURLStatsRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = DefaultSweepTimeout
	}
	if err := ValidateTimeBounds(cfg.DefaultMinTime, cfg.DefaultMaxTime); err != nil {
		return ServiceConfig{}, errors.New("default min time must be less than default max time")
	}
	if cfg.URLStatsRetention < cfg.SessionRetention {
		return ServiceConfig{}, errors.New("url stats retention must not be shorter than session retention")
	}
	return cfg, nil
}

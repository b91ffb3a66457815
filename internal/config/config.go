package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Path to the SQLite database
	DatabasePath string

	// Tidal API credentials
	Tidal TidalConfig

	Sync     SyncConfig
	Import   ImportConfig
	Throttle ThrottleConfig
	Session  SessionConfig
}

// TidalConfig holds Tidal application credentials
type TidalConfig struct {
	ClientID     string
	ClientSecret string
}

// SyncConfig tunes the perpetual live-sync loop
type SyncConfig struct {
	Interval    time.Duration // Sleep between cycles
	PageSize    int           // Recent plays fetched per user per cycle
	DedupWindow time.Duration // Live dedup window
}

// ImportConfig tunes the historical import pipeline
type ImportConfig struct {
	BatchSize       int           // Qualifying records per flush
	LookupBatchSize int           // Distinct fuzzy lookups per resolve flush
	DedupWindow     time.Duration // Import dedup window
	MinPlayMS       int64         // Plays shorter than this are discarded
	CacheSize       int           // Max metadata cache entries per run
	Retention       time.Duration // How long finished import runs are kept
}

// ThrottleConfig tunes the shared external-API request throttle
type ThrottleConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxInFlight       int64
	RetryAttempts     int
	RetryDelay        time.Duration
}

// SessionConfig tunes the in-memory now-playing tracker
type SessionConfig struct {
	SweepInterval time.Duration // How often abandoned sessions are evicted
	MaxIdle       time.Duration // Idle age after which a session is abandoned
	MinDuration   time.Duration // Minimum elapsed time for an end to count as a play
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getConfigDir())
	v.AddConfigPath(".")

	// Set defaults
	v.SetDefault("database_path", filepath.Join(getDataDir(), "tidewatch.db"))
	v.SetDefault("sync.interval_seconds", 120)
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.dedup_window_seconds", 30)
	v.SetDefault("import.batch_size", 20)
	v.SetDefault("import.lookup_batch_size", 45)
	v.SetDefault("import.dedup_window_seconds", 60)
	v.SetDefault("import.min_play_ms", 30000)
	v.SetDefault("import.cache_size", 2000)
	v.SetDefault("import.retention_days", 30)
	v.SetDefault("throttle.requests_per_second", 10)
	v.SetDefault("throttle.burst", 5)
	v.SetDefault("throttle.max_in_flight", 3)
	v.SetDefault("throttle.retry_attempts", 10)
	v.SetDefault("throttle.retry_delay_ms", 50)
	v.SetDefault("session.sweep_interval_minutes", 15)
	v.SetDefault("session.max_idle_minutes", 60)
	v.SetDefault("session.min_duration_seconds", 30)

	// Read config file (optional - don't fail if missing)
	_ = v.ReadInConfig()

	// Read from environment variables (TIDEWATCH_TIDAL_CLIENT_ID etc.)
	v.SetEnvPrefix("TIDEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		DatabasePath: v.GetString("database_path"),
		Tidal: TidalConfig{
			ClientID:     v.GetString("tidal.client_id"),
			ClientSecret: v.GetString("tidal.client_secret"),
		},
		Sync: SyncConfig{
			Interval:    time.Duration(v.GetInt("sync.interval_seconds")) * time.Second,
			PageSize:    v.GetInt("sync.page_size"),
			DedupWindow: time.Duration(v.GetInt("sync.dedup_window_seconds")) * time.Second,
		},
		Import: ImportConfig{
			BatchSize:       v.GetInt("import.batch_size"),
			LookupBatchSize: v.GetInt("import.lookup_batch_size"),
			DedupWindow:     time.Duration(v.GetInt("import.dedup_window_seconds")) * time.Second,
			MinPlayMS:       v.GetInt64("import.min_play_ms"),
			CacheSize:       v.GetInt("import.cache_size"),
			Retention:       time.Duration(v.GetInt("import.retention_days")) * 24 * time.Hour,
		},
		Throttle: ThrottleConfig{
			RequestsPerSecond: v.GetFloat64("throttle.requests_per_second"),
			Burst:             v.GetInt("throttle.burst"),
			MaxInFlight:       v.GetInt64("throttle.max_in_flight"),
			RetryAttempts:     v.GetInt("throttle.retry_attempts"),
			RetryDelay:        time.Duration(v.GetInt("throttle.retry_delay_ms")) * time.Millisecond,
		},
		Session: SessionConfig{
			SweepInterval: time.Duration(v.GetInt("session.sweep_interval_minutes")) * time.Minute,
			MaxIdle:       time.Duration(v.GetInt("session.max_idle_minutes")) * time.Minute,
			MinDuration:   time.Duration(v.GetInt("session.min_duration_seconds")) * time.Second,
		},
	}

	return cfg, nil
}

// getConfigDir returns the configuration directory path
// Creates the directory if it doesn't exist
func getConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	configDir := filepath.Join(homeDir, ".config", "tidewatch")
	_ = os.MkdirAll(configDir, 0755)

	return configDir
}

// getDataDir returns the data directory path
func getDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	dataDir := filepath.Join(homeDir, ".local", "share", "tidewatch")
	_ = os.MkdirAll(dataDir, 0755)

	return dataDir
}

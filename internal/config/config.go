// Package config loads service configuration from the environment into an
// explicit struct. Nothing else in the repository reads environment
// variables for limits; everything receives its configuration from here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Environment variables.
const (
	EnvAddr          = "AUDIOSPLIT_ADDR"
	EnvDataDir       = "AUDIOSPLIT_DATA_DIR"
	EnvMaxUploadMB   = "AUDIOSPLIT_MAX_UPLOAD_MB"
	EnvLogLevel      = "AUDIOSPLIT_LOG_LEVEL"
	EnvFFmpegPath    = "AUDIOSPLIT_FFMPEG"
	EnvEncodeTimeout = "AUDIOSPLIT_ENCODE_TIMEOUT"
	EnvMaxParallel   = "AUDIOSPLIT_MAX_PARALLEL"
	EnvRateLimit     = "AUDIOSPLIT_RATE_LIMIT"
)

// Defaults.
const (
	defaultAddr          = ":5000"
	defaultDataDir       = "data"
	defaultMaxUploadMB   = 200
	defaultLogLevel      = "info"
	defaultEncodeTimeout = 5 * time.Minute
	defaultRateLimit     = 30 // mutating requests per minute per IP
)

// Config holds the service configuration.
type Config struct {
	Addr           string        // HTTP listen address.
	DataDir        string        // Root for uploads, splits, and the database.
	MaxUploadBytes int64         // Upload size cap.
	LogLevel       string        // zerolog level name.
	FFmpegPath     string        // Empty means resolve from PATH.
	EncodeTimeout  time.Duration // Per-segment encode budget.
	MaxParallel    int           // Concurrent encodes; 0 = CPU count.
	RateLimit      int           // Mutating requests per minute per IP.
}

// UploadDir is where raw uploads are stored, keyed by session.
func (c Config) UploadDir() string { return filepath.Join(c.DataDir, "uploads") }

// OutputDir is where split segments are written, keyed by session.
func (c Config) OutputDir() string { return filepath.Join(c.DataDir, "splits") }

// DBPath is the SQLite database location.
func (c Config) DBPath() string { return filepath.Join(c.DataDir, "audiosplit.db") }

// EnsureDirs creates the data directories if they do not exist.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.UploadDir(), c.OutputDir()} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() (Config, error) {
	cfg := Config{
		Addr:           envOr(EnvAddr, defaultAddr),
		DataDir:        envOr(EnvDataDir, defaultDataDir),
		MaxUploadBytes: defaultMaxUploadMB * 1024 * 1024,
		LogLevel:       envOr(EnvLogLevel, defaultLogLevel),
		FFmpegPath:     os.Getenv(EnvFFmpegPath),
		EncodeTimeout:  defaultEncodeTimeout,
		RateLimit:      defaultRateLimit,
	}

	if v := os.Getenv(EnvMaxUploadMB); v != "" {
		mb, err := strconv.Atoi(v)
		if err != nil || mb <= 0 {
			return Config{}, fmt.Errorf("%s: invalid size %q", EnvMaxUploadMB, v)
		}
		cfg.MaxUploadBytes = int64(mb) * 1024 * 1024
	}

	if v := os.Getenv(EnvEncodeTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%s: invalid duration %q", EnvEncodeTimeout, v)
		}
		cfg.EncodeTimeout = d
	}

	if v := os.Getenv(EnvMaxParallel); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("%s: invalid count %q", EnvMaxParallel, v)
		}
		cfg.MaxParallel = n
	}

	if v := os.Getenv(EnvRateLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%s: invalid rate %q", EnvRateLimit, v)
		}
		cfg.RateLimit = n
	}

	return cfg, nil
}

// envOr returns the environment value or a default when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

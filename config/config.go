// Package config defines the log unit's typed configuration, loaded
// through github.com/spf13/viper the way sharedlog/scalog.go binds its
// own options — replacing original_source's dynamic `opts map[string]Object`
// with a struct viper can bind flags, a config file, and
// LOGUNIT_-prefixed environment variables into.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is everything the log unit needs to start.
type Config struct {
	// Memory runs the unit with a non-durable MemoryLog instead of a
	// directory-backed FileLog, for tests and quickcheck-style runs.
	Memory bool

	// LogPath is the directory FileLog segments are written under: the
	// global log in its "log" subdirectory, and each stream in
	// "log/<stream-id>". Ignored when Memory is set.
	LogPath string

	// SegmentSize is the number of addresses per segment file.
	SegmentSize uint64

	// NoVerify disables checksum verification on read and recovery.
	// Mirrors the original's --no-verify flag.
	NoVerify bool

	// MaxCacheBytes bounds the write-through cache's resident payload
	// weight.
	MaxCacheBytes int64

	// GCInterval is the garbage collector's default sweep interval.
	GCInterval time.Duration

	// QuickcheckTestMode caps segment file size at
	// segmentlog.QuickcheckMaxFileSize instead of
	// segmentlog.DefaultMaxFileSize, matching the original's
	// --quickcheck-test-mode.
	QuickcheckTestMode bool
}

// defaults mirrors the original LogUnitServer's constructor defaults.
func defaults() Config {
	return Config{
		Memory:        false,
		LogPath:       "/tmp/logunit",
		SegmentSize:   10000,
		MaxCacheBytes: 256 << 20,
		GCInterval:    60 * time.Second,
	}
}

// New returns a viper.Viper pre-populated with this package's defaults
// and LOGUNIT_-prefixed environment variable bindings, ready for a
// caller to layer a config file or flags on top of before calling Load.
func New() *viper.Viper {
	v := viper.New()
	d := defaults()

	v.SetDefault("memory", d.Memory)
	v.SetDefault("log_path", d.LogPath)
	v.SetDefault("segment_size", d.SegmentSize)
	v.SetDefault("no_verify", d.NoVerify)
	v.SetDefault("max_cache_bytes", d.MaxCacheBytes)
	v.SetDefault("gc_interval", d.GCInterval)
	v.SetDefault("quickcheck_test_mode", d.QuickcheckTestMode)

	v.SetEnvPrefix("LOGUNIT")
	v.AutomaticEnv()

	return v
}

// Load validates and returns the Config bound into v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Memory:             v.GetBool("memory"),
		LogPath:            v.GetString("log_path"),
		SegmentSize:        v.GetUint64("segment_size"),
		NoVerify:           v.GetBool("no_verify"),
		MaxCacheBytes:      v.GetInt64("max_cache_bytes"),
		GCInterval:         v.GetDuration("gc_interval"),
		QuickcheckTestMode: v.GetBool("quickcheck_test_mode"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Memory && c.LogPath == "" {
		return fmt.Errorf("config: log_path must be set unless memory mode is enabled")
	}
	if c.SegmentSize == 0 {
		return fmt.Errorf("config: segment_size must be positive")
	}
	if c.MaxCacheBytes <= 0 {
		return fmt.Errorf("config: max_cache_bytes must be positive")
	}
	if c.GCInterval <= 0 {
		return fmt.Errorf("config: gc_interval must be positive")
	}
	return nil
}

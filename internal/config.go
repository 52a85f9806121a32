package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("blockcache: invalid config")

const (
	DeviceMem  = "mem"
	DeviceFile = "file"
)

type BlockCacheConfig struct {
	AppName string `mapstructure:"app_name"`

	Cache struct {
		BlockSize int  `mapstructure:"block_size"`
		Capacity  int  `mapstructure:"capacity"`
		Enabled   bool `mapstructure:"enabled"`
	} `mapstructure:"cache"`

	Device struct {
		Kind   string `mapstructure:"kind"`
		Dir    string `mapstructure:"dir"`
		Base   string `mapstructure:"base"`
		Blocks int64  `mapstructure:"blocks"`

		// Fault injection between the cache and the device, 0.0 to 1.0.
		ReadFailRate  float64 `mapstructure:"read_fail_rate"`
		WriteFailRate float64 `mapstructure:"write_fail_rate"`
		FaultSeed     uint64  `mapstructure:"fault_seed"`
	} `mapstructure:"device"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "blockcache")
	v.SetDefault("cache.block_size", 512)
	v.SetDefault("cache.capacity", 10)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("device.kind", DeviceMem)
	v.SetDefault("device.dir", "./data")
	v.SetDefault("device.base", "disk")
	v.SetDefault("device.blocks", 0) // unbounded
	v.SetDefault("device.read_fail_rate", 0.0)
	v.SetDefault("device.write_fail_rate", 0.0)
	v.SetDefault("device.fault_seed", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads a YAML file on top of the defaults. An empty path uses the
// defaults alone. BLOCKCACHE_* environment variables win over both, e.g.
// BLOCKCACHE_CACHE_CAPACITY=64.
func LoadConfig(path string) (*BlockCacheConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("blockcache")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg BlockCacheConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *BlockCacheConfig) Validate() error {
	if c.Cache.BlockSize < 1 {
		return fmt.Errorf("%w: cache.block_size must be > 0", ErrInvalidConfig)
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("%w: cache.capacity must be > 0", ErrInvalidConfig)
	}
	switch c.Device.Kind {
	case DeviceMem:
		if c.Device.Blocks < 0 {
			return fmt.Errorf("%w: device.blocks must be >= 0", ErrInvalidConfig)
		}
	case DeviceFile:
		if c.Device.Dir == "" || c.Device.Base == "" {
			return fmt.Errorf("%w: file device needs device.dir and device.base", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown device.kind %q", ErrInvalidConfig, c.Device.Kind)
	}
	if !validRate(c.Device.ReadFailRate) || !validRate(c.Device.WriteFailRate) {
		return fmt.Errorf("%w: device fail rates must be within [0, 1]", ErrInvalidConfig)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func validRate(r float64) bool { return r >= 0 && r <= 1 }

// FaultsEnabled reports whether OpenStack puts a fault injector under the cache.
func (c *BlockCacheConfig) FaultsEnabled() bool {
	return c.Device.ReadFailRate > 0 || c.Device.WriteFailRate > 0
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	return lvl, nil
}

// NewLogger builds the slog logger described by the log section.
func (c *BlockCacheConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := parseLevel(c.Log.Level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

package internal

import (
	"fmt"
	"log/slog"

	"github.com/tuannm99/blockcache/internal/bcache"
	"github.com/tuannm99/blockcache/internal/device"
)

// Stack is a raw device with an optional cache in front of it.
type Stack struct {
	Device bcache.Device
	Cache  *bcache.Cache  // nil when the cache is disabled
	Mem    *device.Mem    // set for the in-memory device, for its I/O counters
	Faulty *device.Faulty // set when fail rates are configured
}

// OpenStack builds the device and cache described by cfg.
func OpenStack(cfg *BlockCacheConfig, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := &Stack{}

	switch cfg.Device.Kind {
	case DeviceMem:
		st.Mem = device.NewMem(cfg.Cache.BlockSize, cfg.Device.Blocks)
		st.Device = st.Mem
	case DeviceFile:
		f, err := device.NewOSFile(cfg.Device.Dir, cfg.Device.Base, cfg.Cache.BlockSize)
		if err != nil {
			return nil, fmt.Errorf("open file device: %w", err)
		}
		st.Device = f
	default:
		return nil, fmt.Errorf("%w: unknown device.kind %q", ErrInvalidConfig, cfg.Device.Kind)
	}

	if cfg.FaultsEnabled() {
		st.Faulty = device.NewFaulty(st.Device, cfg.Device.FaultSeed, device.FaultConfig{
			ReadFailRate:  cfg.Device.ReadFailRate,
			WriteFailRate: cfg.Device.WriteFailRate,
		})
		st.Device = st.Faulty
		logger.Warn("fault injection enabled",
			"read_fail_rate", cfg.Device.ReadFailRate,
			"write_fail_rate", cfg.Device.WriteFailRate,
			"seed", cfg.Device.FaultSeed,
		)
	}

	if !cfg.Cache.Enabled {
		return st, nil
	}

	c, err := bcache.New(st.Device, cfg.Cache.BlockSize, cfg.Cache.Capacity, bcache.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	st.Cache = c
	return st, nil
}

// Target is what clients should issue block I/O against.
func (s *Stack) Target() bcache.Device {
	if s.Cache != nil {
		return s.Cache.AsDevice()
	}
	return s.Device
}

// Close writes back everything the cache still holds.
func (s *Stack) Close() error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.Sync()
}

package device_test

import (
	"github.com/tuannm99/blockcache/internal/bcache"
	"github.com/tuannm99/blockcache/internal/device"
)

var (
	_ bcache.Device = (*device.Mem)(nil)
	_ bcache.Device = (*device.File)(nil)
	_ bcache.Device = (*device.Faulty)(nil)
)

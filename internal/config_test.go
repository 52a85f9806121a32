package internal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/blockcache/internal/bcache"
	"github.com/tuannm99/blockcache/internal/device"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "blockcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "blockcache", cfg.AppName)
	require.Equal(t, 512, cfg.Cache.BlockSize)
	require.Equal(t, 10, cfg.Cache.Capacity)
	require.True(t, cfg.Cache.Enabled)
	require.Equal(t, DeviceMem, cfg.Device.Kind)
	require.Equal(t, int64(0), cfg.Device.Blocks)
	require.Equal(t, "info", cfg.Log.Level)
	require.False(t, cfg.FaultsEnabled())
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
cache:
  block_size: 4096
  capacity: 64
  enabled: false
device:
  kind: file
  dir: /tmp/bc
  base: vol
log:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 4096, cfg.Cache.BlockSize)
	require.Equal(t, 64, cfg.Cache.Capacity)
	require.False(t, cfg.Cache.Enabled)
	require.Equal(t, DeviceFile, cfg.Device.Kind)
	require.Equal(t, "/tmp/bc", cfg.Device.Dir)
	require.Equal(t, "vol", cfg.Device.Base)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("BLOCKCACHE_CACHE_CAPACITY", "33")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 33, cfg.Cache.Capacity)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"zero capacity":  "cache:\n  capacity: 0\n",
		"negative block": "cache:\n  block_size: -1\n",
		"unknown device": "device:\n  kind: tape\n",
		"bad level":      "log:\n  level: loud\n",
		"read rate > 1":  "device:\n  read_fail_rate: 1.5\n",
		"negative write": "device:\n  write_fail_rate: -0.1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_FaultRatesFromEnv(t *testing.T) {
	t.Setenv("BLOCKCACHE_DEVICE_WRITE_FAIL_RATE", "0.25")
	t.Setenv("BLOCKCACHE_DEVICE_FAULT_SEED", "7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 0.25, cfg.Device.WriteFailRate)
	require.Equal(t, uint64(7), cfg.Device.FaultSeed)
	require.True(t, cfg.FaultsEnabled())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Log.Format = "json"
	cfg.Log.Level = "debug"

	var out bytes.Buffer
	cfg.NewLogger(&out).Debug("hello", "k", 1)
	require.Contains(t, out.String(), `"msg":"hello"`)
}

func TestOpenStack_MemWithCache(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	st, err := OpenStack(cfg, cfg.NewLogger(&bytes.Buffer{}))
	require.NoError(t, err)
	require.NotNil(t, st.Cache)
	require.NotNil(t, st.Mem)
	require.Equal(t, 10, st.Cache.TableSize())

	buf := bytes.Repeat([]byte{1}, cfg.Cache.BlockSize)
	require.NoError(t, st.Target().WriteBlock(4, buf))
	require.Equal(t, int64(0), st.Mem.Writes())

	require.NoError(t, st.Close())
	require.Equal(t, int64(1), st.Mem.Writes())
	require.Equal(t, buf, st.Mem.Peek(4))
}

func TestOpenStack_FileWithoutCache(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Cache.Enabled = false
	cfg.Device.Kind = DeviceFile
	cfg.Device.Dir = t.TempDir()

	st, err := OpenStack(cfg, nil)
	require.NoError(t, err)
	require.Nil(t, st.Cache)
	require.Nil(t, st.Mem)

	buf := bytes.Repeat([]byte{2}, cfg.Cache.BlockSize)
	require.NoError(t, st.Target().WriteBlock(1, buf))

	got := make([]byte, cfg.Cache.BlockSize)
	require.NoError(t, st.Device.ReadBlock(1, got))
	require.Equal(t, buf, got)
	require.NoError(t, st.Close())
}

func TestOpenStack_FaultsUnderCache(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Device.WriteFailRate = 1

	var logs bytes.Buffer
	st, err := OpenStack(cfg, cfg.NewLogger(&logs))
	require.NoError(t, err)
	require.NotNil(t, st.Faulty)
	require.Contains(t, logs.String(), "fault injection enabled")

	buf := bytes.Repeat([]byte{3}, cfg.Cache.BlockSize)
	require.NoError(t, st.Target().WriteBlock(2, buf))

	// The write-back on Close is the first call to reach the device.
	err = st.Close()
	require.ErrorIs(t, err, bcache.ErrRawWrite)
	require.ErrorIs(t, err, device.ErrInjected)
	require.Equal(t, int64(1), st.Faulty.WriteFails())
	require.Equal(t, int64(0), st.Mem.Writes())
}

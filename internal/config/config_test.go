package config_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bavix/btscan/internal/config"
	customerrors "github.com/bavix/btscan/internal/errors"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	assert.Equal(t, "btscan", cfg.AppName)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, config.LogFormatJSON, cfg.Log.Format)
	assert.Empty(t, cfg.HTTP.AuthSecret)
	assert.Empty(t, cfg.HTTP.CORSOrigins)
	assert.Equal(t, config.BackendBlueZ, cfg.Bluetooth.Backend)
	assert.Equal(t, config.PermissionProbe, cfg.Bluetooth.Permission)
	assert.Equal(t, 12*time.Second, cfg.Bluetooth.DiscoveryDuration)
	assert.Equal(t, "/var/lib/bluetooth", cfg.Bluetooth.BondStore)
	assert.False(t, cfg.Bluetooth.WatchBondStore)
	assert.Equal(t, 512, cfg.Bluetooth.CacheSize)
	assert.Equal(t, 10*time.Minute, cfg.Bluetooth.CacheTTL)
	assert.Equal(t, 256, cfg.Router.QueueSize)
	assert.Equal(t, "127.0.0.1:47824", cfg.HTTP.Listen)
	assert.Equal(t, 6, cfg.HTTP.ScanRatePerMinute)
	assert.Equal(t, "btscan", cfg.MQTT.TopicPrefix)
	assert.False(t, cfg.MQTT.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(`
app_name: lab
log:
  level: debug
  format: console
bluetooth:
  backend: Simulated
  adapter: hci1
  discovery_duration: 3s
  permission: granted
  watch_bond_store: true
router:
  queue_size: 16
http:
  listen: ":8080"
  scan_rate_per_minute: 2
  cors_origins:
    - https://lab.example
mqtt:
  enabled: true
  broker: tcp://localhost:1883
  topic_prefix: /home/bt/
  qos: 1
simulated:
  powered_off: true
  found_interval: 5ms
  devices:
    - address: " 00:1a:7d:da:71:13 "
      name: Headset
      class: 2360324
    - address: 00:1A:7D:DA:71:14
      bonded: true
`), "/tmp/lab.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/lab.yaml", cfg.Path)
	assert.Equal(t, "lab", cfg.AppName)
	assert.Equal(t, []string{"https://lab.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, config.BackendSimulated, cfg.Bluetooth.Backend)
	assert.Equal(t, "hci1", cfg.Bluetooth.Adapter)
	assert.Equal(t, 3*time.Second, cfg.Bluetooth.DiscoveryDuration)
	assert.Equal(t, config.PermissionGranted, cfg.Bluetooth.Permission)
	assert.True(t, cfg.Bluetooth.WatchBondStore)
	assert.Equal(t, 16, cfg.Router.QueueSize)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, 2, cfg.HTTP.ScanRatePerMinute)
	assert.Equal(t, "home/bt", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 1, cfg.MQTT.QoS)

	assert.True(t, cfg.Simulated.PoweredOff)
	assert.Equal(t, 5*time.Millisecond, cfg.Simulated.FoundInterval)
	require.Len(t, cfg.Simulated.Devices, 2)
	assert.Equal(t, "00:1A:7D:DA:71:13", cfg.Simulated.Devices[0].Address)
	assert.Equal(t, uint32(0x240404), cfg.Simulated.Devices[0].Class)
	assert.True(t, cfg.Simulated.Devices[1].Bonded)
}

func TestValidate(t *testing.T) { //nolint:funlen
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
		is     error
	}{
		{
			name:   "unknown backend",
			mutate: func(c *config.Config) { c.Bluetooth.Backend = "bluedroid" },
			errMsg: "bluetooth.backend",
		},
		{
			name:   "unknown permission",
			mutate: func(c *config.Config) { c.Bluetooth.Permission = "ask" },
			errMsg: "bluetooth.permission",
		},
		{
			name:   "negative discovery",
			mutate: func(c *config.Config) { c.Bluetooth.DiscoveryDuration = -time.Second },
			errMsg: "discovery_duration",
		},
		{
			name:   "negative cache",
			mutate: func(c *config.Config) { c.Bluetooth.CacheSize = -1 },
			errMsg: "cache limits",
		},
		{
			name:   "queue size",
			mutate: func(c *config.Config) { c.Router.QueueSize = -1 },
			errMsg: "queue_size",
		},
		{
			name:   "listen without port",
			mutate: func(c *config.Config) { c.HTTP.Listen = "localhost" },
			errMsg: "http.listen",
		},
		{
			name:   "negative scan rate",
			mutate: func(c *config.Config) { c.HTTP.ScanRatePerMinute = -1 },
			errMsg: "scan_rate_per_minute",
		},
		{
			name:   "unknown log format",
			mutate: func(c *config.Config) { c.Log.Format = "logfmt" },
			errMsg: "log.format",
		},
		{
			name:   "auth secret not base64",
			mutate: func(c *config.Config) { c.HTTP.AuthSecret = "not base64!" },
			errMsg: "http.auth_secret must be base64",
		},
		{
			name:   "auth secret too short",
			mutate: func(c *config.Config) { c.HTTP.AuthSecret = "c2hvcnQ=" },
			errMsg: "http.auth_secret is too short",
		},
		{
			name:   "mqtt without broker",
			mutate: func(c *config.Config) { c.MQTT.Enabled = true },
			errMsg: "mqtt.broker",
		},
		{
			name:   "mqtt qos",
			mutate: func(c *config.Config) { c.MQTT.QoS = 3 },
			errMsg: "mqtt.qos",
		},
		{
			name: "invalid simulated address",
			mutate: func(c *config.Config) {
				c.Simulated.Devices = []config.SimulatedDevice{{Address: "00:1A:7D"}}
			},
			is: customerrors.ErrMACAddressInvalid,
		},
		{
			name: "duplicate simulated address",
			mutate: func(c *config.Config) {
				c.Simulated.Devices = []config.SimulatedDevice{
					{Address: "00:1A:7D:DA:71:13"},
					{Address: "00:1A:7D:DA:71:13"},
				}
			},
			errMsg: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}

			if tt.is != nil {
				require.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")

	cfg, err := config.LoadOrDefault(missing, false)
	require.NoError(t, err)
	assert.Equal(t, config.BackendBlueZ, cfg.Bluetooth.Backend)

	_, err = config.LoadOrDefault(missing, true)
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bluetooth:\n  backend: simulated\n"), 0o600))

	cfg, err = config.LoadOrDefault(path, true)
	require.NoError(t, err)
	assert.Equal(t, config.BackendSimulated, cfg.Bluetooth.Backend)
	assert.Equal(t, path, cfg.Path)

	require.NoError(t, os.WriteFile(path, []byte("bluetooth:\n  backend: [\n"), 0o600))

	_, err = config.LoadOrDefault(path, false)
	require.Error(t, err, "a broken file is never replaced by defaults")
}

func TestHTTPConfig_SecretKey(t *testing.T) {
	t.Parallel()

	key, err := config.HTTPConfig{}.SecretKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	secret := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

	key, err = config.HTTPConfig{AuthSecret: secret}.SecretKey()
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), key)
}

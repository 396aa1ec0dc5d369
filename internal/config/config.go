package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	yaml "github.com/goccy/go-yaml"

	"github.com/bavix/btscan/internal/devices"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "/etc/btscan/config.yaml"

// Backends.
const (
	BackendBlueZ     = "bluez"
	BackendSimulated = "simulated"
)

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Permission modes.
const (
	PermissionProbe   = "probe"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

var (
	errUnknownLogFormat             = errors.New("log.format must be json or console")
	errUnknownBackend               = errors.New("bluetooth.backend must be bluez or simulated")
	errUnknownPermissionMode        = errors.New("bluetooth.permission must be probe, granted or denied")
	errDiscoveryDurationNegative    = errors.New("bluetooth.discovery_duration must be non-negative")
	errCacheLimitsMustBeNonNegative = errors.New("bluetooth cache limits must be non-negative")
	errQueueSizeMustBePositive      = errors.New("router.queue_size must be positive")
	errAddressMustBeHostPort        = errors.New("address must be host:port or :port")
	errSimulatedDeviceAddress       = errors.New("simulated device has invalid address")
	errDuplicateSimulatedDevice     = errors.New("duplicate simulated device address")
	errMQTTBrokerRequired           = errors.New("mqtt.broker is required when mqtt is enabled")
	errMQTTQoSOutOfRange            = errors.New("mqtt.qos must be 0, 1 or 2")
	errScanRateMustBeNonNegative    = errors.New("http.scan_rate_per_minute must be non-negative")
	errAuthSecretInvalid            = errors.New("http.auth_secret must be base64")
	errAuthSecretTooShort           = errors.New("http.auth_secret is too short")
)

const (
	defaultDiscoveryDuration = 12 * time.Second
	defaultBondStore         = "/var/lib/bluetooth"
	defaultCacheSize         = 512
	defaultCacheTTL          = 10 * time.Minute
	defaultQueueSize         = 256
	defaultHTTPReadTimeout   = 30 * time.Second
	defaultHTTPWriteTimeout  = 30 * time.Second
	defaultHTTPIdleTimeout   = 120 * time.Second
	defaultMaxHeaderBytes    = 1024 * 1024 // 1MB
	defaultScanRatePerMinute = 6
	minAuthSecretLength      = 32
	defaultMQTTTopicPrefix   = "btscan"
	defaultMQTTClientID      = "btscan"
	defaultMQTTConnectTimout = 10 * time.Second
)

// LogConfig defines logging configuration.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// BluetoothConfig selects and tunes the Bluetooth backend.
type BluetoothConfig struct {
	Backend string `json:"backend" yaml:"backend,omitempty"`
	// Adapter is the BlueZ adapter name (hci0). Empty picks the first adapter found.
	Adapter           string        `json:"adapter,omitempty"            yaml:"adapter,omitempty"`
	DiscoveryDuration time.Duration `json:"discovery_duration"           yaml:"discovery_duration,omitempty"`
	// BondStore is the directory where BlueZ keeps bonding keys; watched for bond changes.
	BondStore      string        `json:"bond_store,omitempty"       yaml:"bond_store,omitempty"`
	WatchBondStore bool          `json:"watch_bond_store"           yaml:"watch_bond_store,omitempty"`
	Permission     string        `json:"permission"                 yaml:"permission,omitempty"`
	CacheSize      int           `json:"cache_size"                 yaml:"cache_size,omitempty"`
	CacheTTL       time.Duration `json:"cache_ttl"                  yaml:"cache_ttl,omitempty"`
}

// SimulatedDevice is a scripted remote device for the simulated backend.
type SimulatedDevice struct {
	Address string `json:"address"         yaml:"address"`
	Name    string `json:"name,omitempty"  yaml:"name,omitempty"`
	Class   uint32 `json:"class,omitempty" yaml:"class,omitempty"`
	Bonded  bool   `json:"bonded"          yaml:"bonded,omitempty"`
}

// SimulatedConfig scripts the simulated backend.
type SimulatedConfig struct {
	// Absent reports no adapter at all.
	Absent bool `yaml:"absent,omitempty"`
	// PoweredOff starts the adapter disabled.
	PoweredOff bool `yaml:"powered_off,omitempty"`
	// DeclineEnable makes every enable request fail.
	DeclineEnable bool `yaml:"decline_enable,omitempty"`
	// FailBonds makes create/remove bond calls fail.
	FailBonds bool `yaml:"fail_bonds,omitempty"`
	// FoundInterval spaces DeviceFound events during a scan.
	FoundInterval time.Duration     `yaml:"found_interval,omitempty"`
	Devices       []SimulatedDevice `yaml:"devices,omitempty"`
}

// RouterConfig tunes the event router.
type RouterConfig struct {
	QueueSize int `yaml:"queue_size,omitempty"`
}

// HTTPConfig defines HTTP admin server settings.
type HTTPConfig struct {
	Disabled          bool          `yaml:"disabled,omitempty"`
	Listen            string        `yaml:"listen,omitempty"`
	ReadTimeout       time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout      time.Duration `yaml:"write_timeout,omitempty"`
	IdleTimeout       time.Duration `yaml:"idle_timeout,omitempty"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes,omitempty"`
	ScanRatePerMinute int           `yaml:"scan_rate_per_minute,omitempty"`
	// AuthSecret is the base64 HMAC key admin tokens are signed with. State
	// changing endpoints are refused while it is empty.
	AuthSecret string `yaml:"auth_secret,omitempty"`
	// CORSOrigins lists browser origins allowed to call the API. Empty allows none.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// SecretKey decodes AuthSecret. An empty secret yields a nil key.
func (h HTTPConfig) SecretKey() ([]byte, error) {
	if h.AuthSecret == "" {
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(h.AuthSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errAuthSecretInvalid, err)
	}

	if len(key) < minAuthSecretLength {
		return nil, fmt.Errorf("%w: %d bytes, need %d", errAuthSecretTooShort, len(key), minAuthSecretLength)
	}

	return key, nil
}

// MQTTConfig defines the optional MQTT presenter.
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled,omitempty"`
	Broker         string        `yaml:"broker,omitempty"`
	ClientID       string        `yaml:"client_id,omitempty"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	TopicPrefix    string        `yaml:"topic_prefix,omitempty"`
	QoS            int           `yaml:"qos,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
}

// Config is the main application configuration.
type Config struct {
	AppName   string          `yaml:"app_name,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty"`
	Bluetooth BluetoothConfig `yaml:"bluetooth,omitempty"`
	Simulated SimulatedConfig `yaml:"simulated,omitempty"`
	Router    RouterConfig    `yaml:"router,omitempty"`
	HTTP      HTTPConfig      `yaml:"http,omitempty"`
	MQTT      MQTTConfig      `yaml:"mqtt,omitempty"`
	Path      string          `yaml:"-"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path) //nolint:gosec // config file path is operator supplied
	if err != nil {
		return nil, err
	}

	return Parse(b, path)
}

// LoadOrDefault loads path when it exists. A missing file is only tolerated
// when required is false, in which case defaults are returned.
func LoadOrDefault(path string, required bool) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}

	if !required && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return nil, fmt.Errorf("failed to load config %s: %w", path, err)
}

// Parse decodes YAML bytes into a validated configuration.
func Parse(b []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() { //nolint:cyclop
	if c.AppName == "" {
		c.AppName = "btscan"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = LogFormatJSON
	}

	c.Bluetooth.Backend = strings.ToLower(strings.TrimSpace(c.Bluetooth.Backend))
	if c.Bluetooth.Backend == "" {
		c.Bluetooth.Backend = BackendBlueZ
	}

	if c.Bluetooth.DiscoveryDuration == 0 {
		c.Bluetooth.DiscoveryDuration = defaultDiscoveryDuration
	}

	if c.Bluetooth.BondStore == "" {
		c.Bluetooth.BondStore = defaultBondStore
	}

	c.Bluetooth.Permission = strings.ToLower(strings.TrimSpace(c.Bluetooth.Permission))
	if c.Bluetooth.Permission == "" {
		c.Bluetooth.Permission = PermissionProbe
	}

	if c.Bluetooth.CacheSize == 0 {
		c.Bluetooth.CacheSize = defaultCacheSize
	}

	if c.Bluetooth.CacheTTL == 0 {
		c.Bluetooth.CacheTTL = defaultCacheTTL
	}

	for i := range c.Simulated.Devices {
		c.Simulated.Devices[i].Address = devices.NormalizeAddress(c.Simulated.Devices[i].Address)
	}

	if c.Router.QueueSize == 0 {
		c.Router.QueueSize = defaultQueueSize
	}

	if c.HTTP.Listen == "" {
		c.HTTP.Listen = "127.0.0.1:47824"
	}

	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = defaultHTTPReadTimeout
	}

	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = defaultHTTPWriteTimeout
	}

	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = defaultHTTPIdleTimeout
	}

	if c.HTTP.MaxHeaderBytes == 0 {
		c.HTTP.MaxHeaderBytes = defaultMaxHeaderBytes
	}

	if c.HTTP.ScanRatePerMinute == 0 {
		c.HTTP.ScanRatePerMinute = defaultScanRatePerMinute
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultMQTTClientID
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = defaultMQTTTopicPrefix
	}

	c.MQTT.TopicPrefix = strings.Trim(c.MQTT.TopicPrefix, "/")

	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = defaultMQTTConnectTimout
	}
}

// Validate checks a defaulted configuration.
func (c *Config) Validate() error { //nolint:cyclop,funlen
	switch c.Log.Format {
	case LogFormatJSON, LogFormatConsole:
	default:
		return fmt.Errorf("%w: %q", errUnknownLogFormat, c.Log.Format)
	}

	switch c.Bluetooth.Backend {
	case BackendBlueZ, BackendSimulated:
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, c.Bluetooth.Backend)
	}

	switch c.Bluetooth.Permission {
	case PermissionProbe, PermissionGranted, PermissionDenied:
	default:
		return fmt.Errorf("%w: %q", errUnknownPermissionMode, c.Bluetooth.Permission)
	}

	if c.Bluetooth.DiscoveryDuration < 0 {
		return errDiscoveryDurationNegative
	}

	if c.Bluetooth.CacheSize < 0 || c.Bluetooth.CacheTTL < 0 {
		return errCacheLimitsMustBeNonNegative
	}

	seen := make(map[string]struct{}, len(c.Simulated.Devices))

	for _, d := range c.Simulated.Devices {
		if err := devices.ValidateAddress(d.Address); err != nil {
			return fmt.Errorf("%w: %w", errSimulatedDeviceAddress, err)
		}

		if _, dup := seen[d.Address]; dup {
			return fmt.Errorf("%w: %s", errDuplicateSimulatedDevice, d.Address)
		}

		seen[d.Address] = struct{}{}
	}

	if c.Router.QueueSize <= 0 {
		return errQueueSizeMustBePositive
	}

	if err := validateAddr(c.HTTP.Listen); err != nil {
		return fmt.Errorf("invalid http.listen: %w", err)
	}

	if c.HTTP.ScanRatePerMinute < 0 {
		return errScanRateMustBeNonNegative
	}

	if _, err := c.HTTP.SecretKey(); err != nil {
		return err
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errMQTTBrokerRequired
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: %d", errMQTTQoSOutOfRange, c.MQTT.QoS)
	}

	return nil
}

func validateAddr(addr string) error {
	if !strings.Contains(addr, ":") {
		return errAddressMustBeHostPort
	}

	_, _, err := net.SplitHostPort(addr)

	return err
}

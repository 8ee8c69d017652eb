package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when EXHIBIT_CONFIG is unset.
const DefaultPath = "configs/exhibit.yaml"

// Transport names for the controller link.
const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"
)

// Custom device storage backends.
const (
	StorageSQLite = "sqlite"
	StorageBolt   = "bolt"
)

// Config is the root configuration of exhibit-core.
// Values come from defaults, then the YAML file, then EXHIBIT_* variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Controller ControllerConfig `yaml:"controller"`
	Devices    []DeviceConfig   `yaml:"devices"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig names the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ControllerConfig describes the link to the controller box.
type ControllerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Transport    string `yaml:"transport"`
	SerialDevice string `yaml:"serial_device"`
	BaudRate     int    `yaml:"baud_rate"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatPayload  string        `yaml:"heartbeat_payload"`

	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// MaxReconnectAttempts bounds consecutive reconnects. Negative is unlimited.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// StatusRefreshInterval is the periodic status query. Zero disables it.
	StatusRefreshInterval time.Duration `yaml:"status_refresh_interval"`

	AutoConnect bool `yaml:"auto_connect"`
}

// Address renders the controller endpoint in URL form.
func (c ControllerConfig) Address() string {
	if c.Transport == TransportSerial {
		return fmt.Sprintf("serial://%s?baud=%d", c.SerialDevice, c.BaudRate)
	}
	return (&url.URL{Scheme: TransportTCP, Host: net.JoinHostPort(c.Host, strconv.Itoa(c.Port))}).String()
}

// DeviceConfig is one catalogue entry override.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// StorageConfig selects where user-defined devices live and how long the
// state history is kept.
type StorageConfig struct {
	CustomDevices string `yaml:"custom_devices"`
	BoltPath      string `yaml:"bolt_path"`

	// HistoryRetention drops state_history rows older than this. Zero keeps
	// everything.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket hub settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PathFromEnv returns EXHIBIT_CONFIG or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("EXHIBIT_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. EXHIBIT_* environment variables
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validated
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "exhibit-001",
			Name: "Exhibition Hall",
		},
		Controller: ControllerConfig{
			Host:                  "192.168.200.31",
			Port:                  6001,
			Transport:             TransportTCP,
			BaudRate:              9600,
			ConnectTimeout:        10 * time.Second,
			WriteTimeout:          5 * time.Second,
			HeartbeatInterval:     30 * time.Second,
			HeartbeatPayload:      "PING",
			ReconnectDelay:        5 * time.Second,
			MaxReconnectAttempts:  5,
			StatusRefreshInterval: 5 * time.Second,
			AutoConnect:           true,
		},
		Database: DatabaseConfig{
			Path:        "./data/exhibit.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Storage: StorageConfig{
			CustomDevices:    StorageSQLite,
			BoltPath:         "./data/custom_devices.bolt",
			HistoryRetention: 30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "exhibit-core",
			},
			QoS:         1,
			TopicPrefix: "exhibit",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "exhibit",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies EXHIBIT_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"EXHIBIT_CONTROLLER_HOST":      &cfg.Controller.Host,
		"EXHIBIT_CONTROLLER_TRANSPORT": &cfg.Controller.Transport,
		"EXHIBIT_CONTROLLER_SERIAL":    &cfg.Controller.SerialDevice,
		"EXHIBIT_DATABASE_PATH":        &cfg.Database.Path,
		"EXHIBIT_MQTT_HOST":            &cfg.MQTT.Broker.Host,
		"EXHIBIT_MQTT_USERNAME":        &cfg.MQTT.Auth.Username,
		"EXHIBIT_MQTT_PASSWORD":        &cfg.MQTT.Auth.Password,
		"EXHIBIT_API_HOST":             &cfg.API.Host,
		"EXHIBIT_INFLUXDB_URL":         &cfg.InfluxDB.URL,
		"EXHIBIT_INFLUXDB_TOKEN":       &cfg.InfluxDB.Token,
		"EXHIBIT_LOG_LEVEL":            &cfg.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"EXHIBIT_CONTROLLER_PORT": &cfg.Controller.Port,
		"EXHIBIT_API_PORT":        &cfg.API.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v := os.Getenv("EXHIBIT_CONTROLLER_AUTO_CONNECT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("EXHIBIT_CONTROLLER_AUTO_CONNECT: %w", err)
		}
		cfg.Controller.AutoConnect = b
	}
	return nil
}

// Validate reports every problem at once, joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Site.ID == "" {
		bad("site.id is required")
	}

	switch c.Controller.Transport {
	case TransportTCP:
		if c.Controller.Host == "" {
			bad("controller.host is required")
		}
		if c.Controller.Port < 1 || c.Controller.Port > 65535 {
			bad("controller.port must be between 1 and 65535")
		}
	case TransportSerial:
		if c.Controller.SerialDevice == "" {
			bad("controller.serial_device is required for serial transport")
		}
		if c.Controller.BaudRate <= 0 {
			bad("controller.baud_rate must be positive")
		}
	default:
		bad("controller.transport %q must be tcp or serial", c.Controller.Transport)
	}
	if c.Controller.StatusRefreshInterval < 0 {
		bad("controller.status_refresh_interval cannot be negative")
	}

	for i, d := range c.Devices {
		if d.ID == "" || d.Name == "" || d.Type == "" {
			bad("devices[%d] needs id, name and type", i)
		}
	}

	if c.Database.Path == "" {
		bad("database.path is required")
	}

	switch c.Storage.CustomDevices {
	case StorageSQLite:
	case StorageBolt:
		if c.Storage.BoltPath == "" {
			bad("storage.bolt_path is required for bolt storage")
		}
	default:
		bad("storage.custom_devices %q must be sqlite or bolt", c.Storage.CustomDevices)
	}
	if c.Storage.HistoryRetention < 0 {
		bad("storage.history_retention cannot be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		bad("mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		bad("mqtt.topic_prefix is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		bad("api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		bad("influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	return errors.Join(errs...)
}

// ReadTimeout is the server read and read-header timeout.
func (a APIConfig) ReadTimeout() time.Duration { return time.Duration(a.Timeouts.Read) * time.Second }

// WriteTimeout is the server write timeout.
func (a APIConfig) WriteTimeout() time.Duration { return time.Duration(a.Timeouts.Write) * time.Second }

// IdleTimeout is the keep-alive idle timeout.
func (a APIConfig) IdleTimeout() time.Duration { return time.Duration(a.Timeouts.Idle) * time.Second }

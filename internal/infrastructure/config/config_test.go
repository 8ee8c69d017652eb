package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exhibit.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "hall-a"
controller:
  host: "10.0.0.5"
  port: 7001
  heartbeat_interval: 15s
  reconnect_delay: 2s
  max_reconnect_attempts: -1
  auto_connect: false
devices:
  - id: light_010
    name: Foyer
    type: lighting
database:
  path: "/tmp/test.db"
storage:
  custom_devices: bolt
  bolt_path: /tmp/custom.bolt
mqtt:
  broker:
    host: "broker.local"
api:
  port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "hall-a" {
		t.Errorf("Site.ID = %q, want hall-a", cfg.Site.ID)
	}
	if got := cfg.Controller.Address(); got != "tcp://10.0.0.5:7001" {
		t.Errorf("Controller.Address() = %q", got)
	}
	if cfg.Controller.HeartbeatInterval != 15*time.Second || cfg.Controller.ReconnectDelay != 2*time.Second {
		t.Errorf("durations = %s / %s", cfg.Controller.HeartbeatInterval, cfg.Controller.ReconnectDelay)
	}
	if cfg.Controller.MaxReconnectAttempts != -1 || cfg.Controller.AutoConnect {
		t.Errorf("controller = %+v", cfg.Controller)
	}
	// Unset keys keep their defaults.
	if cfg.Controller.WriteTimeout != 5*time.Second || cfg.Controller.HeartbeatPayload != "PING" {
		t.Errorf("defaults lost: %+v", cfg.Controller)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].Type != "lighting" {
		t.Errorf("Devices = %+v", cfg.Devices)
	}
	if cfg.Storage.CustomDevices != StorageBolt {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/exhibit.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "invalid: [yaml: content")); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
controller:
  transport: carrier-pigeon
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"site.id", "controller.transport"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "controller port zero", mutate: func(c *Config) { c.Controller.Port = 0 }, wantErr: true},
		{name: "controller port high", mutate: func(c *Config) { c.Controller.Port = 70000 }, wantErr: true},
		{name: "serial without device", mutate: func(c *Config) { c.Controller.Transport = TransportSerial }, wantErr: true},
		{
			name: "serial with device",
			mutate: func(c *Config) {
				c.Controller.Transport = TransportSerial
				c.Controller.SerialDevice = "/dev/ttyUSB0"
			},
		},
		{name: "negative refresh", mutate: func(c *Config) { c.Controller.StatusRefreshInterval = -time.Second }, wantErr: true},
		{name: "incomplete device", mutate: func(c *Config) { c.Devices = []DeviceConfig{{ID: "light_001"}} }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.CustomDevices = "etcd" }, wantErr: true},
		{name: "bolt without path", mutate: func(c *Config) { c.Storage = StorageConfig{CustomDevices: StorageBolt} }, wantErr: true},
		{name: "negative retention", mutate: func(c *Config) { c.Storage.HistoryRetention = -time.Hour }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "api port zero", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestControllerAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ControllerConfig
		want string
	}{
		{"tcp", ControllerConfig{Transport: TransportTCP, Host: "192.168.200.31", Port: 6001}, "tcp://192.168.200.31:6001"},
		{"ipv6", ControllerConfig{Transport: TransportTCP, Host: "::1", Port: 6001}, "tcp://[::1]:6001"},
		{"serial", ControllerConfig{Transport: TransportSerial, SerialDevice: "/dev/ttyUSB0", BaudRate: 19200}, "serial:///dev/ttyUSB0?baud=19200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Address(); got != tt.want {
				t.Errorf("Address() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIConfigTimeouts(t *testing.T) {
	api := APIConfig{Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60}}

	if got := api.ReadTimeout(); got != 30*time.Second {
		t.Errorf("ReadTimeout() = %v", got)
	}
	if got := api.WriteTimeout(); got != 45*time.Second {
		t.Errorf("WriteTimeout() = %v", got)
	}
	if got := api.IdleTimeout(); got != time.Minute {
		t.Errorf("IdleTimeout() = %v", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("EXHIBIT_CONTROLLER_HOST", "10.1.1.1")
	t.Setenv("EXHIBIT_CONTROLLER_PORT", "7000")
	t.Setenv("EXHIBIT_CONTROLLER_AUTO_CONNECT", "false")
	t.Setenv("EXHIBIT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("EXHIBIT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("EXHIBIT_MQTT_PASSWORD", "testpass")
	t.Setenv("EXHIBIT_INFLUXDB_TOKEN", "secret-token")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.Controller.Host != "10.1.1.1" || cfg.Controller.Port != 7000 || cfg.Controller.AutoConnect {
		t.Errorf("Controller = %+v", cfg.Controller)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
}

func TestApplyEnvOverridesRejectsBadNumbers(t *testing.T) {
	t.Setenv("EXHIBIT_API_PORT", "eighty")
	if err := applyEnvOverrides(Default()); err == nil {
		t.Error("applyEnvOverrides() accepted a non-numeric port")
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("EXHIBIT_CONFIG", "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Errorf("PathFromEnv() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("EXHIBIT_CONFIG", "/etc/exhibit.yaml")
	if got := PathFromEnv(); got != "/etc/exhibit.yaml" {
		t.Errorf("PathFromEnv() = %q", got)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.Controller.Address() != "tcp://192.168.200.31:6001" {
		t.Errorf("default address = %q", cfg.Controller.Address())
	}
	if cfg.Controller.MaxReconnectAttempts != 5 || cfg.Controller.ReconnectDelay != 5*time.Second {
		t.Errorf("default reconnect = %d / %s", cfg.Controller.MaxReconnectAttempts, cfg.Controller.ReconnectDelay)
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything the AV bridge reads at start-up.
type Config struct {
	Site       SiteConfig        `yaml:"site"`
	Database   DatabaseConfig    `yaml:"database"`
	MQTT       MQTTConfig        `yaml:"mqtt"`
	API        APIConfig         `yaml:"api"`
	WebSocket  WebSocketConfig   `yaml:"websocket"`
	InfluxDB   InfluxDBConfig    `yaml:"influxdb"`
	Logging    LoggingConfig     `yaml:"logging"`
	Security   SecurityConfig    `yaml:"security"`
	Bridge     BridgeConfig      `yaml:"bridge"`
	SamsungMDC []MDCDisplay      `yaml:"samsung_mdc"`
	PhilipsTV  []PhilipsTVConfig `yaml:"philips_tv"`
	Discovery  DiscoveryConfig   `yaml:"discovery"`
}

// SiteConfig names the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig locates the SQLite file holding history and the audit trail.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how long state history is kept. 0 keeps forever.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// MQTTConfig is the broker link.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds paho's reconnect delay, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig is the REST and WebSocket listener.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig tunes the event socket; intervals are in seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig enables telemetry. FlushInterval is in seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig applies when Output is "file". MaxSize is in
// megabytes and MaxAge in days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig signs and checks API tokens (HS256).
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// BridgeConfig tunes polling, health reporting and command handling.
type BridgeConfig struct {
	ID              string        `yaml:"id"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	RefreshCooldown time.Duration `yaml:"refresh_cooldown"`
	HealthInterval  time.Duration `yaml:"health_interval"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
}

// MDCDisplay configures one Samsung MDC display.
type MDCDisplay struct {
	// ID is the entry identifier; device topics and entity ids derive from it.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Host and Port select TCP transport. Port defaults to 1515.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SerialDevice selects RS-232 transport instead of TCP.
	SerialDevice string `yaml:"serial_device"`
	BaudRate     int    `yaml:"baud_rate"`

	DisplayID    int      `yaml:"display_id"`
	SerialNumber string   `yaml:"serial_number"`
	Model        string   `yaml:"model"`
	Sources      []string `yaml:"sources"`
}

// PhilipsTVConfig configures one Philips TV.
type PhilipsTVConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Host        string `yaml:"host"`
	APIVersion  int    `yaml:"api_version"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	AllowNotify bool   `yaml:"allow_notify"`
}

// DiscoveryConfig controls the mDNS browse done at start-up.
type DiscoveryConfig struct {
	Enabled bool          `yaml:"enabled"`
	Service string        `yaml:"service"`
	Domain  string        `yaml:"domain"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load builds a Config from defaults, then the YAML file at path, then
// the GRAYLOGIC_AV_* variables listed in envOverrides, and validates it.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDeviceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig is what an empty file yields.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:             "./data/graylogic-av.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-av",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/graylogic-av.log",
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "graylogic",
			},
		},
		Bridge: BridgeConfig{
			ID:              "av-bridge-01",
			PollInterval:    30 * time.Second,
			RefreshCooldown: 2 * time.Second,
			HealthInterval:  30 * time.Second,
			CommandTimeout:  10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Service: "_samsungmdc._tcp",
			Domain:  "local.",
			Timeout: 5 * time.Second,
		},
	}
}

// applyDeviceDefaults fills per-device defaults after the file is parsed.
func (c *Config) applyDeviceDefaults() {
	for i := range c.SamsungMDC {
		d := &c.SamsungMDC[i]
		if d.SerialDevice == "" && d.Port == 0 {
			d.Port = 1515
		}
		if d.SerialDevice != "" && d.BaudRate == 0 {
			d.BaudRate = 9600
		}
	}
	for i := range c.PhilipsTV {
		if c.PhilipsTV[i].APIVersion == 0 {
			c.PhilipsTV[i].APIVersion = 1
		}
	}
}

const envPrefix = "GRAYLOGIC_AV_"

// envOverrides maps the variables after envPrefix onto config fields.
// Secrets belong here so they can stay out of the YAML file.
var envOverrides = map[string]func(c *Config, v string){
	"DATABASE_PATH":  func(c *Config, v string) { c.Database.Path = v },
	"MQTT_HOST":      func(c *Config, v string) { c.MQTT.Broker.Host = v },
	"MQTT_PORT":      func(c *Config, v string) { setInt(&c.MQTT.Broker.Port, v) },
	"MQTT_USERNAME":  func(c *Config, v string) { c.MQTT.Auth.Username = v },
	"MQTT_PASSWORD":  func(c *Config, v string) { c.MQTT.Auth.Password = v },
	"API_HOST":       func(c *Config, v string) { c.API.Host = v },
	"API_PORT":       func(c *Config, v string) { setInt(&c.API.Port, v) },
	"INFLUXDB_URL":   func(c *Config, v string) { c.InfluxDB.URL = v },
	"INFLUXDB_TOKEN": func(c *Config, v string) { c.InfluxDB.Token = v },
	"LOG_LEVEL":      func(c *Config, v string) { c.Logging.Level = v },
	"JWT_SECRET":     func(c *Config, v string) { c.Security.JWT.Secret = v },
}

// applyEnvOverrides copies every non-empty GRAYLOGIC_AV_* variable in
// envOverrides onto cfg.
func applyEnvOverrides(cfg *Config) {
	for key, set := range envOverrides {
		if v := os.Getenv(envPrefix + key); v != "" {
			set(cfg, v)
		}
	}
}

// setInt leaves dst alone when v is not a number.
func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate reports every problem at once, joined into one error.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.PollInterval < time.Second {
		errs = append(errs, "bridge.poll_interval must be at least 1s")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// The API can switch displays on and off; never run it unauthenticated.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api is enabled (set GRAYLOGIC_AV_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("logging.output %q must be stdout, stderr or file", c.Logging.Output))
	}

	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateDevices() []string {
	var errs []string
	seen := make(map[string]bool)

	checkID := func(kind string, i int, id string) {
		switch {
		case id == "":
			errs = append(errs, fmt.Sprintf("%s[%d].id is required", kind, i))
		case strings.ContainsAny(id, "/#+ "):
			errs = append(errs, fmt.Sprintf("%s[%d].id %q must not contain '/', '#', '+' or spaces", kind, i, id))
		case seen[id]:
			errs = append(errs, fmt.Sprintf("%s[%d].id %q is duplicated", kind, i, id))
		}
		seen[id] = true
	}

	for i, d := range c.SamsungMDC {
		checkID("samsung_mdc", i, d.ID)
		if d.Host == "" && d.SerialDevice == "" {
			errs = append(errs, fmt.Sprintf("samsung_mdc[%d] needs host or serial_device", i))
		}
		if d.Host != "" && d.SerialDevice != "" {
			errs = append(errs, fmt.Sprintf("samsung_mdc[%d] must not set both host and serial_device", i))
		}
		if d.DisplayID < 0 || d.DisplayID > 0xFE {
			errs = append(errs, fmt.Sprintf("samsung_mdc[%d].display_id must be between 0 and 254", i))
		}
	}

	for i, tv := range c.PhilipsTV {
		checkID("philips_tv", i, tv.ID)
		if tv.Host == "" {
			errs = append(errs, fmt.Sprintf("philips_tv[%d].host is required", i))
		}
		switch tv.APIVersion {
		case 1, 5, 6:
		default:
			errs = append(errs, fmt.Sprintf("philips_tv[%d].api_version must be 1, 5 or 6", i))
		}
	}

	return errs
}

// GetReadTimeout, GetWriteTimeout and GetIdleTimeout convert the API
// timeouts for http.Server.
func (c *Config) GetReadTimeout() time.Duration  { return seconds(c.API.Timeouts.Read) }
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.API.Timeouts.Write) }
func (c *Config) GetIdleTimeout() time.Duration  { return seconds(c.API.Timeouts.Idle) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

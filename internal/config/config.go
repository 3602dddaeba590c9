package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	InfluxDB InfluxConfig   `json:"influxdb" yaml:"influxdb"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Logger   LoggerConfig   `json:"logger" yaml:"logger"`
	Service  ServiceConfig  `json:"service" yaml:"service"`
}

type ServerConfig struct {
	HTTPAddr         string        `json:"http_addr" yaml:"http_addr"`
	MetricsAddr      string        `json:"metrics_addr" yaml:"metrics_addr"`
	ReadTimeout      time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout  time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	BroadcastTimeout time.Duration `json:"broadcast_timeout" yaml:"broadcast_timeout"`
	MaxBodyBytes     int64         `json:"max_body_bytes" yaml:"max_body_bytes"`
	AllowedOrigins   []string      `json:"allowed_origins" yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver            string        `json:"driver" yaml:"driver"`
	Host              string        `json:"host" yaml:"host"`
	Port              int           `json:"port" yaml:"port"`
	User              string        `json:"user" yaml:"user"`
	Password          string        `json:"password" yaml:"password"`
	Database          string        `json:"database" yaml:"database"`
	SSLMode           string        `json:"ssl_mode" yaml:"ssl_mode"`
	TimeZone          string        `json:"timezone" yaml:"timezone"`
	Path              string        `json:"path" yaml:"path"`
	Dsn               string        `json:"dsn" yaml:"dsn"`
	MaxOpenConns      int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns      int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnectRetries    int           `json:"connect_retries" yaml:"connect_retries"`
	ConnectRetryDelay time.Duration `json:"connect_retry_delay" yaml:"connect_retry_delay"`
	ListenForChanges  bool          `json:"listen_for_changes" yaml:"listen_for_changes"`
}

type MQTTConfig struct {
	Enabled              bool          `json:"enabled" yaml:"enabled"`
	Host                 string        `json:"host" yaml:"host"`
	Port                 int           `json:"port" yaml:"port"`
	Username             string        `json:"username" yaml:"username"`
	Password             string        `json:"password" yaml:"password"`
	ClientID             string        `json:"client_id" yaml:"client_id"`
	BaseTopic            string        `json:"base_topic" yaml:"base_topic"`
	UplinkTopic          string        `json:"uplink_topic" yaml:"uplink_topic"`
	QoS                  byte          `json:"qos" yaml:"qos"`
	KeepAlive            int           `json:"keep_alive" yaml:"keep_alive"`
	AutoReconnect        bool          `json:"auto_reconnect" yaml:"auto_reconnect"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval" yaml:"max_reconnect_interval"`
	CleanSession         bool          `json:"clean_session" yaml:"clean_session"`
}

type InfluxConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	URL           string `json:"url" yaml:"url"`
	Token         string `json:"token" yaml:"token"`
	Organization  string `json:"organization" yaml:"organization"`
	Bucket        string `json:"bucket" yaml:"bucket"`
	BatchSize     int    `json:"batch_size" yaml:"batch_size"`
	FlushInterval int    `json:"flush_interval_seconds" yaml:"flush_interval_seconds"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Channel  string `json:"channel" yaml:"channel"`
}

type AuthConfig struct {
	AdminUsername     string `json:"admin_username" yaml:"admin_username"`
	AdminPasswordHash string `json:"admin_password_hash" yaml:"admin_password_hash"`
}

type LoggerConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type ServiceConfig struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:         ":8080",
			MetricsAddr:      ":8888",
			ReadTimeout:      10 * time.Second,
			WriteTimeout:     10 * time.Second,
			ShutdownTimeout:  5 * time.Second,
			BroadcastTimeout: 2 * time.Second,
			MaxBodyBytes:     1 << 20,
			AllowedOrigins:   []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:            "postgres",
			Host:              "localhost",
			Port:              5432,
			User:              "postgres",
			Database:          "tidewatch",
			SSLMode:           "disable",
			TimeZone:          "UTC",
			Path:              "tidewatch.db",
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnectRetries:    5,
			ConnectRetryDelay: 2 * time.Second,
		},
		MQTT: MQTTConfig{
			Host:                 "localhost",
			Port:                 1883,
			ClientID:             "tidewatch",
			BaseTopic:            "tidewatch",
			UplinkTopic:          "application/+/device/+/event/up",
			QoS:                  1,
			KeepAlive:            60,
			AutoReconnect:        true,
			MaxReconnectInterval: 10 * time.Second,
			CleanSession:         true,
		},
		InfluxDB: InfluxConfig{
			URL:           "http://localhost:8086",
			Organization:  "tidewatch",
			Bucket:        "sensor_data",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			Channel: "tidewatch:sensor_update",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "console",
		},
		Service: ServiceConfig{
			Name:    "tidewatch",
			Version: "1.0.0",
		},
	}
}

// Load resolves configuration from defaults, then the optional YAML file named
// by CONFIG_FILE, then the environment (including a .env file).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.finalize()

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.MetricsAddr = getEnv("METRICS_ADDR", c.Server.MetricsAddr)
	c.Server.ReadTimeout = getEnvAsDuration("HTTP_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("HTTP_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.BroadcastTimeout = getEnvAsDuration("BROADCAST_TIMEOUT", c.Server.BroadcastTimeout)
	c.Server.MaxBodyBytes = int64(getEnvAsInt("HTTP_MAX_BODY_BYTES", int(c.Server.MaxBodyBytes)))
	if origins := getEnv("HTTP_ALLOWED_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = getEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = getEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("POSTGRES_DATABASE", c.Database.Database)
	c.Database.SSLMode = getEnv("POSTGRES_SSL_MODE", c.Database.SSLMode)
	c.Database.TimeZone = getEnv("POSTGRES_TIMEZONE", c.Database.TimeZone)
	c.Database.Path = getEnv("SQLITE_PATH", c.Database.Path)
	c.Database.Dsn = getEnv("DATABASE_DSN", c.Database.Dsn)
	c.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.ConnectRetries = getEnvAsInt("DB_CONNECT_RETRIES", c.Database.ConnectRetries)
	c.Database.ConnectRetryDelay = getEnvAsDuration("DB_CONNECT_RETRY_DELAY", c.Database.ConnectRetryDelay)
	c.Database.ListenForChanges = getEnvAsBool("POSTGRES_LISTEN_ENABLED", c.Database.ListenForChanges)

	c.MQTT.Enabled = getEnvAsBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Host = getEnv("MQTT_HOST", c.MQTT.Host)
	c.MQTT.Port = getEnvAsInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.BaseTopic = getEnv("MQTT_BASE_TOPIC", c.MQTT.BaseTopic)
	c.MQTT.UplinkTopic = getEnv("MQTT_UPLINK_TOPIC", c.MQTT.UplinkTopic)
	c.MQTT.QoS = byte(getEnvAsInt("MQTT_QOS", int(c.MQTT.QoS)))
	c.MQTT.KeepAlive = getEnvAsInt("MQTT_KEEP_ALIVE", c.MQTT.KeepAlive)
	c.MQTT.AutoReconnect = getEnvAsBool("MQTT_AUTO_RECONNECT", c.MQTT.AutoReconnect)
	c.MQTT.MaxReconnectInterval = getEnvAsDuration("MQTT_MAX_RECONNECT_INTERVAL", c.MQTT.MaxReconnectInterval)
	c.MQTT.CleanSession = getEnvAsBool("MQTT_CLEAN_SESSION", c.MQTT.CleanSession)

	c.InfluxDB.Enabled = getEnvAsBool("INFLUXDB_ENABLED", c.InfluxDB.Enabled)
	c.InfluxDB.URL = getEnv("INFLUXDB_URL", c.InfluxDB.URL)
	c.InfluxDB.Token = getEnv("INFLUXDB_TOKEN", c.InfluxDB.Token)
	c.InfluxDB.Organization = getEnv("INFLUXDB_ORG", c.InfluxDB.Organization)
	c.InfluxDB.Bucket = getEnv("INFLUXDB_BUCKET", c.InfluxDB.Bucket)
	c.InfluxDB.BatchSize = getEnvAsInt("INFLUXDB_BATCH_SIZE", c.InfluxDB.BatchSize)
	c.InfluxDB.FlushInterval = getEnvAsInt("INFLUXDB_FLUSH_INTERVAL", c.InfluxDB.FlushInterval)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.Channel = getEnv("REDIS_CHANNEL", c.Redis.Channel)

	c.Auth.AdminUsername = getEnv("ADMIN_USERNAME", c.Auth.AdminUsername)
	c.Auth.AdminPasswordHash = getEnv("ADMIN_PASSWORD_HASH", c.Auth.AdminPasswordHash)

	c.Logger.Level = getEnv("LOG_LEVEL", c.Logger.Level)
	c.Logger.Format = getEnv("LOG_FORMAT", c.Logger.Format)

	c.Service.Name = getEnv("SERVICE_NAME", c.Service.Name)
	c.Service.Version = getEnv("SERVICE_VERSION", c.Service.Version)
}

func (c *Config) finalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.MQTT.BaseTopic = strings.TrimSuffix(c.MQTT.BaseTopic, "/")

	if c.Database.Dsn == "" {
		c.Database.Dsn = c.Database.BuildDSN()
	}
}

// BuildDSN renders the connection string for the configured driver.
func (d DatabaseConfig) BuildDSN() string {
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Database,
		)
	case "sqlite":
		return d.Path
	default:
		sslMode := d.SSLMode
		if sslMode == "false" || sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			d.Host, d.Port, d.User, d.Password, d.Database, sslMode,
		)
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if err := c.InfluxDB.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Logger.Validate()
}

func (s ServerConfig) Validate() error {
	if s.HTTPAddr == "" {
		return &ConfigError{Component: "server", Field: "http_addr", Message: "has to be set"}
	}
	if s.MaxBodyBytes <= 0 {
		return &ConfigError{Component: "server", Field: "max_body_bytes", Value: s.MaxBodyBytes, Message: "must be positive"}
	}
	return nil
}

func (d DatabaseConfig) Validate() error {
	switch d.Driver {
	case "postgres", "mysql":
		if d.Host == "" && d.Dsn == "" {
			return &ConfigError{Component: "database", Field: "host", Message: "has to be set"}
		}
		if d.Port <= 0 || d.Port > 65535 {
			return &ConfigError{Component: "database", Field: "port", Value: d.Port, Message: "out of range"}
		}
	case "sqlite":
		if d.Dsn == "" {
			return &ConfigError{Component: "database", Field: "path", Message: "has to be set"}
		}
	default:
		return &ConfigError{Component: "database", Field: "driver", Value: d.Driver, Message: "must be one of postgres, mysql, sqlite"}
	}

	if d.ListenForChanges && d.Driver != "postgres" {
		return &ConfigError{Component: "database", Field: "listen_for_changes", Value: d.Driver, Message: "requires the postgres driver"}
	}
	return nil
}

func (m MQTTConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Host == "" {
		return &ConfigError{Component: "mqtt", Field: "host", Message: "has to be set"}
	}
	if m.QoS > 2 {
		return &ConfigError{Component: "mqtt", Field: "qos", Value: m.QoS, Message: "must be 0, 1 or 2"}
	}
	return nil
}

func (i InfluxConfig) Validate() error {
	if !i.Enabled {
		return nil
	}
	if i.URL == "" {
		return &ConfigError{Component: "influxdb", Field: "url", Message: "has to be set"}
	}
	if i.Token == "" {
		return &ConfigError{Component: "influxdb", Field: "token", Message: "has to be set"}
	}
	return nil
}

func (a AuthConfig) Validate() error {
	if a.AdminUsername != "" && a.AdminPasswordHash == "" {
		return &ConfigError{Component: "auth", Field: "admin_password_hash", Message: "has to be set together with admin_username"}
	}
	return nil
}

func (l LoggerConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return &ConfigError{Component: "logger", Field: "level", Value: l.Level, Message: "unknown log level"}
	}
	switch l.Format {
	case "console", "json":
		return nil
	default:
		return &ConfigError{Component: "logger", Field: "format", Value: l.Format, Message: "must be console or json"}
	}
}

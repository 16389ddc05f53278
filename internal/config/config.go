package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
)

// EnvPrefix prefixes every environment override, e.g. GATEKEEPER_MQTT_BROKER.
const EnvPrefix = "GATEKEEPER"

type Config struct {
	Env        string           `mapstructure:"env"` // "development" | "production"
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Credential CredentialConfig `mapstructure:"credential"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Ops        OpsConfig        `mapstructure:"ops"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error; empty follows env
	Format string `mapstructure:"format"` // json | text; empty follows env
}

type DBConfig struct {
	Driver  string        `mapstructure:"driver"` // sqlite | pgx
	Path    string        `mapstructure:"path"`
	DSN     string        `mapstructure:"dsn"`
	Migrate bool          `mapstructure:"migrate"`
	Timeout time.Duration `mapstructure:"timeout"` // per event
}

type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	KeepAlive      time.Duration `mapstructure:"keepalive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type IngestConfig struct {
	Filter        string        `mapstructure:"filter"`
	TopicPrefix   string        `mapstructure:"topic_prefix"`
	QoS           int           `mapstructure:"qos"`
	Workers       int           `mapstructure:"workers"`
	ReconnectBase time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax  time.Duration `mapstructure:"reconnect_max"`
}

type CredentialConfig struct {
	Encoding string `mapstructure:"encoding"` // decimal | hex
}

type PolicyConfig struct {
	// Timezone the group windows are written in; "Local" uses the host's.
	Timezone string `mapstructure:"timezone"`
}

type DispatchConfig struct {
	QoS        int           `mapstructure:"qos"`
	QueueSize  int           `mapstructure:"queue_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
	RetryMax   time.Duration `mapstructure:"retry_max"`
}

type OpsConfig struct {
	HTTPAddr string `mapstructure:"http_addr"` // empty disables /healthz and /metrics
	GRPCAddr string `mapstructure:"grpc_addr"` // empty disables the gRPC health service
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "")

	v.SetDefault("db.driver", db.DriverSQLite)
	v.SetDefault("db.path", "./data/gatekeeper.db")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.migrate", true)
	v.SetDefault("db.timeout", 5*time.Second)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.keepalive", 60*time.Second)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.publish_timeout", 5*time.Second)

	v.SetDefault("ingest.filter", "#")
	v.SetDefault("ingest.topic_prefix", "")
	v.SetDefault("ingest.qos", 0)
	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.reconnect_base", 500*time.Millisecond)
	v.SetDefault("ingest.reconnect_max", 30*time.Second)

	v.SetDefault("credential.encoding", string(credential.EncodingDecimal))
	v.SetDefault("policy.timezone", "Local")

	v.SetDefault("dispatch.qos", 0)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.max_retries", 0)
	v.SetDefault("dispatch.retry_base", 100*time.Millisecond)
	v.SetDefault("dispatch.retry_max", 2*time.Second)

	v.SetDefault("ops.http_addr", ":8080")
	v.SetDefault("ops.grpc_addr", "")
}

// Load reads defaults, then the config file, then GATEKEEPER_* environment
// variables.  An empty path looks for an optional gatekeeper.{yaml,yml,json,toml}
// in the working directory.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gatekeeper")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Env {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("env must be development or production, got %q", c.Env))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or text", c.Log.Format))
	}

	switch c.DB.Driver {
	case db.DriverSQLite:
		if strings.TrimSpace(c.DB.Path) == "" {
			errs = append(errs, errors.New("db.path is required for sqlite"))
		}
	case db.DriverPostgres:
		if strings.TrimSpace(c.DB.DSN) == "" {
			errs = append(errs, errors.New("db.dsn is required for pgx"))
		}
	default:
		errs = append(errs, fmt.Errorf("db.driver must be %s or %s, got %q", db.DriverSQLite, db.DriverPostgres, c.DB.Driver))
	}
	if c.DB.Timeout < 0 {
		errs = append(errs, errors.New("db.timeout must not be negative"))
	}

	if strings.TrimSpace(c.MQTT.Broker) == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}

	if strings.TrimSpace(c.Ingest.Filter) == "" {
		errs = append(errs, errors.New("ingest.filter is required"))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, errors.New("ingest.workers must be at least 1"))
	}
	for name, qos := range map[string]int{"ingest.qos": c.Ingest.QoS, "dispatch.qos": c.Dispatch.QoS} {
		if qos < 0 || qos > 2 {
			errs = append(errs, fmt.Errorf("%s must be 0, 1 or 2, got %d", name, qos))
		}
	}

	if _, err := credential.ParseEncoding(c.Credential.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("credential.encoding: %w", err))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("policy.timezone: %w", err))
	}

	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, errors.New("dispatch.queue_size must be at least 1"))
	}
	if c.Dispatch.MaxRetries < 0 {
		errs = append(errs, errors.New("dispatch.max_retries must not be negative"))
	}

	return errors.Join(errs...)
}

// Location resolves policy.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Policy.Timezone == "" || c.Policy.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Policy.Timezone)
}

// Encoding resolves credential.encoding.
func (c *Config) Encoding() credential.Encoding {
	enc, err := credential.ParseEncoding(c.Credential.Encoding)
	if err != nil {
		return credential.EncodingDecimal
	}
	return enc
}

// Store returns the database settings for db.Open.
func (c *Config) Store() db.Config {
	return db.Config{
		Driver:  c.DB.Driver,
		Path:    c.DB.Path,
		DSN:     c.DB.DSN,
		Migrate: c.DB.Migrate && c.DB.Driver == db.DriverSQLite,
	}
}

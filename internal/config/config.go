package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Name            string `mapstructure:"name"`
	Env             string `mapstructure:"env"`
	Port            int    `mapstructure:"port"`
	ShutdownSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
	Version         string `mapstructure:"version"`
}

func (a *AppConfig) PortString() string { return fmt.Sprintf("%d", a.Port) }

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MongoConfig struct {
	URI string `mapstructure:"uri"`
	DB  string `mapstructure:"db"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type KafkaConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Brokers            []string `mapstructure:"brokers"`
	TopicNotifications string   `mapstructure:"topic_notifications"`
	TopicReceipts      string   `mapstructure:"topic_receipts"`
	GroupID            string   `mapstructure:"group_id"`
}

type JWTConfig struct {
	Alg           string `mapstructure:"alg"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	HSSecret      string `mapstructure:"hs_secret"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"` // mongo | sqlite
	SQLitePath string `mapstructure:"sqlite_path"`
}

type BreakerConfig struct {
	MaxFailures uint32 `mapstructure:"max_failures"`
	IntervalSec int    `mapstructure:"interval_sec"`
	TimeoutSec  int    `mapstructure:"timeout_sec"`
}

type BusConfig struct {
	Driver  string        `mapstructure:"driver"` // redis | nats
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type PendingConfig struct {
	Driver     string `mapstructure:"driver"` // redis | mongo
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type PresenceConfig struct {
	LeaseSeconds int `mapstructure:"lease_seconds"`
}

type DeliveryConfig struct {
	PublishDelayMillis int `mapstructure:"publish_delay_ms"`
}

type ConsulConfig struct {
	Addr          string `mapstructure:"addr"`
	ServiceName   string `mapstructure:"service_name"`
	AdvertiseAddr string `mapstructure:"advertise_addr"`
}

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Store    StoreConfig    `mapstructure:"store"`
	Bus      BusConfig      `mapstructure:"bus"`
	Pending  PendingConfig  `mapstructure:"pending"`
	Presence PresenceConfig `mapstructure:"presence"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Consul   ConsulConfig   `mapstructure:"consul"`

	// derived
	ShutdownTimeout time.Duration `mapstructure:"-"`
	PendingTTL      time.Duration `mapstructure:"-"`
	PresenceLease   time.Duration `mapstructure:"-"`
	PublishDelay    time.Duration `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "delivery-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 5001)
	v.SetDefault("app.shutdown_timeout_seconds", 10)
	v.SetDefault("app.rate_limit_per_min", 120)
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("mongo.db", "chat_db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("kafka.topic_notifications", "chat.offline")
	v.SetDefault("kafka.topic_receipts", "chat.receipts")
	v.SetDefault("kafka.group_id", "delivery-service")
	v.SetDefault("jwt.alg", "RS256")
	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.sqlite_path", "data/delivery.db")
	v.SetDefault("bus.driver", "redis")
	v.SetDefault("bus.breaker.max_failures", 5)
	v.SetDefault("bus.breaker.interval_sec", 60)
	v.SetDefault("bus.breaker.timeout_sec", 30)
	v.SetDefault("pending.driver", "redis")
	v.SetDefault("pending.ttl_seconds", 48*60*60)
	v.SetDefault("presence.lease_seconds", 90)
	v.SetDefault("delivery.publish_delay_ms", 1000)
	v.SetDefault("consul.service_name", "delivery-service")
}

// Load reads path (if it exists) and overlays environment variables, e.g.
// REDIS_ADDR overrides redis.addr.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
		}
	}

	// AutomaticEnv only applies to keys viper already knows about, so bind
	// the ones that have no default.
	for _, k := range []string{"mongo.uri", "redis.password", "jwt.public_key_path", "jwt.hs_secret", "consul.addr", "consul.advertise_addr", "kafka.enabled", "kafka.brokers", "log.development"} {
		_ = v.BindEnv(k)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if len(c.Kafka.Brokers) == 1 && strings.Contains(c.Kafka.Brokers[0], ",") {
		c.Kafka.Brokers = strings.Split(c.Kafka.Brokers[0], ",")
	}

	c.ShutdownTimeout = time.Duration(c.App.ShutdownSeconds) * time.Second
	c.PendingTTL = time.Duration(c.Pending.TTLSeconds) * time.Second
	c.PresenceLease = time.Duration(c.Presence.LeaseSeconds) * time.Second
	c.PublishDelay = time.Duration(c.Delivery.PublishDelayMillis) * time.Millisecond

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.App.Port <= 0 {
		return errors.New("app.port missing or invalid")
	}
	if c.PresenceLease <= 0 {
		return errors.New("presence.lease_seconds must be positive")
	}
	if c.Delivery.PublishDelayMillis < 0 {
		return errors.New("delivery.publish_delay_ms must not be negative")
	}

	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri missing")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path missing")
		}
	default:
		return fmt.Errorf("invalid store.driver %q (use mongo or sqlite)", c.Store.Driver)
	}

	if c.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}

	switch c.Bus.Driver {
	case "redis":
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("nats.url missing")
		}
	default:
		return fmt.Errorf("invalid bus.driver %q (use redis or nats)", c.Bus.Driver)
	}

	switch c.Pending.Driver {
	case "redis":
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri required for pending.driver=mongo")
		}
	default:
		return fmt.Errorf("invalid pending.driver %q (use redis or mongo)", c.Pending.Driver)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers missing")
	}
	return nil
}

// ValidateHTTP checks the settings only the HTTP API needs, so a
// reconciler-only worker can run without token keys.
func (c *Config) ValidateHTTP() error {
	switch strings.ToUpper(c.JWT.Alg) {
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if c.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}
	return nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConf struct {
	Env            string `mapstructure:"env"`
	Port           int    `mapstructure:"port"`
	ShutdownSecond int    `mapstructure:"shutdown_seconds"`
	NodeID         string `mapstructure:"node_id"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

type StoreConf struct {
	// mongo | memory
	Driver string `mapstructure:"driver"`

	// usernames created at startup by the memory driver
	SeedUsers []string `mapstructure:"seed_users"`
}

type MongoConf struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Users          string `mapstructure:"users_collection"`
	Conversations  string `mapstructure:"conversations_collection"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type RedisConf struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConf struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWTConf struct {
	Alg           string `mapstructure:"alg"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	HSSecret      string `mapstructure:"hs_secret"`
}

type PolicyConf struct {
	RestrictedAccounts []string `mapstructure:"restricted_accounts"`
	SystemAccount      string   `mapstructure:"system_account"`
}

type MessagingConf struct {
	MaxBodyLength   int `mapstructure:"max_body_length"`
	EventsPerSecond int `mapstructure:"events_per_second"`
	SendLimit       int `mapstructure:"send_limit"`
	SendWindowSec   int `mapstructure:"send_window_seconds"`
	ResolveRetries  int `mapstructure:"resolve_retries"`
}

type UnreadConf struct {
	// targeted | global
	Mode        string `mapstructure:"mode"`
	ClearOnLoad bool   `mapstructure:"clear_on_load"`
}

type AWSConf struct {
	Enabled  bool   `mapstructure:"enabled"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
}

type S3Conf struct {
	PublicRead   bool  `mapstructure:"public_read"`
	PresignTTL   int   `mapstructure:"presign_ttl_seconds"`
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`
}

type ProfileConf struct {
	Enabled        bool   `mapstructure:"enabled"`
	Service        string `mapstructure:"service"`
	BaseURL        string `mapstructure:"base_url"`
	ConsulAddr     string `mapstructure:"consul_addr"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxFailures    uint32 `mapstructure:"max_failures"`
	OpenSeconds    int    `mapstructure:"open_seconds"`
}

type RateLimitConf struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

type Config struct {
	App       AppConf       `mapstructure:"app"`
	Store     StoreConf     `mapstructure:"store"`
	Mongo     MongoConf     `mapstructure:"mongo"`
	Redis     RedisConf     `mapstructure:"redis"`
	Kafka     KafkaConf     `mapstructure:"kafka"`
	JWT       JWTConf       `mapstructure:"jwt"`
	Policy    PolicyConf    `mapstructure:"policy"`
	Messaging MessagingConf `mapstructure:"messaging"`
	Unread    UnreadConf    `mapstructure:"unread"`
	AWS       AWSConf       `mapstructure:"aws"`
	S3        S3Conf        `mapstructure:"s3"`
	Profile   ProfileConf   `mapstructure:"profile"`
	RateLimit RateLimitConf `mapstructure:"ratelimit"`
	Log       struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	// derived
	ShutdownTimeout time.Duration
	StoreTimeout    time.Duration
	SendWindow      time.Duration
	PresignTTL      time.Duration
	ProfileTimeout  time.Duration
}

func (c *Config) Dev() bool { return c.App.Env == "development" }

func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.App.Port) }

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8085)
	v.SetDefault("app.shutdown_seconds", 15)
	v.SetDefault("app.node_id", "")
	v.SetDefault("app.allowed_origins", "*")
	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.seed_users", []string{})
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "marketplace")
	v.SetDefault("mongo.users_collection", "users")
	v.SetDefault("mongo.conversations_collection", "conversations")
	v.SetDefault("mongo.timeout_seconds", 3)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "messaging:events")
	v.SetDefault("redis.prefix", "messaging")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "messaging.events")
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("policy.restricted_accounts", []string{"demo"})
	v.SetDefault("policy.system_account", "franklindesk")
	v.SetDefault("messaging.max_body_length", 4000)
	v.SetDefault("messaging.events_per_second", 20)
	v.SetDefault("messaging.send_limit", 0)
	v.SetDefault("messaging.send_window_seconds", 10)
	v.SetDefault("messaging.resolve_retries", 3)
	v.SetDefault("unread.mode", "targeted")
	v.SetDefault("unread.clear_on_load", false)
	v.SetDefault("aws.enabled", false)
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.bucket", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("s3.public_read", false)
	v.SetDefault("s3.presign_ttl_seconds", 600)
	v.SetDefault("s3.max_file_bytes", 10*1024*1024)
	v.SetDefault("profile.enabled", false)
	v.SetDefault("profile.service", "user")
	v.SetDefault("profile.base_url", "")
	v.SetDefault("profile.consul_addr", "")
	v.SetDefault("profile.timeout_seconds", 2)
	v.SetDefault("profile.max_failures", 5)
	v.SetDefault("profile.open_seconds", 30)
	v.SetDefault("ratelimit.per_minute", 120)
	v.SetDefault("ratelimit.burst", 10)
	v.SetDefault("log.level", "info")
}

// Load reads the yaml file at path (optional) and lets environment variables
// override any key, e.g. MONGO_URI for mongo.uri.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	derive(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func derive(cfg *Config) {
	if cfg.App.ShutdownSecond <= 0 {
		cfg.App.ShutdownSecond = 15
	}
	cfg.ShutdownTimeout = time.Duration(cfg.App.ShutdownSecond) * time.Second
	if cfg.Mongo.TimeoutSeconds <= 0 {
		cfg.Mongo.TimeoutSeconds = 3
	}
	cfg.StoreTimeout = time.Duration(cfg.Mongo.TimeoutSeconds) * time.Second
	if cfg.Messaging.SendWindowSec <= 0 {
		cfg.Messaging.SendWindowSec = 10
	}
	cfg.SendWindow = time.Duration(cfg.Messaging.SendWindowSec) * time.Second
	if cfg.S3.PresignTTL <= 0 {
		cfg.S3.PresignTTL = 600
	}
	cfg.PresignTTL = time.Duration(cfg.S3.PresignTTL) * time.Second
	if cfg.Profile.TimeoutSeconds <= 0 {
		cfg.Profile.TimeoutSeconds = 2
	}
	cfg.ProfileTimeout = time.Duration(cfg.Profile.TimeoutSeconds) * time.Second
	if cfg.Messaging.ResolveRetries <= 0 {
		cfg.Messaging.ResolveRetries = 3
	}
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
	cfg.Unread.Mode = strings.ToLower(cfg.Unread.Mode)
	cfg.JWT.Alg = strings.ToUpper(cfg.JWT.Alg)
}

func validate(cfg *Config) error {
	if cfg.App.Port <= 0 || cfg.App.Port > 65535 {
		return fmt.Errorf("invalid app.port: %d", cfg.App.Port)
	}

	switch cfg.Store.Driver {
	case "mongo":
		if cfg.Mongo.URI == "" {
			return errors.New("mongo.uri missing")
		}
		if cfg.Mongo.Database == "" {
			return errors.New("mongo.database missing")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store.driver %q (use mongo or memory)", cfg.Store.Driver)
	}

	if cfg.Redis.Enabled && !strings.Contains(cfg.Redis.Addr, ":") {
		return fmt.Errorf("invalid redis.addr: %s (must be host:port)", cfg.Redis.Addr)
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers missing")
		}
		if cfg.Kafka.Topic == "" {
			return errors.New("kafka.topic missing")
		}
	}

	switch cfg.JWT.Alg {
	case "RS256":
		if cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if cfg.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}

	if cfg.Policy.SystemAccount == "" {
		return errors.New("policy.system_account missing")
	}

	switch cfg.Unread.Mode {
	case "targeted", "global":
	default:
		return fmt.Errorf("invalid unread.mode %q (use targeted or global)", cfg.Unread.Mode)
	}

	if cfg.AWS.Enabled && cfg.AWS.Bucket == "" {
		return errors.New("aws.bucket required when aws.enabled")
	}

	if cfg.Profile.Enabled && cfg.Profile.BaseURL == "" && cfg.Profile.ConsulAddr == "" {
		return errors.New("profile.base_url or profile.consul_addr required when profile.enabled")
	}

	return nil
}

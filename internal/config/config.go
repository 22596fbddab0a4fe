package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`

	// MongoDB holds every collection: notifications and the read-only domain stores
	MongoDB MongoDBConfig `mapstructure:"mongo"`

	// Redis relays broadcast events between API instances (optional)
	Redis RedisConfig `mapstructure:"redis"`

	// Kafka receives a copy of every broadcast event (optional)
	Kafka KafkaConfig `mapstructure:"kafka"`

	Notification NotificationConfig `mapstructure:"notification"`

	Auth AuthConfig `mapstructure:"auth"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	GRPCPort     string `mapstructure:"grpc_port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	Environment  string `mapstructure:"environment"` // development, staging, production
	InstanceID   string `mapstructure:"instance_id"`
}

type MongoDBConfig struct {
	URI            string `mapstructure:"uri"` // takes precedence over host/port when set
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	ConnectTimeout int    `mapstructure:"connect_timeout"` // seconds
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"` // comma separated
	Topic   string `mapstructure:"topic"`
}

// NotificationConfig contains notification engine configuration
type NotificationConfig struct {
	RetentionDays   int     `mapstructure:"retention_days"`
	ScanLimit       int64   `mapstructure:"scan_limit"`
	HighValueAmount float64 `mapstructure:"high_value_amount"`
	Workers         int     `mapstructure:"workers"`    // broadcast worker goroutines
	QueueSize       int     `mapstructure:"queue_size"` // broadcast channel buffer
	IngestRate      float64 `mapstructure:"ingest_rate"`
	IngestBurst     int     `mapstructure:"ingest_burst"`
}

type AuthConfig struct {
	JWTSecret         string `mapstructure:"jwt_secret"`
	TokenTTLHours     int    `mapstructure:"token_ttl_hours"`
	AdminUsername     string `mapstructure:"admin_username"`
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// defaultJWTSecret is only accepted in development.
const defaultJWTSecret = "change-me"

var defaults = map[string]interface{}{
	"server.host":          "",
	"server.port":          "8080",
	"server.grpc_port":     "9090",
	"server.read_timeout":  15,
	"server.write_timeout": 15,
	"server.environment":   "development",
	"server.instance_id":   "",

	"mongo.uri":             "",
	"mongo.host":            "localhost",
	"mongo.port":            "27017",
	"mongo.username":        "",
	"mongo.password":        "",
	"mongo.database":        "billingdesk",
	"mongo.connect_timeout": 10,

	"redis.enabled":  false,
	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,
	"redis.channel":  "billingdesk:notifications",

	"kafka.enabled": false,
	"kafka.brokers": "localhost:9092",
	"kafka.topic":   "notification-events",

	"notification.retention_days":    30,
	"notification.scan_limit":        50,
	"notification.high_value_amount": 10000.0,
	"notification.workers":           4,
	"notification.queue_size":        1000,
	"notification.ingest_rate":       5.0,
	"notification.ingest_burst":      20,

	"auth.jwt_secret":          defaultJWTSecret,
	"auth.token_ttl_hours":     24,
	"auth.admin_username":      "admin",
	"auth.admin_password_hash": "",

	"logging.level":  "info",
	"logging.format": "json",
}

// LoadConfig reads .env (when present) and the process environment.
// MONGO_HOST overrides mongo.host, NOTIFICATION_SCAN_LIMIT overrides notification.scan_limit.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// short names kept for existing deployments
	_ = v.BindEnv("logging.level", "LOGGING_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOGGING_FORMAT", "LOG_FORMAT")
	_ = v.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET", "JWT_SECRET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.Notification.RetentionDays <= 0 {
		return fmt.Errorf("notification.retention_days must be positive")
	}
	if cfg.Notification.ScanLimit <= 0 {
		return fmt.Errorf("notification.scan_limit must be positive")
	}
	if cfg.Notification.Workers <= 0 {
		return fmt.Errorf("notification.workers must be positive")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.BrokerList()) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if cfg.Server.Environment != "development" {
		secret := strings.TrimSpace(cfg.Auth.JWTSecret)
		if secret == "" || secret == defaultJWTSecret {
			return fmt.Errorf("auth.jwt_secret must be set outside development (environment %q)", cfg.Server.Environment)
		}
	}
	return nil
}

func (cfg *Config) GetMongoURI() string {
	if cfg.MongoDB.URI != "" {
		return cfg.MongoDB.URI
	}
	if cfg.MongoDB.Username != "" && cfg.MongoDB.Password != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%s/%s?authSource=admin",
			cfg.MongoDB.Username,
			cfg.MongoDB.Password,
			cfg.MongoDB.Host,
			cfg.MongoDB.Port,
			cfg.MongoDB.Database,
		)
	}
	return fmt.Sprintf("mongodb://%s:%s/%s", cfg.MongoDB.Host, cfg.MongoDB.Port, cfg.MongoDB.Database)
}

func (cfg *Config) Retention() time.Duration {
	return time.Duration(cfg.Notification.RetentionDays) * 24 * time.Hour
}

func (cfg *Config) TokenTTL() time.Duration {
	return time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
}

func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"keystone/pkg/platform/strings"
)

const envPrefix = "KEYSTONE"

// Config is the full process configuration, read once at startup.
type Config struct {
	Debug    bool `envconfig:"DEBUG" default:"false"`
	Server   Server
	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	Auth     Auth
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	// RateLimitPerMinute caps requests per member on /v1. Zero disables it.
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
}

// Database configures the shared PostgreSQL handle.
type Database struct {
	URL             string        `envconfig:"URL"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	TxTimeout       time.Duration `envconfig:"TX_TIMEOUT" default:"5s"`
	// TxRetries bounds retries of a transaction that lost a serialization race.
	TxRetries int `envconfig:"TX_RETRIES" default:"5"`
}

// RedisConfig configures the Redis client used for event idempotency keys.
// An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	DedupeTTL    time.Duration `envconfig:"DEDUPE_TTL" default:"24h"`
}

// Kafka configures the evidence consumer and the audit outbox relay.
// No brokers disables both.
type Kafka struct {
	Brokers       []string      `envconfig:"BROKERS"`
	ConsumerGroup string        `envconfig:"CONSUMER_GROUP" default:"keystone"`
	EvidenceTopic string        `envconfig:"EVIDENCE_TOPIC" default:"keystone.evidence"`
	AuditTopic    string        `envconfig:"AUDIT_TOPIC" default:"keystone.audit"`
	Partitions    int32         `envconfig:"PARTITIONS" default:"6"`
	Replication   int16         `envconfig:"REPLICATION" default:"1"`
	RelayInterval time.Duration `envconfig:"RELAY_INTERVAL" default:"2s"`
	RelayBatch    int           `envconfig:"RELAY_BATCH" default:"100"`
}

// Auth configures bearer token validation. Tokens are issued elsewhere.
type Auth struct {
	JWTSigningKey string `envconfig:"JWT_SIGNING_KEY"`
	Issuer        string `envconfig:"JWT_ISSUER" default:"keystone"`
}

// FromEnv builds a Config from KEYSTONE_* environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.Kafka.Brokers = strings.CleanList(cfg.Kafka.Brokers)
	return cfg, nil
}

// ValidateForServe checks the settings the HTTP server cannot run without.
func (c Config) ValidateForServe() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("KEYSTONE_DATABASE_URL is required"))
	}
	if len(c.Auth.JWTSigningKey) < 32 {
		errs = append(errs, errors.New("KEYSTONE_AUTH_JWT_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.Database.TxRetries < 0 {
		errs = append(errs, errors.New("KEYSTONE_DATABASE_TX_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}

// KafkaEnabled reports whether any brokers are configured.
func (c Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `envconfig:"PORT" default:"8080"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// JWT settings
	JWTSecret     string        `envconfig:"JWT_SECRET" default:"development-secret-change-in-production"`
	JWTIssuer     string        `envconfig:"JWT_ISSUER" default:"realtime-chat"`
	JWTExpiration time.Duration `envconfig:"JWT_EXPIRATION" default:"24h"`

	// Storage
	BadgerPath     string `envconfig:"BADGER_PATH" default:"./data/badger"`
	BadgerInMemory bool   `envconfig:"BADGER_IN_MEMORY" default:"false"`

	// Retention: 240 days
	MessageRetention  time.Duration `envconfig:"MESSAGE_RETENTION" default:"5760h"`
	RetentionSchedule string        `envconfig:"RETENTION_SCHEDULE" default:"@every 1h"`

	// Rate limiting
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	AllowedOrigins    []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// Realtime
	WSSendBuffer      int           `envconfig:"WS_SEND_BUFFER" default:"64"`
	WSPingInterval    time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	WSMaxMessageBytes int64         `envconfig:"WS_MAX_MESSAGE_BYTES" default:"4096"`
	HubPublishBuffer  int           `envconfig:"HUB_PUBLISH_BUFFER" default:"1024"`

	// NATS settings
	NATSEnabled  bool   `envconfig:"NATS_ENABLED" default:"false"`
	NATSURL      string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	NATSCAFile   string `envconfig:"NATS_CA_FILE"`
	NATSCertFile string `envconfig:"NATS_CERT_FILE"`
	NATSKeyFile  string `envconfig:"NATS_KEY_FILE"`
	NATSToken    string `envconfig:"NATS_TOKEN"`
	// Connection name shown in NATS monitoring, one per replica.
	NATSClientName     string        `envconfig:"NATS_CLIENT_NAME" default:"realtime-chat"`
	NATSConnectTimeout time.Duration `envconfig:"NATS_CONNECT_TIMEOUT" default:"5s"`

	// Logging
	Env      string `envconfig:"ENV" default:"production"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Tracing
	TracingEndpoint string `envconfig:"TRACING_ENDPOINT" default:"localhost:4318"`
	TracingEnabled  bool   `envconfig:"TRACING_ENABLED" default:"false"`
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.JWTExpiration <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRATION must be positive"))
	}
	if c.MessageRetention <= 0 {
		errs = append(errs, errors.New("MESSAGE_RETENTION must be positive"))
	}
	if !c.BadgerInMemory && c.BadgerPath == "" {
		errs = append(errs, errors.New("BADGER_PATH is required unless BADGER_IN_MEMORY is set"))
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	if c.WSSendBuffer <= 0 || c.HubPublishBuffer <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER and HUB_PUBLISH_BUFFER must be positive"))
	}
	if c.WSPingInterval <= 0 || c.WSMaxMessageBytes <= 0 {
		errs = append(errs, errors.New("WS_PING_INTERVAL and WS_MAX_MESSAGE_BYTES must be positive"))
	}
	if c.NATSEnabled && c.NATSURL == "" {
		errs = append(errs, errors.New("NATS_URL is required when NATS_ENABLED is set"))
	}
	return errors.Join(errs...)
}

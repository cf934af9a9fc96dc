// Package nats mirrors committed chat events to a NATS JetStream journal.
package nats

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

const (
	defaultClientName = "realtime-chat"
	reconnectWait     = 2 * time.Second
	// reconnectBuffer holds journal publishes made while the connection is down.
	reconnectBuffer = 8 * 1024 * 1024
)

// Config holds NATS connection configuration.
type Config struct {
	URL            string
	Name           string
	ConnectTimeout time.Duration
	CAFile         string
	CertFile       string
	KeyFile        string
	Token          string
}

// Client is the journal's connection to NATS. The chat core keeps serving while the
// connection is down, so reconnects are unbounded and only logged.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger
}

// Connect dials NATS and opens a JetStream context.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Client, error) {
	log = log.With(zap.String("nats_url", cfg.URL))

	name := cfg.Name
	if name == "" {
		name = defaultClientName
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.ReconnectBufSize(reconnectBuffer),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("event journal disconnected, chat events will not be mirrored until reconnect", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("event journal reconnected", zap.String("server", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			stats := nc.Stats()
			log.Info("event journal connection closed",
				zap.Uint64("published_msgs", stats.OutMsgs),
				zap.Uint64("published_bytes", stats.OutBytes),
				zap.Uint64("reconnects", stats.Reconnects),
			)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("event journal error", zap.Error(err))
		}),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}

	tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	if tlsConfig != nil {
		opts = append(opts, nats.Secure(tlsConfig))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Fail fast when the server runs without JetStream rather than on the first chat event.
	if _, err := js.AccountInfo(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("JetStream unavailable: %w", err)
	}

	log.Info("event journal connected",
		zap.String("server", nc.ConnectedUrl()),
		zap.String("client_name", name),
	)

	return &Client{
		conn:   nc,
		js:     js,
		logger: log,
	}, nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Close flushes pending journal publishes and closes the connection.
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("event journal drain failed", zap.Error(err))
		c.conn.Close()
	}
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// createTLSConfig returns nil when no TLS material is configured. A CA alone verifies
// the server; a certificate and key pair adds client authentication.
func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	if caFile == "" && certFile == "" && keyFile == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("NATS client certificate and key must be set together")
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

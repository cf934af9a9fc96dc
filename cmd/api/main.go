// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/auth"
	"github.com/capitalize-ai/realtime-chat/internal/config"
	"github.com/capitalize-ai/realtime-chat/internal/handler"
	natsclient "github.com/capitalize-ai/realtime-chat/internal/nats"
	"github.com/capitalize-ai/realtime-chat/internal/realtime"
	"github.com/capitalize-ai/realtime-chat/internal/service"
	"github.com/capitalize-ai/realtime-chat/internal/store"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
	"github.com/capitalize-ai/realtime-chat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		shutdown, err := tracing.Setup(ctx, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(flushCtx)
			}()
		}
	}

	// Open storage
	db, err := store.Open(store.Options{Path: cfg.BadgerPath, InMemory: cfg.BadgerInMemory}, log.Named("store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	retention := store.NewRetention(db, cfg.RetentionSchedule, log.Named("retention"))
	if err := retention.Start(ctx); err != nil {
		return err
	}
	defer retention.Stop()

	// Event journal is optional
	var (
		natsClient *natsclient.Client
		journal    *natsclient.Journal
		sink       service.Journal
	)
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:            cfg.NATSURL,
			Name:           cfg.NATSClientName,
			ConnectTimeout: cfg.NATSConnectTimeout,
			CAFile:         cfg.NATSCAFile,
			CertFile:       cfg.NATSCertFile,
			KeyFile:        cfg.NATSKeyFile,
			Token:          cfg.NATSToken,
		}, log.Named("journal"))
		if err != nil {
			return err
		}
		defer natsClient.Close()

		journal = natsclient.NewJournal(natsClient)
		if err := journal.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}
		sink = journal
	}

	// Realtime hub and journal queue
	hub := realtime.NewHub(cfg.HubPublishBuffer, log.Named("hub"))
	dispatcher := service.NewDispatcher(hub, sink, log.Named("dispatcher"))
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)
	go dispatcher.Run(hubCtx)

	// Initialize services
	tokens := auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiration)
	gate := service.NewGate(db, db)
	directory := service.NewDirectory(db, db, db, gate, log.Named("directory"))
	messages := service.NewLog(db, db, db, gate, dispatcher, cfg.MessageRetention, log.Named("messages"))

	router := handler.NewRouter(handler.RouterConfig{
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, tokens, handler.Handlers{
		Health:        handler.NewHealthHandler(db, natsClient, journal, log),
		Conversations: handler.NewConversationHandler(directory, log),
		Groups:        handler.NewGroupHandler(directory, log),
		Messages:      handler.NewMessageHandler(messages, log),
		Realtime: handler.NewRealtimeHandler(hub, tokens, handler.RealtimeConfig{
			AllowedOrigins: cfg.AllowedOrigins,
			SendBuffer:     cfg.WSSendBuffer,
			Session: realtime.SessionConfig{
				PingInterval:    cfg.WSPingInterval,
				MaxMessageBytes: cfg.WSMaxMessageBytes,
			},
		}, log),
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Websocket connections are hijacked and not tracked by Shutdown; they end when the process exits.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

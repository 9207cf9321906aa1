package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/parish-portal/internal/config"
	httptransport "github.com/example/parish-portal/internal/http"
	"github.com/example/parish-portal/internal/push"
	"github.com/example/parish-portal/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := config.LoadDotEnv(); err != nil {
		logger.Error("failed to read .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadServer()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:], cfg, time.Now(), os.Stdout); err != nil {
			logger.Error("failed to issue token", "error", err)
			os.Exit(2)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// issueToken prints a signed token so local clients can talk to the backend.
func issueToken(args []string, cfg config.ServerConfig, now time.Time, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	userID := fs.String("user", "", "user id carried in the token subject")
	churchID := fs.String("church", "", "church id carried in the church_id claim")
	ttl := fs.Duration("ttl", cfg.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}

	token, err := httptransport.IssueToken([]byte(cfg.JWTSecret), *userID, *churchID, now, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

type backend struct {
	handler http.Handler
	bus     *httptransport.EventBus
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// newBackend opens storage and the optional brokers and assembles the HTTP
// handler. Close releases everything it opened.
func newBackend(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*backend, error) {
	b := &backend{}

	storage, err := store.Open(cfg.SQLiteDSN, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	b.closers = append(b.closers, storage.Close)

	if err := storage.Migrate(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	var bridge httptransport.Bridge
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		channel, err := push.NewRedisChannel(client, cfg.RedisNamespace, logger)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		bridge = channel
		logger.Info("redis bridge enabled", "addr", cfg.RedisAddr)
	}

	var mirrors []push.Publisher
	if cfg.AMQPURL != "" {
		channel, err := push.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		b.closers = append(b.closers, channel.Close)
		mirrors = append(mirrors, channel)
		logger.Info("amqp mirror enabled")
	}

	hub := httptransport.NewHub(logger)
	b.bus = httptransport.NewEventBus(hub, bridge, logger, mirrors...)

	b.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Notifications: httptransport.NewNotificationHandler(storage, b.bus, logger),
		Schedules:     httptransport.NewScheduleHandler(storage, b.bus, logger),
		Hub:           hub,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequireToken([]byte(cfg.JWTSecret), logger),
		},
	})
	return b, nil
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	b, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.Error("failed to release resources", "error", cerr)
		}
	}()

	go func() {
		if err := b.bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event relay stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           b.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("parish dev backend listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

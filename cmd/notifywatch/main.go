// Command notifywatch mounts the notification engine against a backend and
// prints badge, toast and church events as they happen.
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
	"sync"
	"syscall"

	"github.com/example/parish-portal/internal/client"
	"github.com/example/parish-portal/internal/config"
	"github.com/example/parish-portal/internal/notification"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	once := flag.Bool("once", false, "print the current inbox and exit")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		logger.Error("failed to read .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, os.Stdout, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("notifywatch stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, once bool, out io.Writer, logger *slog.Logger) error {
	if cfg.UserID == "" {
		return errors.New("PARISH_USER_ID is required")
	}

	api, err := client.New(cfg.APIURL,
		client.WithToken(cfg.APIToken),
		client.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		client.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var channel notification.Channel
	if !once {
		ch, closeChannel, err := openChannel(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := closeChannel(); cerr != nil {
				logger.Warn("failed to close push channel", "error", cerr)
			}
		}()
		channel = ch
	}

	console := &console{out: out}
	engine, err := notification.New(api, notification.Options{
		UserID:              cfg.UserID,
		OrganizationID:      cfg.ChurchID,
		PollInterval:        cfg.PollInterval,
		Channel:             channel,
		Badge:               notification.BadgeFunc(console.badge),
		Notifier:            console,
		OnOrganizationEvent: console.organization,
		Logger:              logger,
	})
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		engine.Stop()
		<-engine.Done()
	}()

	select {
	case <-engine.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	if once {
		console.inbox(engine.Snapshot())
		return nil
	}
	<-ctx.Done()
	return nil
}

// console renders engine output as plain lines.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) badge(count int) {
	c.printf("unread: %d", count)
}

func (c *console) ShowToast(n notification.Notification) {
	c.printf("new: [%s] %s: %s", n.Kind, n.Title, n.Message)
}

func (c *console) PlaySound() {
	c.printf("\a")
}

func (c *console) organization(ev notification.Event) {
	c.printf("church event: %s on %s", ev.Type, ev.Topic)
}

func (c *console) inbox(state notification.State) {
	c.printf("unread: %d", state.UnreadCount)
	for _, n := range state.Notifications {
		marker := "*"
		if n.IsRead {
			marker = " "
		}
		c.printf("%s %s %s  %s", marker, n.CreatedAt.Format("2006-01-02 15:04"), n.ID, n.Title)
	}
}

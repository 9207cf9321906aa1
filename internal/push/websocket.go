package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/parish-portal/internal/logging"
	"github.com/example/parish-portal/internal/notification"
)

const (
	// DefaultMinBackoff is the first reconnect delay after a dropped socket.
	DefaultMinBackoff = 500 * time.Millisecond
	// DefaultMaxBackoff caps the reconnect delay.
	DefaultMaxBackoff = 30 * time.Second
)

// WebSocketChannel subscribes to topics over the backend websocket endpoint.
type WebSocketChannel struct {
	endpoint   *url.URL
	token      string
	dialer     *websocket.Dialer
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// WebSocketOption configures a WebSocketChannel.
type WebSocketOption func(*WebSocketChannel)

// WithWebSocketToken sets the bearer token sent during the handshake.
func WithWebSocketToken(token string) WebSocketOption {
	return func(c *WebSocketChannel) {
		c.token = strings.TrimSpace(token)
	}
}

// WithWebSocketLogger sets the base logger.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(c *WebSocketChannel) {
		c.logger = logger
	}
}

// WithBackoff overrides the reconnect delays.
func WithBackoff(minDelay, maxDelay time.Duration) WebSocketOption {
	return func(c *WebSocketChannel) {
		if minDelay > 0 {
			c.minBackoff = minDelay
		}
		if maxDelay >= c.minBackoff {
			c.maxBackoff = maxDelay
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) WebSocketOption {
	return func(c *WebSocketChannel) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// NewWebSocketChannel constructs a channel for endpoint, a ws:// or wss://
// URL. http(s) URLs are accepted and rewritten.
func NewWebSocketChannel(endpoint string, opts ...WebSocketOption) (*WebSocketChannel, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("push: invalid websocket url %q: %w", endpoint, err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return nil, fmt.Errorf("push: unsupported websocket scheme %q", parsed.Scheme)
	}

	c := &WebSocketChannel{
		endpoint:   parsed,
		dialer:     websocket.DefaultDialer,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.Default(c.logger)
	return c, nil
}

var _ notification.Channel = (*WebSocketChannel)(nil)

// Subscribe dials the endpoint for topic. The first dial is synchronous so a
// caller learns immediately when push is unavailable; later drops are
// retried with capped exponential backoff until the subscription is closed.
func (c *WebSocketChannel) Subscribe(ctx context.Context, topic string) (notification.Subscription, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("push: topic is required")
	}
	conn, err := c.dial(ctx, topic)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(func() error {
		cancel()
		return nil
	})
	go c.run(subCtx, sub, topic, conn)
	return sub, nil
}

func (c *WebSocketChannel) dial(ctx context.Context, topic string) (*websocket.Conn, error) {
	target := *c.endpoint
	query := target.Query()
	query.Set("topic", topic)
	target.RawQuery = query.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("push: dial %s: status %d: %w", topic, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("push: dial %s: %w", topic, err)
	}
	return conn, nil
}

func (c *WebSocketChannel) run(ctx context.Context, sub *subscription, topic string, conn *websocket.Conn) {
	defer sub.finish()
	logger := logging.Scoped(ctx, c.logger, "push.websocket", "subscribe", "topic", topic)

	for {
		err := c.pump(ctx, sub, conn, logger)
		if ctx.Err() != nil {
			return
		}
		logger.WarnContext(ctx, "websocket dropped, reconnecting", "error", err)

		conn = c.redial(ctx, topic, logger)
		if conn == nil {
			return
		}
		logger.InfoContext(ctx, "websocket reconnected")
	}
}

func (c *WebSocketChannel) pump(ctx context.Context, sub *subscription, conn *websocket.Conn, logger *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, body, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := Decode(body)
		if err != nil {
			logger.DebugContext(ctx, "dropping undecodable message", "error", err)
			continue
		}
		if !sub.deliver(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (c *WebSocketChannel) redial(ctx context.Context, topic string, logger *slog.Logger) *websocket.Conn {
	delay := c.minBackoff
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := c.dial(ctx, topic)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.DebugContext(ctx, "reconnect failed", "error", err, "retry_in", delay)

		delay *= 2
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
}

package main

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/redis/go-redis/v9"

	"github.com/example/parish-portal/internal/config"
	"github.com/example/parish-portal/internal/notification"
	"github.com/example/parish-portal/internal/push"
)

func noClose() error { return nil }

// openChannel picks the push transport from the scheme of cfg.PushURL. An
// empty URL leaves the engine on polling alone.
func openChannel(cfg config.Config, logger *slog.Logger) (notification.Channel, func() error, error) {
	if cfg.PushURL == "" {
		return nil, noClose, nil
	}
	parsed, err := url.Parse(cfg.PushURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid PARISH_PUSH_URL: %w", err)
	}

	switch parsed.Scheme {
	case "ws", "wss", "http", "https":
		channel, err := push.NewWebSocketChannel(cfg.PushURL,
			push.WithWebSocketToken(cfg.APIToken),
			push.WithWebSocketLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return channel, noClose, nil
	case "redis", "rediss":
		namespace := stripQuery(parsed, "namespace")
		opts, err := redis.ParseURL(parsed.String())
		if err != nil {
			return nil, nil, fmt.Errorf("invalid PARISH_PUSH_URL: %w", err)
		}
		client := redis.NewClient(opts)
		channel, err := push.NewRedisChannel(client, namespace, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return channel, client.Close, nil
	case "amqp", "amqps":
		exchange := stripQuery(parsed, "exchange")
		channel, err := push.DialAMQP(parsed.String(), exchange, logger)
		if err != nil {
			return nil, nil, err
		}
		return channel, channel.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported PARISH_PUSH_URL scheme %q", parsed.Scheme)
}

// stripQuery removes key from u and returns its value. The broker clients
// reject parameters they do not know.
func stripQuery(u *url.URL, key string) string {
	query := u.Query()
	value := query.Get(key)
	query.Del(key)
	u.RawQuery = query.Encode()
	return value
}

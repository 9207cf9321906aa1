package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/example/parish-portal/internal/logging"
	"github.com/example/parish-portal/internal/notification"
)

// DefaultRedisNamespace prefixes every Pub/Sub channel name.
const DefaultRedisNamespace = "parish:push"

// RedisChannel maps each topic onto a Redis Pub/Sub channel. It is both a
// notification.Channel and a Publisher, so backend instances can share events
// and clients on the same network can subscribe directly.
type RedisChannel struct {
	client    *redis.Client
	namespace string
	logger    *slog.Logger
}

// NewRedisChannel wraps client. An empty namespace selects
// DefaultRedisNamespace.
func NewRedisChannel(client *redis.Client, namespace string, logger *slog.Logger) (*RedisChannel, error) {
	if client == nil {
		return nil, errors.New("push: redis client is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisChannel{client: client, namespace: namespace, logger: logging.Default(logger)}, nil
}

var (
	_ notification.Channel = (*RedisChannel)(nil)
	_ Publisher            = (*RedisChannel)(nil)
)

func (c *RedisChannel) channelName(topic string) string {
	return c.namespace + ":" + topic
}

// Publish sends ev to the channel of its topic.
func (c *RedisChannel) Publish(ctx context.Context, ev notification.Event) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.channelName(ev.Topic), body).Err(); err != nil {
		return fmt.Errorf("push: redis publish %s: %w", ev.Topic, err)
	}
	return nil
}

// Subscribe listens on the channel of topic. The subscription is confirmed
// before Subscribe returns.
func (c *RedisChannel) Subscribe(ctx context.Context, topic string) (notification.Subscription, error) {
	name := c.channelName(topic)
	pubsub := c.client.Subscribe(ctx, name)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("push: redis subscribe %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(func() error {
		cancel()
		return nil
	})
	go c.run(subCtx, sub, pubsub, topic)
	return sub, nil
}

func (c *RedisChannel) run(ctx context.Context, sub *subscription, pubsub *redis.PubSub, topic string) {
	defer sub.finish()
	logger := logging.Scoped(ctx, c.logger, "push.redis", "subscribe", "topic", topic)

	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer stop()
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		ev, err := Decode([]byte(msg.Payload))
		if err != nil {
			logger.DebugContext(ctx, "dropping undecodable message", "error", err)
			continue
		}
		if !sub.deliver(ctx, ev) {
			return
		}
	}
}

// Listen pattern-subscribes to every topic under the namespace and calls
// handle for each decodable event until ctx is done.
func (c *RedisChannel) Listen(ctx context.Context, handle func(notification.Event)) error {
	pubsub := c.client.PSubscribe(ctx, c.namespace+":*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("push: redis listen: %w", err)
	}

	logger := logging.Scoped(ctx, c.logger, "push.redis", "listen")
	logger.InfoContext(ctx, "listening for bridged events", "pattern", c.namespace+":*")

	stop := context.AfterFunc(ctx, func() { _ = pubsub.Close() })
	defer stop()

	for msg := range pubsub.Channel() {
		ev, err := Decode([]byte(msg.Payload))
		if err != nil {
			logger.DebugContext(ctx, "dropping undecodable message", "channel", msg.Channel, "error", err)
			continue
		}
		handle(ev)
	}
	return ctx.Err()
}

package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/parish-portal/internal/logging"
	"github.com/example/parish-portal/internal/notification"
)

// DefaultExchange is the topic exchange used when none is configured.
const DefaultExchange = "parish.push"

// AMQPChannel publishes events to a RabbitMQ topic exchange and subscribes
// through exclusive auto-delete queues bound by topic.
type AMQPChannel struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	publish *amqp.Channel
}

// DialAMQP connects to uri and declares the exchange.
func DialAMQP(uri, exchange string, logger *slog.Logger) (*AMQPChannel, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("push: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("push: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("push: declare exchange %s: %w", exchange, err)
	}
	return &AMQPChannel{conn: conn, exchange: exchange, logger: logging.Default(logger), publish: ch}, nil
}

var (
	_ notification.Channel = (*AMQPChannel)(nil)
	_ Publisher            = (*AMQPChannel)(nil)
)

// RoutingKey maps a topic such as "user:42" onto an AMQP routing key.
func RoutingKey(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}

// Publish sends ev to the exchange with its topic as routing key.
func (c *AMQPChannel) Publish(ctx context.Context, ev notification.Event) error {
	body, err := Encode(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publish == nil {
		return errors.New("push: amqp channel closed")
	}
	err = c.publish.PublishWithContext(ctx, c.exchange, RoutingKey(ev.Topic), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("push: amqp publish %s: %w", ev.Topic, err)
	}
	return nil
}

// Subscribe declares a server-named queue for topic and consumes it.
func (c *AMQPChannel) Subscribe(ctx context.Context, topic string) (notification.Subscription, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("push: amqp channel: %w", err)
	}
	queue, err := ch.QueueDeclare(
		"",    // server named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("push: declare queue for %s: %w", topic, err)
	}
	if err := ch.QueueBind(queue.Name, RoutingKey(topic), c.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("push: bind %s: %w", topic, err)
	}
	msgs, err := ch.Consume(
		queue.Name,
		"",    // consumer
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("push: consume %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(func() error {
		cancel()
		return nil
	})
	go c.run(subCtx, sub, ch, msgs, topic)
	return sub, nil
}

func (c *AMQPChannel) run(ctx context.Context, sub *subscription, ch *amqp.Channel, msgs <-chan amqp.Delivery, topic string) {
	defer sub.finish()
	defer ch.Close()
	logger := logging.Scoped(ctx, c.logger, "push.amqp", "subscribe", "topic", topic)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.InfoContext(ctx, "amqp delivery channel closed")
				return
			}
			ev, err := Decode(msg.Body)
			if err != nil {
				logger.DebugContext(ctx, "dropping undecodable message", "error", err)
				continue
			}
			if !sub.deliver(ctx, ev) {
				return
			}
		}
	}
}

// Close releases the publishing channel and the connection.
func (c *AMQPChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publish != nil {
		_ = c.publish.Close()
		c.publish = nil
	}
	return c.conn.Close()
}

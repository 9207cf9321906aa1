package http

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/parish-portal/internal/logging"
	"github.com/example/parish-portal/internal/notification"
	"github.com/example/parish-portal/internal/push"
)

// Bridge shares events between backend instances. Every instance publishes
// to the bridge and replays what it hears into its own hub.
type Bridge interface {
	push.Publisher
	Listen(ctx context.Context, handle func(notification.Event)) error
}

// EventBus is the publisher handlers write to. Without a bridge it delivers
// straight to the local hub; with one, delivery happens when the bridge
// echoes the event back. Mirrors receive every event as well.
type EventBus struct {
	hub     *Hub
	bridge  Bridge
	mirrors []push.Publisher
	logger  *slog.Logger
}

// NewEventBus wires hub to an optional bridge and extra mirrors.
func NewEventBus(hub *Hub, bridge Bridge, logger *slog.Logger, mirrors ...push.Publisher) *EventBus {
	return &EventBus{hub: hub, bridge: bridge, mirrors: mirrors, logger: logging.Default(logger)}
}

var _ push.Publisher = (*EventBus)(nil)

// Publish sends ev to the bridge or the hub, then to every mirror.
func (b *EventBus) Publish(ctx context.Context, ev notification.Event) error {
	var errs []error
	if b.bridge != nil {
		if err := b.bridge.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	} else if b.hub != nil {
		if err := b.hub.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	for _, mirror := range b.mirrors {
		if mirror == nil {
			continue
		}
		if err := mirror.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run replays bridge events into the hub until ctx is done. It returns
// immediately when no bridge is configured.
func (b *EventBus) Run(ctx context.Context) error {
	if b.bridge == nil || b.hub == nil {
		return nil
	}
	logger := logging.Scoped(ctx, b.logger, "bus", "relay")
	return b.bridge.Listen(ctx, func(ev notification.Event) {
		if err := b.hub.Publish(ctx, ev); err != nil {
			logger.WarnContext(ctx, "failed to relay event", "topic", ev.Topic, "error", err)
		}
	})
}

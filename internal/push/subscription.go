package push

import (
	"context"
	"sync"

	"github.com/example/parish-portal/internal/notification"
)

const eventBuffer = 64

// subscription is the notification.Subscription shared by every transport.
// The transport goroutine owns events and done and closes both on exit.
type subscription struct {
	events  chan notification.Event
	done    chan struct{}
	once    sync.Once
	closeFn func() error
	err     error
}

func newSubscription(closeFn func() error) *subscription {
	return &subscription{
		events:  make(chan notification.Event, eventBuffer),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}
}

func (s *subscription) Events() <-chan notification.Event {
	return s.events
}

// Close stops the transport goroutine and waits for it to exit.
func (s *subscription) Close() error {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	<-s.done
	return s.err
}

func (s *subscription) deliver(ctx context.Context, ev notification.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *subscription) finish() {
	close(s.events)
	close(s.done)
}

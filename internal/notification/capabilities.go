package notification

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a push channel event.
type EventType string

const (
	EventCreated EventType = "notification.created"
	EventRead    EventType = "notification.read"
	EventReadAll EventType = "notification.read_all"
	EventDeleted EventType = "notification.deleted"
)

// Event is a message received from a push channel.
type Event struct {
	Type  EventType
	Topic string
	// Notification is set for EventCreated.
	Notification *Notification
	// ID is set for EventRead and EventDeleted.
	ID string
	At time.Time
	// Data is the undecoded body, kept for consumers of organisation topics.
	Data json.RawMessage
}

// Action maps a user-topic event onto the reducer. Events without a
// timestamp are stamped with now, or time.Now when now is nil. Unknown or
// incomplete events report false.
func (e Event) Action(now func() time.Time) (Action, bool) {
	at := e.At
	if at.IsZero() {
		if now == nil {
			now = time.Now
		}
		at = now()
	}
	switch e.Type {
	case EventCreated:
		if e.Notification == nil || e.Notification.ID == "" {
			return nil, false
		}
		return Created{Notification: *e.Notification}, true
	case EventRead:
		if e.ID == "" {
			return nil, false
		}
		return Read{ID: e.ID, At: at}, true
	case EventReadAll:
		return ReadAll{At: at}, true
	case EventDeleted:
		if e.ID == "" {
			return nil, false
		}
		return Deleted{ID: e.ID}, true
	}
	return nil, false
}

// UserTopic is the push topic carrying one user's notification events.
func UserTopic(userID string) string {
	return "user:" + userID
}

// OrganizationTopic is the push topic carrying church-wide events.
func OrganizationTopic(churchID string) string {
	return "church:" + churchID
}

// API is the backend the engine reads from and writes to.
type API interface {
	List(ctx context.Context) ([]Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// Channel is an optional push transport.
type Channel interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription delivers the events of one topic until closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// BadgeSink renders the unread counter somewhere visible, such as a window
// title or a tray icon.
type BadgeSink interface {
	SetBadge(count int)
}

// BadgeFunc adapts a function to BadgeSink.
type BadgeFunc func(count int)

// SetBadge calls f(count).
func (f BadgeFunc) SetBadge(count int) { f(count) }

// Notifier surfaces new notifications to the user. Implementations must not
// block for long; failures such as denied permissions are swallowed.
type Notifier interface {
	ShowToast(n Notification)
	PlaySound()
}

// PermissionRequester is implemented by notifiers that need consent before
// their first toast. The engine asks once per start.
type PermissionRequester interface {
	RequestPermission(ctx context.Context)
}

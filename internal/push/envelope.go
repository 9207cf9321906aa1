// Package push carries notification events between the backend and its
// clients. Every transport exchanges the same JSON envelope.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/parish-portal/internal/notification"
)

// ErrMalformed is returned by Decode for envelopes that cannot be mapped onto
// an event.
var ErrMalformed = errors.New("push: malformed envelope")

// Envelope is the wire shape of a push message.
type Envelope struct {
	Type   notification.EventType `json:"type"`
	Topic  string                 `json:"topic"`
	Data   json.RawMessage        `json:"data,omitempty"`
	SentAt time.Time              `json:"sent_at"`
}

// Publisher sends events to every subscriber of the event topic.
type Publisher interface {
	Publish(ctx context.Context, ev notification.Event) error
}

type refBody struct {
	ID     string     `json:"id"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// Encode serialises ev into an envelope.
func Encode(ev notification.Event) ([]byte, error) {
	if ev.Type == "" || ev.Topic == "" {
		return nil, fmt.Errorf("%w: type and topic are required", ErrMalformed)
	}
	env := Envelope{Type: ev.Type, Topic: ev.Topic, SentAt: ev.At.UTC()}
	if env.SentAt.IsZero() {
		env.SentAt = time.Now().UTC()
	}

	var (
		data []byte
		err  error
	)
	switch {
	case ev.Type == notification.EventCreated && ev.Notification != nil:
		data, err = json.Marshal(ev.Notification)
	case ev.Type == notification.EventRead:
		at := env.SentAt
		data, err = json.Marshal(refBody{ID: ev.ID, ReadAt: &at})
	case ev.Type == notification.EventDeleted:
		data, err = json.Marshal(refBody{ID: ev.ID})
	default:
		data = ev.Data
	}
	if err != nil {
		return nil, fmt.Errorf("push: encode %s data: %w", ev.Type, err)
	}
	env.Data = data
	return json.Marshal(env)
}

// Decode parses an envelope into an event. Notification events get their
// typed fields filled in; any other type is passed through with its raw data.
func Decode(body []byte) (notification.Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return notification.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return notification.Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	ev := notification.Event{Type: env.Type, Topic: env.Topic, At: env.SentAt, Data: env.Data}
	switch env.Type {
	case notification.EventCreated:
		var n notification.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return notification.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		ev.Notification = &n
	case notification.EventRead, notification.EventDeleted:
		var ref refBody
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			return notification.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		ev.ID = ref.ID
		if ref.ReadAt != nil {
			ev.At = *ref.ReadAt
		}
	}
	return ev, nil
}

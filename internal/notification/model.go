package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind enumerates the notification types the backend emits.
type Kind string

const (
	KindAppointmentCreated       Kind = "appointment_created"
	KindAppointmentStatusChanged Kind = "appointment_status_changed"
	KindRequirementReminder      Kind = "requirement_reminder"
	KindMemberApplication        Kind = "member_application"
	KindApplicationApproved      Kind = "member_application_approved"
	KindApplicationRejected      Kind = "member_application_rejected"
)

// Payload is the kind-specific body of a notification. The concrete type is
// selected by the notification Kind.
type Payload interface {
	payload()
}

// AppointmentPayload accompanies appointment notifications.
type AppointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status,omitempty"`
}

// RequirementPayload accompanies requirement reminders.
type RequirementPayload struct {
	AppointmentID string `json:"appointment_id"`
	RequirementID string `json:"requirement_id,omitempty"`
}

// ApplicationPayload accompanies member application notifications.
type ApplicationPayload struct {
	ApplicationID string `json:"application_id"`
}

// RawPayload keeps the body of kinds this client does not know yet.
type RawPayload struct {
	JSON json.RawMessage
}

func (AppointmentPayload) payload() {}
func (RequirementPayload) payload() {}
func (ApplicationPayload) payload() {}
func (RawPayload) payload()         {}

// MarshalJSON writes the raw body back unchanged.
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p.JSON) == 0 {
		return []byte("null"), nil
	}
	return p.JSON, nil
}

// Notification is a server-originated event record addressed to one user.
type Notification struct {
	ID        string
	Kind      Kind
	Title     string
	Message   string
	IsRead    bool
	ReadAt    *time.Time
	CreatedAt time.Time
	Data      Payload
}

type wireNotification struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	IsRead    bool            `json:"is_read"`
	ReadAt    *time.Time      `json:"read_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the notification in the backend wire shape.
func (n Notification) MarshalJSON() ([]byte, error) {
	wire := wireNotification{
		ID:        n.ID,
		Kind:      n.Kind,
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.IsRead,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
	if n.Data != nil {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return nil, fmt.Errorf("notification: encode data: %w", err)
		}
		wire.Data = data
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the backend wire shape and selects the payload type
// from the "type" field.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var wire wireNotification
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := DecodePayload(wire.Kind, wire.Data)
	if err != nil {
		return err
	}
	*n = Notification{
		ID:        wire.ID,
		Kind:      wire.Kind,
		Title:     wire.Title,
		Message:   wire.Message,
		IsRead:    wire.IsRead,
		ReadAt:    wire.ReadAt,
		CreatedAt: wire.CreatedAt,
		Data:      payload,
	}
	return nil
}

// DecodePayload builds the payload matching kind from its JSON body. A
// missing body yields a nil payload.
func DecodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var target Payload
	switch kind {
	case KindAppointmentCreated, KindAppointmentStatusChanged:
		var p AppointmentPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("notification: decode %s data: %w", kind, err)
		}
		target = p
	case KindRequirementReminder:
		var p RequirementPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("notification: decode %s data: %w", kind, err)
		}
		target = p
	case KindMemberApplication, KindApplicationApproved, KindApplicationRejected:
		var p ApplicationPayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("notification: decode %s data: %w", kind, err)
		}
		target = p
	default:
		target = RawPayload{JSON: append(json.RawMessage(nil), trimmed...)}
	}
	return target, nil
}

func cloneNotifications(list []Notification) []Notification {
	if len(list) == 0 {
		return nil
	}
	out := make([]Notification, len(list))
	copy(out, list)
	return out
}

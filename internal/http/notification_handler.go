package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/parish-portal/internal/notification"
	"github.com/example/parish-portal/internal/push"
	"github.com/example/parish-portal/internal/store"
)

type notificationStore interface {
	Create(ctx context.Context, in store.NewNotification) (notification.Notification, error)
	List(ctx context.Context, userID string, limit int) ([]notification.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) (notification.Notification, bool, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, userID, id string) error
}

var errInvalidLimit = errors.New("limit must be a positive integer")

// NotificationHandler serves the per-user notification endpoints and
// publishes a push event for every mutation that changed something.
type NotificationHandler struct {
	store     notificationStore
	publisher push.Publisher
	now       func() time.Time
	responder responder
	logger    *slog.Logger
}

// NewNotificationHandler wires s and publisher. A nil publisher disables
// push events.
func NewNotificationHandler(s notificationStore, publisher push.Publisher, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		store:     s,
		publisher: publisher,
		now:       time.Now,
		responder: newResponder(logger),
		logger:    logger,
	}
}

type createNotificationRequest struct {
	UserID  string            `json:"user_id"`
	Kind    notification.Kind `json:"type"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data,omitempty"`
}

type countResponse struct {
	Count int `json:"count"`
}

type readAllResponse struct {
	Updated int `json:"updated"`
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = parsed
	}

	list, err := h.store.List(r.Context(), principal.UserID, limit)
	if err != nil {
		h.fail(r, w, "list", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, list)
}

// Create stores a notification for the user named in the body, or for the
// caller when the body names nobody.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req createNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = principal.UserID
	}

	payload, err := notification.DecodePayload(req.Kind, req.Data)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	created, err := h.store.Create(r.Context(), store.NewNotification{
		UserID:  userID,
		Kind:    req.Kind,
		Title:   req.Title,
		Message: req.Message,
		Data:    payload,
	})
	if err != nil {
		h.fail(r, w, "create", err)
		return
	}

	h.publish(r.Context(), notification.Event{
		Type:         notification.EventCreated,
		Topic:        notification.UserTopic(userID),
		Notification: &created,
		ID:           created.ID,
		At:           created.CreatedAt,
	})
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, created)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	count, err := h.store.UnreadCount(r.Context(), principal.UserID)
	if err != nil {
		h.fail(r, w, "unread_count", err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, countResponse{Count: count})
}

// MarkRead flips one notification. Only a real unread to read transition
// is announced on the push channel.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := NotificationIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidID)
		return
	}

	updated, flipped, err := h.store.MarkRead(r.Context(), principal.UserID, id)
	if err != nil {
		h.fail(r, w, "mark_read", err)
		return
	}
	if flipped {
		at := h.now().UTC()
		if updated.ReadAt != nil {
			at = *updated.ReadAt
		}
		h.publish(r.Context(), notification.Event{
			Type:  notification.EventRead,
			Topic: notification.UserTopic(principal.UserID),
			ID:    updated.ID,
			At:    at,
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, updated)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	updated, err := h.store.MarkAllRead(r.Context(), principal.UserID)
	if err != nil {
		h.fail(r, w, "mark_all_read", err)
		return
	}
	if updated > 0 {
		h.publish(r.Context(), notification.Event{
			Type:  notification.EventReadAll,
			Topic: notification.UserTopic(principal.UserID),
			At:    h.now().UTC(),
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, readAllResponse{Updated: updated})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := NotificationIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidID)
		return
	}

	if err := h.store.Delete(r.Context(), principal.UserID, id); err != nil {
		h.fail(r, w, "delete", err)
		return
	}
	h.publish(r.Context(), notification.Event{
		Type:  notification.EventDeleted,
		Topic: notification.UserTopic(principal.UserID),
		ID:    id,
		At:    h.now().UTC(),
	})
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *NotificationHandler) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return Principal{}, false
	}
	principal, ok := PrincipalFromContext(r.Context())
	if !ok || principal.UserID == "" {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingPrincipal)
		return Principal{}, false
	}
	return principal, true
}

func (h *NotificationHandler) fail(r *http.Request, w http.ResponseWriter, operation string, err error) {
	handlerLogger(r.Context(), h.logger, "notifications", operation).
		WarnContext(r.Context(), "notification request failed", "error", err, "error_kind", storeErrorKind(err))
	h.responder.handleStoreError(r.Context(), w, err)
}

// publish is best effort; the mutation already committed.
func (h *NotificationHandler) publish(ctx context.Context, ev notification.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, ev); err != nil {
		handlerLogger(ctx, h.logger, "notifications", "publish", "topic", ev.Topic).
			WarnContext(ctx, "failed to publish event", "type", ev.Type, "error", err)
	}
}

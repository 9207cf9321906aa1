package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/parish-portal/internal/notification"
	"github.com/example/parish-portal/internal/push"
	"github.com/example/parish-portal/internal/recurrence"
)

type scheduleStore interface {
	ListSchedules(ctx context.Context, churchID string) ([]recurrence.Schedule, error)
	PutSchedule(ctx context.Context, churchID string, schedule recurrence.Schedule) (recurrence.Schedule, error)
}

// EventScheduleUpdated is published on the church topic whenever a schedule
// is stored.
const EventScheduleUpdated notification.EventType = "schedule.updated"

// ScheduleHandler exposes the schedules of the caller's church.
type ScheduleHandler struct {
	store     scheduleStore
	publisher push.Publisher
	responder responder
	logger    *slog.Logger
}

func NewScheduleHandler(s scheduleStore, publisher push.Publisher, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{store: s, publisher: publisher, responder: newResponder(logger), logger: logger}
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	churchID, ok := h.church(w, r)
	if !ok {
		return
	}
	schedules, err := h.store.ListSchedules(r.Context(), churchID)
	if err != nil {
		handlerLogger(r.Context(), h.logger, "schedules", "list").
			WarnContext(r.Context(), "failed to list schedules", "error", err, "error_kind", storeErrorKind(err))
		h.responder.handleStoreError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, schedules)
}

// Put stores the schedule in the body and tells the church topic about it.
func (h *ScheduleHandler) Put(w http.ResponseWriter, r *http.Request) {
	churchID, ok := h.church(w, r)
	if !ok {
		return
	}

	var schedule recurrence.Schedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	stored, err := h.store.PutSchedule(r.Context(), churchID, schedule)
	if err != nil {
		handlerLogger(r.Context(), h.logger, "schedules", "put").
			WarnContext(r.Context(), "failed to store schedule", "error", err, "error_kind", storeErrorKind(err))
		h.responder.handleStoreError(r.Context(), w, err)
		return
	}

	if h.publisher != nil {
		data, err := json.Marshal(stored)
		if err == nil {
			err = h.publisher.Publish(r.Context(), notification.Event{
				Type:  EventScheduleUpdated,
				Topic: notification.OrganizationTopic(churchID),
				ID:    stored.ID,
				At:    time.Now().UTC(),
				Data:  data,
			})
		}
		if err != nil {
			handlerLogger(r.Context(), h.logger, "schedules", "publish").
				WarnContext(r.Context(), "failed to publish schedule update", "error", err)
		}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, stored)
}

func (h *ScheduleHandler) church(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h == nil || h.store == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", false
	}
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingPrincipal)
		return "", false
	}
	if principal.ChurchID == "" {
		h.responder.writeError(r.Context(), w, http.StatusForbidden, errMissingChurchClaim)
		return "", false
	}
	return principal.ChurchID, true
}

package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/parish-portal/internal/notification"
	"github.com/example/parish-portal/internal/recurrence"
)

var (
	notificationCounter uint64
	scheduleCounter     uint64
)

var referenceTime = time.Date(2025, time.March, 2, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// -------------------------- Notification fixtures --------------------------

// NotificationFixture represents a deterministic notification addressed to a
// single user.
type NotificationFixture struct {
	ID        string
	UserID    string
	Kind      notification.Kind
	Title     string
	Message   string
	IsRead    bool
	CreatedAt time.Time
	Data      notification.Payload
}

// NotificationOption configures the generated notification fixture.
type NotificationOption func(*NotificationFixture)

// NewNotificationFixture returns a deterministic unread appointment
// notification with optional overrides.
func NewNotificationFixture(opts ...NotificationOption) NotificationFixture {
	idx := atomic.AddUint64(&notificationCounter, 1)
	id := fmt.Sprintf("ntf-%03d", idx)
	fixture := NotificationFixture{
		ID:        id,
		UserID:    "user-001",
		Kind:      notification.KindAppointmentCreated,
		Title:     fmt.Sprintf("Appointment %03d booked", idx),
		Message:   "Your request was received by the parish office.",
		CreatedAt: referenceTime.Add(time.Duration(idx) * time.Minute),
		Data:      notification.AppointmentPayload{AppointmentID: fmt.Sprintf("apt-%03d", idx)},
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithNotificationID overrides the generated identifier.
func WithNotificationID(id string) NotificationOption {
	return func(f *NotificationFixture) {
		f.ID = id
	}
}

// WithNotificationUser overrides the addressee.
func WithNotificationUser(userID string) NotificationOption {
	return func(f *NotificationFixture) {
		f.UserID = userID
	}
}

// WithNotificationKind overrides the kind and clears the payload when it no
// longer matches.
func WithNotificationKind(kind notification.Kind) NotificationOption {
	return func(f *NotificationFixture) {
		f.Kind = kind
		switch kind {
		case notification.KindAppointmentCreated, notification.KindAppointmentStatusChanged:
		default:
			f.Data = nil
		}
	}
}

// WithNotificationRead marks the fixture read.
func WithNotificationRead() NotificationOption {
	return func(f *NotificationFixture) {
		f.IsRead = true
	}
}

// WithNotificationCreatedAt sets the creation timestamp.
func WithNotificationCreatedAt(t time.Time) NotificationOption {
	return func(f *NotificationFixture) {
		f.CreatedAt = t
	}
}

// WithNotificationData sets the payload.
func WithNotificationData(data notification.Payload) NotificationOption {
	return func(f *NotificationFixture) {
		f.Data = data
	}
}

// Notification returns the fixture as a notification.Notification.
func (f NotificationFixture) Notification() notification.Notification {
	n := notification.Notification{
		ID:        f.ID,
		Kind:      f.Kind,
		Title:     f.Title,
		Message:   f.Message,
		IsRead:    f.IsRead,
		CreatedAt: f.CreatedAt,
		Data:      f.Data,
	}
	if f.IsRead {
		readAt := f.CreatedAt.Add(time.Hour)
		n.ReadAt = &readAt
	}
	return n
}

// Notifications builds count fixtures, newest first, applying opts to each.
func Notifications(count int, opts ...NotificationOption) []notification.Notification {
	list := make([]notification.Notification, count)
	for i := range list {
		list[count-1-i] = NewNotificationFixture(opts...).Notification()
	}
	return list
}

// ---------------------------- Schedule fixtures ----------------------------

// ScheduleFixture represents a deterministic bookable schedule.
type ScheduleFixture struct {
	ID         string
	StartDate  recurrence.Date
	EndDate    *recurrence.Date
	Capacity   int
	Remaining  int
	Rules      []recurrence.Rule
	TimeRanges []recurrence.TimeRange
	Fees       []recurrence.Fee
}

// ScheduleOption configures the generated schedule fixture.
type ScheduleOption func(*ScheduleFixture)

// NewScheduleFixture returns an open ended Sunday schedule starting on the
// reference date with a single morning window.
func NewScheduleFixture(opts ...ScheduleOption) ScheduleFixture {
	idx := atomic.AddUint64(&scheduleCounter, 1)
	fixture := ScheduleFixture{
		ID:         fmt.Sprintf("sch-%03d", idx),
		StartDate:  recurrence.DateOf(referenceTime, time.UTC),
		Capacity:   10,
		Remaining:  10,
		Rules:      []recurrence.Rule{{Type: recurrence.RuleWeekly, DayOfWeek: int(time.Sunday)}},
		TimeRanges: []recurrence.TimeRange{{Start: "09:00", End: "10:00"}},
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithScheduleID overrides the generated identifier.
func WithScheduleID(id string) ScheduleOption {
	return func(f *ScheduleFixture) {
		f.ID = id
	}
}

// WithScheduleBounds sets the active period. A zero end leaves it open.
func WithScheduleBounds(start, end recurrence.Date) ScheduleOption {
	return func(f *ScheduleFixture) {
		f.StartDate = start
		if end.IsZero() {
			f.EndDate = nil
			return
		}
		f.EndDate = &end
	}
}

// WithScheduleRules replaces the recurrence rules.
func WithScheduleRules(rules ...recurrence.Rule) ScheduleOption {
	return func(f *ScheduleFixture) {
		f.Rules = rules
	}
}

// WithScheduleTimeRanges replaces the daily windows.
func WithScheduleTimeRanges(ranges ...recurrence.TimeRange) ScheduleOption {
	return func(f *ScheduleFixture) {
		f.TimeRanges = ranges
	}
}

// WithScheduleFee appends a fee.
func WithScheduleFee(name string, amount int64) ScheduleOption {
	return func(f *ScheduleFixture) {
		f.Fees = append(f.Fees, recurrence.Fee{Name: name, Amount: amount, Currency: "PHP"})
	}
}

// Schedule returns the fixture as a recurrence.Schedule.
func (f ScheduleFixture) Schedule() recurrence.Schedule {
	return recurrence.Schedule{
		ID:             f.ID,
		StartDate:      f.StartDate,
		EndDate:        f.EndDate,
		SlotCapacity:   f.Capacity,
		RemainingSlots: f.Remaining,
		Rules:          append([]recurrence.Rule(nil), f.Rules...),
		TimeRanges:     append([]recurrence.TimeRange(nil), f.TimeRanges...),
		Fees:           append([]recurrence.Fee(nil), f.Fees...),
	}
}

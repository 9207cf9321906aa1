package recurrence

// RuleType identifies how a Rule selects calendar dates.
type RuleType string

const (
	// RuleWeekly selects every date falling on DayOfWeek.
	RuleWeekly RuleType = "weekly"
	// RuleNthWeekdayOfMonth selects the WeekOfMonth-th DayOfWeek of each month.
	RuleNthWeekdayOfMonth RuleType = "nth_weekday_of_month"
	// RuleOneTime selects SpecificDate only.
	RuleOneTime RuleType = "one_time"
)

// LastWeekOfMonth is the WeekOfMonth value selecting the last occurrence of a
// weekday in its month. A WeekOfMonth of 5 is treated the same way, so it also
// matches in months with only four occurrences.
const LastWeekOfMonth = -1

// Rule describes which calendar dates a schedule applies to. Only the fields
// relevant to Type are consulted.
type Rule struct {
	Type         RuleType `json:"type"`
	DayOfWeek    int      `json:"day_of_week"`
	WeekOfMonth  int      `json:"week_of_month,omitempty"`
	SpecificDate Date     `json:"specific_date,omitempty"`
}

// TimeRange is a daily time window expressed as "15:04" clock values.
type TimeRange struct {
	Start string `json:"start_time"`
	End   string `json:"end_time"`
}

// Fee is a charge attached to a schedule, in minor currency units.
type Fee struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// Schedule is the read model of a bookable offering (a mass intention slot,
// a baptism seminar, a confession window) as served by the backend.
type Schedule struct {
	ID             string      `json:"id"`
	StartDate      Date        `json:"start_date"`
	EndDate        *Date       `json:"end_date,omitempty"`
	SlotCapacity   int         `json:"slot_capacity"`
	RemainingSlots int         `json:"remaining_slots"`
	Rules          []Rule      `json:"recurrences"`
	TimeRanges     []TimeRange `json:"time_ranges"`
	Fees           []Fee       `json:"fees,omitempty"`
}

// IsActive reports whether today falls within [StartDate, EndDate]. An open
// ended schedule stays active from StartDate onwards.
func (s Schedule) IsActive(today Date) bool {
	return s.covers(today)
}

func (s Schedule) covers(date Date) bool {
	if !s.StartDate.IsZero() && date.Before(s.StartDate) {
		return false
	}
	if s.EndDate != nil && !s.EndDate.IsZero() && date.After(*s.EndDate) {
		return false
	}
	return true
}

// Options narrows date checks beyond the schedule's own bounds.
type Options struct {
	// Cutoff, when set, rejects every date on or after it. It is used for
	// sub-services that must happen strictly before a parent appointment.
	Cutoff *Date
}

func (o Options) rejects(date Date) bool {
	return o.Cutoff != nil && !o.Cutoff.IsZero() && !date.Before(*o.Cutoff)
}

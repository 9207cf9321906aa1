package recurrence

import (
	"errors"
	"sort"
	"time"
)

// ErrInvalidWindow indicates the generation window ends before it starts.
var ErrInvalidWindow = errors.New("recurrence: generation window ends before it starts")

// ErrInvalidTimeRange indicates a schedule time range is unparsable or empty.
var ErrInvalidTimeRange = errors.New("recurrence: time range must be HH:MM with end after start")

// Matches reports whether rule selects date. Unknown rule types and out of
// range fields never match; the predicate never panics so it is safe on a
// calendar render path.
func Matches(rule Rule, date Date) bool {
	switch rule.Type {
	case RuleWeekly:
		return validWeekday(rule.DayOfWeek) && int(date.Weekday()) == rule.DayOfWeek
	case RuleNthWeekdayOfMonth:
		if !validWeekday(rule.DayOfWeek) || int(date.Weekday()) != rule.DayOfWeek {
			return false
		}
		switch {
		case rule.WeekOfMonth == LastWeekOfMonth || rule.WeekOfMonth == 5:
			return date.Day+7 > date.DaysInMonth()
		case rule.WeekOfMonth >= 1 && rule.WeekOfMonth <= 4:
			return (date.Day+6)/7 == rule.WeekOfMonth
		}
		return false
	case RuleOneTime:
		return !rule.SpecificDate.IsZero() && date.Equal(rule.SpecificDate)
	}
	return false
}

// IsDateWithinSchedule reports whether the schedule admits date: the date
// must fall inside the schedule bounds, before the optional cutoff, and match
// at least one rule. A schedule without rules admits every date in bounds.
func IsDateWithinSchedule(schedule Schedule, date Date, opts Options) bool {
	if opts.rejects(date) || !schedule.covers(date) {
		return false
	}
	if len(schedule.Rules) == 0 {
		return true
	}
	for _, rule := range schedule.Rules {
		if Matches(rule, date) {
			return true
		}
	}
	return false
}

// DateAllowed reports whether any of schedules admits date. With no
// schedules at all every date passes, subject only to the cutoff.
func DateAllowed(schedules []Schedule, date Date, opts Options) bool {
	if opts.rejects(date) {
		return false
	}
	if len(schedules) == 0 {
		return true
	}
	for _, schedule := range schedules {
		if IsDateWithinSchedule(schedule, date, opts) {
			return true
		}
	}
	return false
}

func validWeekday(day int) bool {
	return day >= int(time.Sunday) && day <= int(time.Saturday)
}

// Occurrence is a concrete dated slot produced from a schedule time range.
type Occurrence struct {
	ScheduleID string
	Date       Date
	Start      time.Time
	End        time.Time
}

// Matcher evaluates rules against instants by first reducing them to the
// calendar date observed in its location.
type Matcher struct {
	location *time.Location
}

// NewMatcher constructs a Matcher for loc. If loc is nil, time.Local is used.
func NewMatcher(loc *time.Location) *Matcher {
	if loc == nil {
		loc = time.Local
	}
	return &Matcher{location: loc}
}

// Location returns the zone candidates are normalised to.
func (m *Matcher) Location() *time.Location {
	if m == nil || m.location == nil {
		return time.Local
	}
	return m.location
}

// Today returns the calendar date of now in the matcher location.
func (m *Matcher) Today(now time.Time) Date {
	return DateOf(now, m.Location())
}

// Matches is Matches for an instant.
func (m *Matcher) Matches(rule Rule, candidate time.Time) bool {
	return Matches(rule, DateOf(candidate, m.Location()))
}

// IsDateWithinSchedule is IsDateWithinSchedule for an instant.
func (m *Matcher) IsDateWithinSchedule(schedule Schedule, candidate time.Time, opts Options) bool {
	return IsDateWithinSchedule(schedule, DateOf(candidate, m.Location()), opts)
}

// DateAllowed is DateAllowed for an instant.
func (m *Matcher) DateAllowed(schedules []Schedule, candidate time.Time, opts Options) bool {
	return DateAllowed(schedules, DateOf(candidate, m.Location()), opts)
}

// MonthAvailability lists the dates of the given month admitted by
// schedules, in ascending order.
func (m *Matcher) MonthAvailability(schedules []Schedule, year int, month time.Month, opts Options) []Date {
	first := NewDate(year, month, 1)
	days := first.DaysInMonth()
	available := make([]Date, 0, days)
	for day := 0; day < days; day++ {
		date := first.AddDays(day)
		if DateAllowed(schedules, date, opts) {
			available = append(available, date)
		}
	}
	return available
}

// GenerateOccurrences expands schedule into dated slots between from and to
// inclusive.
//
// The window is clipped to the schedule's own bounds, every slot is built in
// the matcher location, and one occurrence is produced per time range on each
// admitted date. Occurrences are ordered by start time.
func (m *Matcher) GenerateOccurrences(schedule Schedule, from, to Date) ([]Occurrence, error) {
	if to.Before(from) {
		return nil, ErrInvalidWindow
	}

	type window struct {
		startMinute int
		endMinute   int
	}
	windows := make([]window, 0, len(schedule.TimeRanges))
	for _, tr := range schedule.TimeRanges {
		start, err := parseClock(tr.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseClock(tr.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, ErrInvalidTimeRange
		}
		windows = append(windows, window{startMinute: start, endMinute: end})
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].startMinute < windows[j].startMinute })

	lower := from
	if !schedule.StartDate.IsZero() && lower.Before(schedule.StartDate) {
		lower = schedule.StartDate
	}
	upper := to
	if schedule.EndDate != nil && !schedule.EndDate.IsZero() && upper.After(*schedule.EndDate) {
		upper = *schedule.EndDate
	}
	if lower.After(upper) {
		return nil, nil
	}

	loc := m.Location()
	occurrences := make([]Occurrence, 0)
	for current := lower; !current.After(upper); current = current.AddDays(1) {
		if !IsDateWithinSchedule(schedule, current, Options{}) {
			continue
		}
		for _, w := range windows {
			occurrences = append(occurrences, Occurrence{
				ScheduleID: schedule.ID,
				Date:       current,
				Start:      time.Date(current.Year, current.Month, current.Day, 0, w.startMinute, 0, 0, loc),
				End:        time.Date(current.Year, current.Month, current.Day, 0, w.endMinute, 0, 0, loc),
			})
		}
	}

	return occurrences, nil
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		if parsed, err = time.Parse("15:04:05", value); err != nil {
			return 0, ErrInvalidTimeRange
		}
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

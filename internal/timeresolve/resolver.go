// Package timeresolve turns the time strings produced by extraction into
// absolute instants in the assistant's home timezone.
package timeresolve

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is the assistant's home zone when none is configured.
const DefaultTimezone = "Asia/Phnom_Penh"

// layout is one accepted encoding. dateOnly layouts default to noon and
// clockOnly layouts take the date of the reference instant.
type layout struct {
	format    string
	dateOnly  bool
	clockOnly bool
}

var layouts = []layout{
	{format: "2006-01-02 15:04"},
	{format: "2006-01-02", dateOnly: true},
	{format: "15:04", clockOnly: true},
	{format: "2006-1-2 15:04"},
	{format: "2006-1-2", dateOnly: true},
	{format: "2006-01-02 3:04 PM"},
	{format: "2006-01-02 3PM"},
	{format: "2006-01-02 15:04:05"},
	{format: "01/02/2006 15:04"},
	{format: "01/02/2006 3:04 PM"},
	{format: "January 2, 2006 15:04"},
	{format: "January 2, 2006 3:04 PM"},
	{format: time.RFC3339},
}

var (
	meridiemRe = regexp.MustCompile(`(?i)\b(am|pm)\b`)

	// "in 30 minutes", "in 2 hrs", "in 1 day"
	relativeRe = regexp.MustCompile(`^in\s+(\d+)\s*(minutes?|mins?|m|hours?|hrs?|h|days?|d)$`)

	// "tomorrow at 9am", "today 15:00", "tonight at 8", "2:30 pm", "at 5pm"
	dayClockRe = regexp.MustCompile(`^(?:(today|tonight|tomorrow)\s+)?(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?$`)
)

// Resolver parses time strings against a fixed location.
type Resolver struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Resolver for the IANA zone name. An empty name selects
// DefaultTimezone.
func New(timezone string) (*Resolver, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	return &Resolver{loc: loc, now: time.Now}, nil
}

// NewWithClock is New with an injectable clock, used by tests.
func NewWithClock(timezone string, clock func() time.Time) (*Resolver, error) {
	r, err := New(timezone)
	if err != nil {
		return nil, err
	}
	r.now = clock
	return r, nil
}

// Location returns the home zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Now returns the current instant in the home zone.
func (r *Resolver) Now() time.Time {
	return r.now().In(r.loc)
}

// Resolve parses s relative to now. "now" (or an empty string) resolves to
// now itself. Besides the absolute layouts it understands relative offsets
// ("in 30 minutes") and clock times with an optional day word ("tomorrow at
// 9am", "today 15:00", "2:30 PM"). Every result is interpreted in the home
// zone and then passed through BumpSameMinute. ok is false when no encoding
// matched; callers decide how to degrade.
func (r *Resolver) Resolve(s string, now time.Time) (t time.Time, ok bool) {
	now = now.In(r.loc)
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "now") {
		return now, true
	}

	lower := strings.ToLower(s)
	if t, ok := r.resolveRelative(lower, now); ok {
		return t, true
	}
	if t, ok := r.resolveDayClock(lower, now); ok {
		return BumpSameMinute(t, now), true
	}

	normalized := meridiemRe.ReplaceAllStringFunc(s, strings.ToUpper)
	for _, l := range layouts {
		parsed, err := time.ParseInLocation(l.format, normalized, r.loc)
		if err != nil {
			continue
		}
		switch {
		case l.dateOnly:
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 12, 0, 0, 0, r.loc)
		case l.clockOnly:
			parsed = time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, r.loc)
		}
		return BumpSameMinute(parsed.In(r.loc), now), true
	}
	return time.Time{}, false
}

func (r *Resolver) resolveRelative(lower string, now time.Time) (time.Time, bool) {
	m := relativeRe.FindStringSubmatch(lower)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	unit := time.Minute
	switch m[2][0] {
	case 'h':
		unit = time.Hour
	case 'd':
		return now.AddDate(0, 0, n), true
	}
	return BumpSameMinute(now.Add(time.Duration(n)*unit), now), true
}

// resolveDayClock handles an optional day word followed by a clock time. A
// bare number needs a day word, minutes or a meridiem to count as a time.
// Without a day word the clock is taken on the reference date, as for the
// "15:04" layout.
func (r *Resolver) resolveDayClock(lower string, now time.Time) (time.Time, bool) {
	if lower == "today" || lower == "tomorrow" {
		day := now
		if lower == "tomorrow" {
			day = now.AddDate(0, 0, 1)
		}
		return time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, r.loc), true
	}

	m := dayClockRe.FindStringSubmatch(lower)
	if m == nil {
		return time.Time{}, false
	}
	dayWord, minutes, meridiem := m[1], m[3], strings.ReplaceAll(m[4], ".", "")
	if dayWord == "" && minutes == "" && meridiem == "" {
		return time.Time{}, false
	}

	hour, _ := strconv.Atoi(m[2])
	minute := 0
	if minutes != "" {
		minute, _ = strconv.Atoi(minutes)
	}
	if minute > 59 {
		return time.Time{}, false
	}
	switch meridiem {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		hour %= 12
		if meridiem == "pm" {
			hour += 12
		}
	default:
		if hour > 23 {
			return time.Time{}, false
		}
		if dayWord == "tonight" && hour < 12 {
			hour += 12
		}
	}

	day := now
	if dayWord == "tomorrow" {
		day = now.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, r.loc), true
}

// BumpSameMinute moves t to the start of the next minute when it falls in
// the same wall-clock minute as now. A scheduled item due in the current
// minute would otherwise already be late by the time it is persisted.
func BumpSameMinute(t, now time.Time) time.Time {
	tm := t.Truncate(time.Minute)
	if tm.Equal(now.Truncate(time.Minute)) {
		return tm.Add(time.Minute)
	}
	return t
}

// Describe renders t for user-facing messages.
func (r *Resolver) Describe(t time.Time) string {
	return t.In(r.loc).Format("2006-01-02 at 15:04")
}

// PromptTime renders now for oracle prompts, naming the zone explicitly.
func (r *Resolver) PromptTime(now time.Time) string {
	now = now.In(r.loc)
	return fmt.Sprintf("%s (%s, UTC%s)", now.Format("2006-01-02 15:04:05 Monday"), r.loc.String(), now.Format("-07:00"))
}

package extract

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/assistant-bot/internal/models"
)

const (
	defaultMeetingMinutes = 60
	defaultMeetingHour    = 14
)

var (
	meridiemTimeRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clockTimeRe    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	weekdayRe      = regexp.MustCompile(`(?i)\b(?:on|next)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)

	titleVocabulary = []struct{ word, title string }{
		{"presentation", "Presentation"},
		{"meeting", "Meeting"},
		{"call", "Call"},
		{"class", "Class"},
		{"appointment", "Appointment"},
	}
)

// FallbackStrategy is a deterministic meeting parser used when the oracle is
// unavailable. It only handles IntentCreateEvent.
type FallbackStrategy struct{}

func (FallbackStrategy) Extract(_ context.Context, kind models.IntentKind, text string, now time.Time) (models.Payload, error) {
	if kind != models.IntentCreateEvent {
		return nil, ErrNotExtractable
	}

	hour, minute := parseClock(text)
	date := parseDate(text, now)
	start := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, now.Location())
	end := start.Add(defaultMeetingMinutes * time.Minute)

	p := &models.MeetingPayload{
		Title:           parseTitle(text),
		Date:            start.Format("2006-01-02"),
		StartTime:       start.Format("15:04"),
		EndTime:         end.Format("15:04"),
		DurationMinutes: defaultMeetingMinutes,
		Description:     "Created from: " + text,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("fallback meeting invalid: %w", err)
	}
	return p, nil
}

func parseClock(text string) (hour, minute int) {
	if m := meridiemTimeRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		pm := strings.EqualFold(m[3], "pm")
		switch {
		case pm && hour < 12:
			hour += 12
		case !pm && hour == 12:
			hour = 0
		}
		if hour < 24 && minute < 60 {
			return hour, minute
		}
	}
	if m := clockTimeRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		if hour < 24 && minute < 60 {
			return hour, minute
		}
	}
	return defaultMeetingHour, 0
}

// parseDate understands "today", "tomorrow" and "on/next <weekday>".
// Anything else lands on tomorrow.
func parseDate(text string, now time.Time) time.Time {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "today"):
		return now
	case strings.Contains(lower, "tomorrow"):
		return now.AddDate(0, 0, 1)
	}
	if m := weekdayRe.FindStringSubmatch(lower); m != nil {
		want := weekdays[m[1]]
		days := (int(want) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return now.AddDate(0, 0, days)
	}
	return now.AddDate(0, 0, 1)
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

func parseTitle(text string) string {
	lower := strings.ToLower(text)
	for _, v := range titleVocabulary {
		if strings.Contains(lower, v.word) {
			return v.title
		}
	}
	return "Meeting"
}

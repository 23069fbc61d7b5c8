package models

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultPriority is used when the extractor leaves priority empty.
const DefaultPriority = "normal"

var emailAddressRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidEmailAddress reports whether addr is a syntactically valid address.
func ValidEmailAddress(addr string) bool {
	return emailAddressRe.MatchString(strings.TrimSpace(addr))
}

// Payload is the structured parameter set extracted for an intent.
// Implemented by *EmailPayload, *ReminderPayload and *MeetingPayload.
type Payload interface {
	Validate() error
}

// EmailPayload holds a parsed email request. SendTime is the raw time string
// returned by extraction ("now" or a date/time encoding).
type EmailPayload struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Priority  string `json:"priority"`
	SendTime  string `json:"send_time,omitempty"`
}

func (p *EmailPayload) Validate() error {
	if err := requireFields(map[string]string{
		"recipient": p.Recipient,
		"subject":   p.Subject,
		"body":      p.Body,
		"priority":  p.Priority,
	}); err != nil {
		return err
	}
	if !ValidEmailAddress(p.Recipient) {
		return fmt.Errorf("invalid recipient address %q", p.Recipient)
	}
	return nil
}

// ReminderPayload holds a parsed personal reminder.
type ReminderPayload struct {
	Text       string `json:"reminder_text"`
	Priority   string `json:"priority"`
	RemindTime string `json:"remind_time,omitempty"`
}

func (p *ReminderPayload) Validate() error {
	return requireFields(map[string]string{
		"reminder_text": p.Text,
		"priority":      p.Priority,
	})
}

// MeetingPayload holds a parsed calendar event request. Date is YYYY-MM-DD,
// times are HH:MM in the assistant's home timezone.
type MeetingPayload struct {
	Title           string   `json:"title"`
	Date            string   `json:"date"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Description     string   `json:"description"`
	Attendees       []string `json:"attendees,omitempty"`
}

func (p *MeetingPayload) Validate() error {
	if err := requireFields(map[string]string{
		"title":      p.Title,
		"date":       p.Date,
		"start_time": p.StartTime,
		"end_time":   p.EndTime,
	}); err != nil {
		return err
	}
	if _, err := time.Parse("2006-01-02", p.Date); err != nil {
		return fmt.Errorf("invalid date %q", p.Date)
	}
	for _, hm := range []string{p.StartTime, p.EndTime} {
		if _, err := time.Parse("15:04", hm); err != nil {
			return fmt.Errorf("invalid time %q", hm)
		}
	}
	for _, a := range p.Attendees {
		if !ValidEmailAddress(a) {
			return fmt.Errorf("invalid attendee address %q", a)
		}
	}
	return nil
}

func requireFields(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.New("missing fields: " + strings.Join(missing, ", "))
}

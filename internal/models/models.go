package models

import "time"

// Identity is who sent a message and where replies go.
type Identity struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Message represents one inbound chat message
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Sender     Identity  `json:"sender"`
	ReceivedAt time.Time `json:"received_at"`
}

// IntentKind is the action family a message was classified into.
type IntentKind string

const (
	IntentNone          IntentKind = "none"
	IntentCreateEvent   IntentKind = "create_event"
	IntentDeletePattern IntentKind = "delete_pattern"
	IntentClearAll      IntentKind = "clear_all"
	IntentSendEmail     IntentKind = "send_email"
	IntentSetReminder   IntentKind = "set_reminder"
)

// Intent is the result of classifying a message. Pattern is only set for
// IntentDeletePattern and Confirmed only for IntentClearAll.
type Intent struct {
	Kind      IntentKind `json:"kind"`
	Pattern   string     `json:"pattern,omitempty"`
	Confirmed bool       `json:"confirmed,omitempty"`
}

// NeedsExtraction reports whether the intent carries a payload to extract.
func (i Intent) NeedsExtraction() bool {
	switch i.Kind {
	case IntentCreateEvent, IntentSendEmail, IntentSetReminder:
		return true
	}
	return false
}

// IsCalendar reports whether the intent mutates the calendar.
func (i Intent) IsCalendar() bool {
	switch i.Kind {
	case IntentCreateEvent, IntentDeletePattern, IntentClearAll:
		return true
	}
	return false
}

// Event represents a calendar event as returned by the calendar provider
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	IsAllDay    bool      `json:"is_all_day"`
}

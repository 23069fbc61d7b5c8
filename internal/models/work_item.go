package models

import "time"

// WorkKind is the kind of deferred work.
type WorkKind string

const (
	KindEmail    WorkKind = "email"
	KindReminder WorkKind = "reminder"
)

// WorkStatus is the lifecycle state of a deferred item.
type WorkStatus string

const (
	StatusPending   WorkStatus = "pending"
	StatusSent      WorkStatus = "sent"
	StatusFailed    WorkStatus = "failed"
	StatusCancelled WorkStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s WorkStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// DeferredWorkItem is a scheduled email or reminder. Exactly one of Email and
// Reminder is set, matching Kind.
type DeferredWorkItem struct {
	ID          string           `json:"id"`
	Kind        WorkKind         `json:"kind"`
	ChatID      int64            `json:"chat_id,omitempty"`
	Email       *EmailPayload    `json:"email,omitempty"`
	Reminder    *ReminderPayload `json:"reminder,omitempty"`
	ScheduledAt time.Time        `json:"scheduled_time"`
	CreatedAt   time.Time        `json:"created_time"`
	Status      WorkStatus       `json:"status"`
	SentAt      *time.Time       `json:"sent_time,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Payload returns whichever payload matches the item kind.
func (w *DeferredWorkItem) Payload() Payload {
	switch w.Kind {
	case KindEmail:
		return w.Email
	case KindReminder:
		return w.Reminder
	}
	return nil
}

// Summary is a one-line description used in listings.
func (w *DeferredWorkItem) Summary() string {
	switch {
	case w.Email != nil:
		return "to " + w.Email.Recipient + ": " + w.Email.Subject
	case w.Reminder != nil:
		return w.Reminder.Text
	}
	return ""
}

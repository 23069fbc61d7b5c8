package dispatch

import (
	"context"
	"time"

	"github.com/xaenox/assistant-bot/internal/models"
)

// ResultKind tells the transport how to present a Result.
type ResultKind string

const (
	ResultReply             ResultKind = "reply"
	ResultDone              ResultKind = "done"
	ResultScheduled         ResultKind = "scheduled"
	ResultNeedsConfirmation ResultKind = "needs_confirmation"
	ResultFailed            ResultKind = "failed"
)

// Result is the single user-visible outcome of handling one message.
type Result struct {
	Kind ResultKind
	Text string
	// ItemID is set for ResultScheduled.
	ItemID string
}

func failed(text string) Result {
	return Result{Kind: ResultFailed, Text: "❌ " + text}
}

func done(text string) Result {
	return Result{Kind: ResultDone, Text: text}
}

type Classifier interface {
	Classify(text string) models.Intent
}

type Extractor interface {
	Extract(ctx context.Context, intent models.Intent, text string, now time.Time) (models.Payload, error)
	DeleteTarget(intent models.Intent, text string) string
}

type Calendar interface {
	CreateEvent(ctx context.Context, m *models.MeetingPayload) (*models.Event, error)
	ListUpcoming(ctx context.Context, limit, daysAhead int) ([]models.Event, error)
	DeleteMatching(ctx context.Context, pattern string) (int, error)
	ClearAll(ctx context.Context) (int, error)
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Chatter produces conversational replies for messages with no action.
type Chatter interface {
	Chat(ctx context.Context, text string, now time.Time, events []models.Event) (string, error)
}

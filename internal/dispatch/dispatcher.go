// Package dispatch turns one inbound message into exactly one user-visible
// result: classify, extract, resolve the time, then execute now or persist
// for the scheduler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/extract"
	"github.com/xaenox/assistant-bot/internal/metrics"
	"github.com/xaenox/assistant-bot/internal/models"
	"github.com/xaenox/assistant-bot/internal/storage"
	"github.com/xaenox/assistant-bot/internal/timeresolve"
)

var (
	ErrMailNotConfigured = errors.New("email sending is not configured")
	ErrNoRecipientChat   = errors.New("no chat to deliver the reminder to")
)

// Deps are the collaborators of a Dispatcher. Mailer, Chatter and Metrics
// may be nil.
type Deps struct {
	Classifier Classifier
	Extractor  Extractor
	Resolver   *timeresolve.Resolver
	Store      storage.Store
	Mailer     Mailer
	Notifier   Notifier
	Chatter    Chatter
	Metrics    *metrics.Metrics
	// WorkLock serializes cancellation with scheduler scans. It must be the
	// same locker the scheduler holds.
	WorkLock sync.Locker
}

type Dispatcher struct {
	deps   Deps
	lock   sync.Locker
	logger *zap.Logger

	calMu    sync.RWMutex
	calendar Calendar
}

func New(deps Deps, logger *zap.Logger) *Dispatcher {
	lock := deps.WorkLock
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Dispatcher{deps: deps, lock: lock, logger: logger}
}

// SetCalendar connects (or with nil disconnects) the calendar collaborator.
func (d *Dispatcher) SetCalendar(c Calendar) {
	d.calMu.Lock()
	defer d.calMu.Unlock()
	d.calendar = c
}

func (d *Dispatcher) Calendar() Calendar {
	d.calMu.RLock()
	defer d.calMu.RUnlock()
	return d.calendar
}

// Handle processes one message. It never panics and never returns a raw
// error; every failure becomes a ResultFailed with an actionable text.
func (d *Dispatcher) Handle(ctx context.Context, msg models.Message) Result {
	return d.handle(ctx, msg, func() models.Intent {
		return d.deps.Classifier.Classify(msg.Text)
	})
}

// HandleAs is Handle with the intent kind chosen by the caller instead of
// the classifier, for commands that name the action explicitly.
func (d *Dispatcher) HandleAs(ctx context.Context, msg models.Message, kind models.IntentKind) Result {
	return d.handle(ctx, msg, func() models.Intent {
		return models.Intent{Kind: kind}
	})
}

func (d *Dispatcher) handle(ctx context.Context, msg models.Message, classify func() models.Intent) (res Result) {
	logger := d.logger.With(
		zap.String("request_id", msg.ID),
		zap.Int64("chat_id", msg.Sender.ChatID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic while handling message",
				zap.Any("panic", r),
				zap.Stack("stack"))
			res = failed("Something went wrong while handling your request. Please try again.")
		}
		d.deps.Metrics.Result(string(res.Kind))
		logger.Info("Message handled", zap.String("result", string(res.Kind)))
	}()

	now := d.deps.Resolver.Now()
	intent := classify()
	d.deps.Metrics.IntentClassified(string(intent.Kind))
	logger.Debug("Message classified", zap.String("intent", string(intent.Kind)))

	switch {
	case intent.Kind == models.IntentSendEmail:
		return d.handleEmail(ctx, logger, msg, intent, now)
	case intent.Kind == models.IntentSetReminder:
		return d.handleReminder(ctx, logger, msg, intent, now)
	case intent.IsCalendar():
		return d.handleCalendar(ctx, logger, msg, intent, now)
	}
	return d.reply(ctx, logger, msg, now)
}

func (d *Dispatcher) handleEmail(ctx context.Context, logger *zap.Logger, msg models.Message, intent models.Intent, now time.Time) Result {
	payload, err := d.deps.Extractor.Extract(ctx, intent, msg.Text, now)
	if errors.Is(err, extract.ErrMissingRecipient) {
		return failed(`I couldn't find a recipient. Please include a recipient email address, e.g. "email john@example.com tomorrow at 9am about the report".`)
	}
	if err != nil {
		logger.Warn("Email extraction failed", zap.Error(err))
		return failed("Sorry, I couldn't understand the email details. Please say who to send it to, when, and what it should say.")
	}
	email, ok := payload.(*models.EmailPayload)
	if !ok {
		return failed("Sorry, I couldn't understand the email details.")
	}

	at, ok := d.deps.Resolver.Resolve(email.SendTime, now)
	if !ok {
		return failed(fmt.Sprintf(`I couldn't understand the send time %q. Try "now", "tomorrow at 9am" or "2025-06-01 14:30".`, email.SendTime))
	}

	if at.After(now) {
		item := &models.DeferredWorkItem{
			Kind:        models.KindEmail,
			ChatID:      msg.Sender.ChatID,
			Email:       email,
			ScheduledAt: at,
			CreatedAt:   now,
		}
		id, err := d.deps.Store.Insert(ctx, item)
		if err != nil {
			logger.Error("Failed to persist scheduled email", zap.Error(err))
			return failed("I couldn't save the scheduled email. Please try again.")
		}
		logger.Info("Email scheduled", zap.String("item_id", id), zap.Time("scheduled_at", at))
		return Result{
			Kind:   ResultScheduled,
			Text:   fmt.Sprintf("📧 Email to %s scheduled for %s.\nSubject: %s\nID: %s", email.Recipient, d.deps.Resolver.Describe(at), email.Subject, id),
			ItemID: id,
		}
	}

	if err := d.ExecuteEmail(ctx, email); err != nil {
		logger.Error("Immediate email failed", zap.Error(err), zap.String("to", email.Recipient))
		return failed(fmt.Sprintf("Failed to send email to %s: %v", email.Recipient, err))
	}
	return done(fmt.Sprintf("✅ Email sent to %s.\nSubject: %s", email.Recipient, email.Subject))
}

func (d *Dispatcher) handleReminder(ctx context.Context, logger *zap.Logger, msg models.Message, intent models.Intent, now time.Time) Result {
	payload, err := d.deps.Extractor.Extract(ctx, intent, msg.Text, now)
	if err != nil {
		logger.Warn("Reminder extraction failed", zap.Error(err))
		return failed(`Sorry, I couldn't understand the reminder. Try "remind me in 30 minutes to call mom".`)
	}
	reminder, ok := payload.(*models.ReminderPayload)
	if !ok {
		return failed("Sorry, I couldn't understand the reminder.")
	}

	at, ok := d.deps.Resolver.Resolve(reminder.RemindTime, now)
	if !ok {
		return failed(fmt.Sprintf(`I couldn't understand the reminder time %q. Try "in 30 minutes", "at 2:05pm" or "tomorrow at 9am".`, reminder.RemindTime))
	}

	if at.After(now) {
		item := &models.DeferredWorkItem{
			Kind:        models.KindReminder,
			ChatID:      msg.Sender.ChatID,
			Reminder:    reminder,
			ScheduledAt: at,
			CreatedAt:   now,
		}
		id, err := d.deps.Store.Insert(ctx, item)
		if err != nil {
			logger.Error("Failed to persist reminder", zap.Error(err))
			return failed("I couldn't save the reminder. Please try again.")
		}
		logger.Info("Reminder scheduled", zap.String("item_id", id), zap.Time("scheduled_at", at))
		return Result{
			Kind:   ResultScheduled,
			Text:   fmt.Sprintf("⏰ Reminder set for %s: %s\nID: %s", d.deps.Resolver.Describe(at), reminder.Text, id),
			ItemID: id,
		}
	}

	if err := d.ExecuteReminder(ctx, msg.Sender.ChatID, reminder); err != nil {
		logger.Error("Immediate reminder failed", zap.Error(err))
		return failed(fmt.Sprintf("Failed to deliver the reminder: %v", err))
	}
	return done("✅ Reminder delivered.")
}

// ExecuteEmail sends an email payload through the mail transport. Shared by
// immediate sends and scheduler ticks.
func (d *Dispatcher) ExecuteEmail(ctx context.Context, email *models.EmailPayload) error {
	if d.deps.Mailer == nil {
		return ErrMailNotConfigured
	}
	return d.deps.Mailer.Send(ctx, email.Recipient, email.Subject, email.Body)
}

// ExecuteReminder delivers a reminder to chatID.
func (d *Dispatcher) ExecuteReminder(ctx context.Context, chatID int64, reminder *models.ReminderPayload) error {
	if chatID == 0 {
		return ErrNoRecipientChat
	}
	return d.deps.Notifier.Notify(ctx, chatID, FormatReminder(reminder))
}

// FormatReminder renders the notification text of a personal reminder.
func FormatReminder(r *models.ReminderPayload) string {
	header := "⏰ Reminder"
	if strings.EqualFold(r.Priority, "high") {
		header = "🔴 Reminder (high priority)"
	}
	return header + "\n\n" + r.Text
}

// Cancel cancels a pending item. It waits for a scheduler scan in progress,
// so an item already being executed reports false.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (bool, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	ok, err := d.deps.Store.Cancel(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel %s: %w", id, err)
	}
	if ok {
		d.logger.Info("Work item cancelled", zap.String("item_id", id))
	}
	return ok, nil
}

// Pending lists pending emails and reminders in ascending scheduled time.
func (d *Dispatcher) Pending(ctx context.Context) ([]*models.DeferredWorkItem, error) {
	var all []*models.DeferredWorkItem
	for _, kind := range []models.WorkKind{models.KindEmail, models.KindReminder} {
		items, err := d.deps.Store.ListPending(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending %s items: %w", kind, err)
		}
		all = append(all, items...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].ScheduledAt.Before(all[j].ScheduledAt)
	})
	return all, nil
}

// Words that make a chat message worth grounding in upcoming events.
var calendarContextWords = []string{
	"calendar", "schedule", "meeting", "event", "appointment",
	"today", "tomorrow", "this week", "free", "busy",
}

func (d *Dispatcher) reply(ctx context.Context, logger *zap.Logger, msg models.Message, now time.Time) Result {
	if d.deps.Chatter == nil {
		return Result{
			Kind: ResultReply,
			Text: `I can schedule meetings, send emails and set reminders. Try "remind me in 30 minutes to call mom".`,
		}
	}

	var events []models.Event
	if cal := d.Calendar(); cal != nil && containsAny(strings.ToLower(msg.Text), calendarContextWords) {
		var err error
		if events, err = cal.ListUpcoming(ctx, 5, 7); err != nil {
			logger.Warn("Failed to load calendar context", zap.Error(err))
			events = nil
		}
	}

	text, err := d.deps.Chatter.Chat(ctx, msg.Text, now, events)
	if err != nil {
		logger.Error("Conversational reply failed", zap.Error(err))
		return failed("Sorry, I couldn't come up with a reply right now. Please try again in a moment.")
	}
	return Result{Kind: ResultReply, Text: text}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

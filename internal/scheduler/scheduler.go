// Package scheduler drives deferred work: it scans the store for due emails
// and reminders, sends calendar event reminders, greets the owner every
// day and purges old items.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/metrics"
	"github.com/xaenox/assistant-bot/internal/models"
	"github.com/xaenox/assistant-bot/internal/storage"
	"github.com/xaenox/assistant-bot/internal/timeresolve"
)

// Executor performs due work. Implemented by *dispatch.Dispatcher.
type Executor interface {
	ExecuteEmail(ctx context.Context, email *models.EmailPayload) error
	ExecuteReminder(ctx context.Context, chatID int64, reminder *models.ReminderPayload) error
}

type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// EventSource lists calendar events overlapping [from, to).
type EventSource interface {
	EventsBetween(ctx context.Context, from, to time.Time) ([]models.Event, error)
}

type Config struct {
	EmailScanInterval    time.Duration
	ReminderScanInterval time.Duration
	CalendarScanInterval time.Duration
	RetentionDays        int
	PurgeInterval        time.Duration

	// ReminderBeforeMinutes is the lead time of "before" event reminders;
	// 0 disables them.
	ReminderBeforeMinutes int
	ReminderAtEventTime   bool
	// SentReminderCap bounds the reminder mark set; it is cleared wholesale
	// once larger.
	SentReminderCap int

	DailyMessageEnabled bool
	DailyMessageHour    int
	DailyMessageMinute  int

	// OwnerChatID receives calendar reminders, the daily greeting and
	// reminders that carry no chat of their own.
	OwnerChatID int64
}

func (c *Config) setDefaults() {
	if c.EmailScanInterval <= 0 {
		c.EmailScanInterval = time.Minute
	}
	if c.ReminderScanInterval <= 0 {
		c.ReminderScanInterval = time.Minute
	}
	if c.CalendarScanInterval <= 0 {
		c.CalendarScanInterval = 5 * time.Minute
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 7
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = time.Hour
	}
	if c.SentReminderCap <= 0 {
		c.SentReminderCap = 1000
	}
}

type Deps struct {
	Store    storage.Store
	Executor Executor
	Notifier Notifier
	Resolver *timeresolve.Resolver
	Metrics  *metrics.Metrics
	// WorkLock is held for every scan; share it with the dispatcher so
	// cancellation cannot interleave with execution.
	WorkLock sync.Locker
}

type Scheduler struct {
	cfg    Config
	deps   Deps
	lock   sync.Locker
	logger *zap.Logger

	calMu    sync.RWMutex
	calendar EventSource

	dailyPaused atomic.Bool
}

func New(cfg Config, deps Deps, logger *zap.Logger) *Scheduler {
	cfg.setDefaults()
	lock := deps.WorkLock
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Scheduler{cfg: cfg, deps: deps, lock: lock, logger: logger}
}

// SetCalendar enables (or with nil disables) the calendar scan.
func (s *Scheduler) SetCalendar(c EventSource) {
	s.calMu.Lock()
	defer s.calMu.Unlock()
	s.calendar = c
}

// SetDailyPaused pauses or resumes the daily greeting. Event reminders and
// deferred work are unaffected.
func (s *Scheduler) SetDailyPaused(paused bool) {
	if s.dailyPaused.Swap(paused) != paused {
		s.logger.Info("Daily greeting toggled", zap.Bool("paused", paused))
	}
}

func (s *Scheduler) DailyPaused() bool {
	return s.dailyPaused.Load()
}

func (s *Scheduler) eventSource() EventSource {
	s.calMu.RLock()
	defer s.calMu.RUnlock()
	return s.calendar
}

// Start registers the periodic jobs and blocks until ctx is cancelled. A
// tick still running when the next one fires is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(s.deps.Resolver.Location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []job{
		{"email-scan", every(s.cfg.EmailScanInterval), s.ScanEmails},
		{"reminder-scan", every(s.cfg.ReminderScanInterval), s.ScanReminders},
		{"calendar-scan", every(s.cfg.CalendarScanInterval), s.ScanCalendar},
		{"purge", every(s.cfg.PurgeInterval), s.Purge},
	}
	if s.cfg.DailyMessageEnabled {
		jobs = append(jobs, job{"daily-greeting", fmt.Sprintf("%d %d * * *", s.cfg.DailyMessageMinute, s.cfg.DailyMessageHour), s.SendDailyGreeting})
	}

	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, func() { j.run(ctx, s.deps.Resolver.Now()) }); err != nil {
			return fmt.Errorf("failed to schedule %s (%q): %w", j.name, j.spec, err)
		}
		s.logger.Info("Scheduled job", zap.String("job", j.name), zap.String("spec", j.spec))
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

type job struct {
	name string
	spec string
	run  func(context.Context, time.Time)
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// ScanEmails sends every pending email due at or before now.
func (s *Scheduler) ScanEmails(ctx context.Context, now time.Time) {
	s.processDue(ctx, models.KindEmail, now)
}

// ScanReminders delivers every pending reminder due at or before now.
func (s *Scheduler) ScanReminders(ctx context.Context, now time.Time) {
	s.processDue(ctx, models.KindReminder, now)
}

func (s *Scheduler) processDue(ctx context.Context, kind models.WorkKind, now time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()

	items, err := s.deps.Store.ListPending(ctx, kind)
	if err != nil {
		s.logger.Error("Failed to list pending items", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	for _, item := range items {
		// ascending scheduled time, so the rest are not due either
		if item.ScheduledAt.After(now) {
			break
		}
		s.executeItem(ctx, item, now)
	}
}

func (s *Scheduler) executeItem(ctx context.Context, item *models.DeferredWorkItem, now time.Time) {
	logger := s.logger.With(zap.String("item_id", item.ID), zap.String("kind", string(item.Kind)))

	status, reason := models.StatusSent, ""
	if err := s.execute(ctx, item); err != nil {
		status, reason = models.StatusFailed, err.Error()
		logger.Error("Scheduled item failed", zap.Error(err))
	} else {
		logger.Info("Scheduled item executed")
	}

	ok, err := s.deps.Store.Mark(ctx, item.ID, status, now, reason)
	switch {
	case err != nil:
		logger.Error("Failed to mark item", zap.String("status", string(status)), zap.Error(err))
	case !ok:
		logger.Warn("Item was no longer pending when marked")
	}
	s.deps.Metrics.Execution(string(item.Kind), string(status))

	if item.Kind == models.KindEmail {
		s.reportEmail(ctx, item, status, reason)
	}
}

// execute runs one item, converting a panic into an error so one bad item
// cannot abort the scan.
func (s *Scheduler) execute(ctx context.Context, item *models.DeferredWorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch item.Kind {
	case models.KindEmail:
		if item.Email == nil {
			return fmt.Errorf("email item has no payload")
		}
		return s.deps.Executor.ExecuteEmail(ctx, item.Email)
	case models.KindReminder:
		if item.Reminder == nil {
			return fmt.Errorf("reminder item has no payload")
		}
		return s.deps.Executor.ExecuteReminder(ctx, s.chatFor(item), item.Reminder)
	}
	return fmt.Errorf("unknown work kind %q", item.Kind)
}

func (s *Scheduler) reportEmail(ctx context.Context, item *models.DeferredWorkItem, status models.WorkStatus, reason string) {
	chatID := s.chatFor(item)
	if chatID == 0 || item.Email == nil {
		return
	}
	text := fmt.Sprintf("📧 Scheduled email sent to %s.\nSubject: %s", item.Email.Recipient, item.Email.Subject)
	if status == models.StatusFailed {
		text = fmt.Sprintf("❌ Scheduled email to %s failed: %s", item.Email.Recipient, reason)
	}
	if err := s.deps.Notifier.Notify(ctx, chatID, text); err != nil {
		s.logger.Warn("Failed to report email outcome", zap.String("item_id", item.ID), zap.Error(err))
	}
}

func (s *Scheduler) chatFor(item *models.DeferredWorkItem) int64 {
	if item.ChatID != 0 {
		return item.ChatID
	}
	return s.cfg.OwnerChatID
}

// Purge removes terminal items older than the retention window and
// enforces the reminder mark cap.
func (s *Scheduler) Purge(ctx context.Context, now time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()

	n, err := s.deps.Store.Purge(ctx, now.AddDate(0, 0, -s.cfg.RetentionDays))
	if err != nil {
		s.logger.Error("Failed to purge old items", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("Purged old items", zap.Int("count", n))
		s.deps.Metrics.Purged(n)
	}
	s.enforceMarkCap(ctx)
}

func (s *Scheduler) enforceMarkCap(ctx context.Context) {
	count, err := s.deps.Store.ReminderMarkCount(ctx)
	if err != nil {
		s.logger.Error("Failed to count reminder marks", zap.Error(err))
		return
	}
	if count <= s.cfg.SentReminderCap {
		return
	}
	if err := s.deps.Store.ClearReminderMarks(ctx); err != nil {
		s.logger.Error("Failed to clear reminder marks", zap.Error(err))
		return
	}
	s.logger.Info("Cleared reminder marks", zap.Int("count", count))
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

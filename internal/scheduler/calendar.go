package scheduler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/models"
)

// Event reminder windows are this wide so a scan interval up to five minutes
// cannot skip over an event.
const reminderWindow = 5 * time.Minute

// ScanCalendar notifies the owner about upcoming events. It looks ahead one
// hour, or further when the "before" lead time needs it. Each event gets at
// most one "before" and one "at time" reminder; delivered reminders are
// recorded as marks in the store.
func (s *Scheduler) ScanCalendar(ctx context.Context, now time.Time) {
	cal := s.eventSource()
	if cal == nil || s.cfg.OwnerChatID == 0 {
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	lead := time.Duration(s.cfg.ReminderBeforeMinutes) * time.Minute
	events, err := cal.EventsBetween(ctx, now, now.Add(max(time.Hour, lead+reminderWindow)))
	if err != nil {
		s.logger.Error("Failed to load upcoming events", zap.Error(err))
		return
	}

	sent := 0
	for _, e := range events {
		if e.IsAllDay || e.Start.Before(now) {
			continue
		}
		until := e.Start.Sub(now)

		if lead > 0 {
			if until >= lead && until <= lead+reminderWindow {
				markID := fmt.Sprintf("%s_before_%d", e.ID, s.cfg.ReminderBeforeMinutes)
				if s.remindOnce(ctx, markID, formatUpcoming(e, until, s.deps.Resolver.Location())) {
					sent++
				}
			}
		}
		if s.cfg.ReminderAtEventTime && until <= reminderWindow {
			if s.remindOnce(ctx, e.ID+"_at_time", formatStarting(e)) {
				sent++
			}
		}
	}

	if sent > 0 {
		s.enforceMarkCap(ctx)
	}
}

// remindOnce sends text unless markID was already delivered. It reports
// whether a notification went out.
func (s *Scheduler) remindOnce(ctx context.Context, markID, text string) bool {
	logger := s.logger.With(zap.String("mark_id", markID))

	seen, err := s.deps.Store.HasReminderMark(ctx, markID)
	if err != nil {
		logger.Error("Failed to check reminder mark", zap.Error(err))
		return false
	}
	if seen {
		return false
	}
	if err := s.deps.Notifier.Notify(ctx, s.cfg.OwnerChatID, text); err != nil {
		logger.Error("Failed to send event reminder", zap.Error(err))
		return false
	}
	if err := s.deps.Store.AddReminderMark(ctx, markID); err != nil {
		logger.Error("Failed to record reminder mark", zap.Error(err))
	}
	s.deps.Metrics.CalendarReminderSent()
	logger.Info("Event reminder sent")
	return true
}

func formatUpcoming(e models.Event, until time.Duration, loc *time.Location) string {
	minutes := int(math.Round(until.Minutes()))
	var b strings.Builder
	fmt.Fprintf(&b, "📅 Upcoming: %s\n⏰ Starts in %d minutes (%s)", e.Title, minutes, e.Start.In(loc).Format("15:04"))
	if e.Location != "" {
		fmt.Fprintf(&b, "\n📍 %s", e.Location)
	}
	return b.String()
}

func formatStarting(e models.Event) string {
	text := "🔔 Starting now: " + e.Title
	if e.Location != "" {
		text += "\n📍 " + e.Location
	}
	return text
}

// SendDailyGreeting sends the owner a greeting with today's events when the
// calendar is connected. It does nothing while the greeting is paused.
func (s *Scheduler) SendDailyGreeting(ctx context.Context, now time.Time) {
	if s.cfg.OwnerChatID == 0 || s.DailyPaused() {
		return
	}
	loc := s.deps.Resolver.Location()
	now = now.In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "%s! Today is %s.", greeting(now.Hour()), now.Format("Monday, January 2"))

	if cal := s.eventSource(); cal != nil {
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		events, err := cal.EventsBetween(ctx, start, start.AddDate(0, 0, 1))
		switch {
		case err != nil:
			s.logger.Warn("Failed to load today's events", zap.Error(err))
		case len(events) == 0:
			b.WriteString("\n\n📅 No events on your calendar today.")
		default:
			b.WriteString("\n\n📅 Today's events:")
			for _, e := range events {
				if e.IsAllDay {
					fmt.Fprintf(&b, "\n• All day: %s", e.Title)
					continue
				}
				fmt.Fprintf(&b, "\n• %s %s", e.Start.In(loc).Format("15:04"), e.Title)
			}
		}
	}

	if err := s.deps.Notifier.Notify(ctx, s.cfg.OwnerChatID, b.String()); err != nil {
		s.logger.Error("Failed to send daily greeting", zap.Error(err))
	}
}

func greeting(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "🌅 Good morning"
	case hour >= 12 && hour < 17:
		return "☀️ Good afternoon"
	case hour >= 17 && hour < 21:
		return "🌆 Good evening"
	default:
		return "🌙 Good night"
	}
}

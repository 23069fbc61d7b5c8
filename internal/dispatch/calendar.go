package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/models"
)

func (d *Dispatcher) handleCalendar(ctx context.Context, logger *zap.Logger, msg models.Message, intent models.Intent, now time.Time) Result {
	cal := d.Calendar()
	if cal == nil {
		return failed("Calendar is not connected. Use /calendar_setup to connect your Google Calendar.")
	}

	switch intent.Kind {
	case models.IntentCreateEvent:
		payload, err := d.deps.Extractor.Extract(ctx, intent, msg.Text, now)
		if err != nil {
			logger.Warn("Meeting extraction failed", zap.Error(err))
			return failed(`Sorry, I couldn't understand the meeting details. Try "schedule a meeting with John tomorrow at 2pm".`)
		}
		meeting, ok := payload.(*models.MeetingPayload)
		if !ok {
			return failed("Sorry, I couldn't understand the meeting details.")
		}
		event, err := cal.CreateEvent(ctx, meeting)
		if err != nil {
			logger.Error("Failed to create calendar event", zap.Error(err))
			return failed(fmt.Sprintf("Failed to create the event: %v", err))
		}
		return done(fmt.Sprintf("✅ Added \"%s\" to your calendar on %s, %s-%s.",
			event.Title, meeting.Date, meeting.StartTime, meeting.EndTime))

	case models.IntentDeletePattern:
		pattern := d.deps.Extractor.DeleteTarget(intent, msg.Text)
		if pattern == "" {
			return failed(`Please tell me which events to delete, e.g. "delete my meeting" or delete "Team Lunch".`)
		}
		n, err := cal.DeleteMatching(ctx, pattern)
		if err != nil {
			logger.Error("Failed to delete matching events", zap.Error(err), zap.String("pattern", pattern))
			return failed(fmt.Sprintf("Failed to delete events matching %q: %v", pattern, err))
		}
		if n == 0 {
			return done(fmt.Sprintf("No upcoming events matching %q were found.", pattern))
		}
		return done(fmt.Sprintf("🗑️ Deleted %d event(s) matching %q.", n, pattern))

	case models.IntentClearAll:
		if !intent.Confirmed {
			return Result{
				Kind: ResultNeedsConfirmation,
				Text: "⚠️ This will delete ALL events in the next 30 days. To confirm, say: \"clear my calendar, yes I'm sure\".",
			}
		}
		n, err := cal.ClearAll(ctx)
		if err != nil {
			logger.Error("Failed to clear calendar", zap.Error(err))
			return failed(fmt.Sprintf("Failed to clear your calendar: %v", err))
		}
		return done(fmt.Sprintf("🗑️ Cleared %d event(s) from your calendar.", n))
	}
	return failed("Unsupported calendar request.")
}

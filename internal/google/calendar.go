package google

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/xaenox/assistant-bot/internal/models"
)

const (
	primaryCalendar      = "primary"
	popupReminderMinutes = 15
	// bulk deletes look this far ahead
	deleteWindowDays = 30
)

// CalendarService manages events on the user's primary calendar.
type CalendarService struct {
	svc    *calendar.Service
	loc    *time.Location
	logger *zap.Logger
}

// NewCalendarService builds the Calendar API client. opts are appended after
// the HTTP client option, which lets tests point it at a local server.
func NewCalendarService(ctx context.Context, client *http.Client, loc *time.Location, logger *zap.Logger, opts ...option.ClientOption) (*CalendarService, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarService{svc: svc, loc: loc, logger: logger}, nil
}

// CreateEvent inserts a timed event built from a meeting payload. An end time
// at or before the start rolls over to the next day.
func (c *CalendarService) CreateEvent(ctx context.Context, m *models.MeetingPayload) (*models.Event, error) {
	start, err := time.ParseInLocation("2006-01-02 15:04", m.Date+" "+m.StartTime, c.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid meeting start: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", m.Date+" "+m.EndTime, c.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid meeting end: %w", err)
	}
	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}

	event := &calendar.Event{
		Summary:     m.Title,
		Description: m.Description,
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: c.loc.String()},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: c.loc.String()},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "popup", Minutes: popupReminderMinutes},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
	for _, a := range m.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: a})
	}

	created, err := c.svc.Events.Insert(primaryCalendar, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	c.logger.Info("Calendar event created", zap.String("event_id", created.Id), zap.String("title", created.Summary))
	e := c.convertEvent(created)
	return &e, nil
}

// ListUpcoming returns up to limit events starting within daysAhead days.
func (c *CalendarService) ListUpcoming(ctx context.Context, limit, daysAhead int) ([]models.Event, error) {
	now := time.Now().In(c.loc)
	return c.list(ctx, now, now.AddDate(0, 0, daysAhead), limit)
}

// EventsBetween returns events overlapping [from, to).
func (c *CalendarService) EventsBetween(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	return c.list(ctx, from, to, 0)
}

func (c *CalendarService) DeleteEvent(ctx context.Context, id string) error {
	if err := c.svc.Events.Delete(primaryCalendar, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

// DeleteMatching deletes events in the next 30 days whose title contains
// pattern, case-insensitively.
func (c *CalendarService) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return 0, fmt.Errorf("empty delete pattern")
	}
	return c.deleteWhere(ctx, func(e models.Event) bool {
		return strings.Contains(strings.ToLower(e.Title), pattern)
	})
}

// ClearAll deletes every event in the next 30 days.
func (c *CalendarService) ClearAll(ctx context.Context) (int, error) {
	return c.deleteWhere(ctx, func(models.Event) bool { return true })
}

func (c *CalendarService) deleteWhere(ctx context.Context, match func(models.Event) bool) (int, error) {
	now := time.Now().In(c.loc)
	events, err := c.list(ctx, now, now.AddDate(0, 0, deleteWindowDays), 0)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, e := range events {
		if !match(e) {
			continue
		}
		if err := c.DeleteEvent(ctx, e.ID); err != nil {
			c.logger.Error("Failed to delete event", zap.String("event_id", e.ID), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (c *CalendarService) list(ctx context.Context, from, to time.Time, limit int) ([]models.Event, error) {
	var events []models.Event
	pageToken := ""
	for {
		req := c.svc.Events.List(primaryCalendar).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			Context(ctx)
		if limit > 0 {
			req = req.MaxResults(int64(limit))
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := req.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		for _, item := range resp.Items {
			events = append(events, c.convertEvent(item))
			if limit > 0 && len(events) >= limit {
				return events, nil
			}
		}
		if resp.NextPageToken == "" {
			return events, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (c *CalendarService) convertEvent(event *calendar.Event) models.Event {
	result := models.Event{
		ID:          event.Id,
		Title:       event.Summary,
		Description: event.Description,
		Location:    event.Location,
	}
	if event.Start != nil {
		if event.Start.DateTime != "" {
			t, _ := time.Parse(time.RFC3339, event.Start.DateTime)
			result.Start = t.In(c.loc)
		} else if event.Start.Date != "" {
			t, _ := time.ParseInLocation("2006-01-02", event.Start.Date, c.loc)
			result.Start = t
			result.IsAllDay = true
		}
	}
	if event.End != nil {
		if event.End.DateTime != "" {
			t, _ := time.Parse(time.RFC3339, event.End.DateTime)
			result.End = t.In(c.loc)
		} else if event.End.Date != "" {
			t, _ := time.ParseInLocation("2006-01-02", event.End.Date, c.loc)
			result.End = t
		}
	}
	if result.Title == "" {
		result.Title = "(no title)"
	}
	return result
}

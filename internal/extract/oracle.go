package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/models"
	"github.com/xaenox/assistant-bot/internal/timeresolve"
)

var errNoOracle = errors.New("no text oracle configured")

type emailResponse struct {
	RecipientEmail string `json:"recipient_email"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	SendTime       string `json:"send_time"`
	Priority       string `json:"priority"`
}

type reminderResponse struct {
	ReminderText string `json:"reminder_text"`
	RemindTime   string `json:"remind_time"`
	Priority     string `json:"priority"`
}

// OracleStrategy asks the text oracle for a JSON object and validates it.
type OracleStrategy struct {
	oracle   Oracle
	resolver *timeresolve.Resolver
	logger   *zap.Logger
}

// NewOracleStrategy returns a strategy whose prompts state the reference
// time in the resolver's home zone.
func NewOracleStrategy(oracle Oracle, resolver *timeresolve.Resolver, logger *zap.Logger) *OracleStrategy {
	return &OracleStrategy{oracle: oracle, resolver: resolver, logger: logger}
}

func (s *OracleStrategy) Extract(ctx context.Context, kind models.IntentKind, text string, now time.Time) (models.Payload, error) {
	if s.oracle == nil {
		return nil, errNoOracle
	}

	var (
		prompt string
		decode func(string) (models.Payload, error)
		stamp  = s.resolver.PromptTime(now)
	)
	switch kind {
	case models.IntentSendEmail:
		prompt, decode = emailPrompt(text, stamp), decodeEmail
	case models.IntentSetReminder:
		prompt, decode = reminderPrompt(text, stamp), decodeReminder
	case models.IntentCreateEvent:
		prompt = meetingPrompt(text, stamp)
		decode = func(raw string) (models.Payload, error) { return decodeMeeting(raw, text) }
	default:
		return nil, ErrNotExtractable
	}

	raw, err := s.oracle.Complete(ctx, prompt)
	if err != nil {
		s.logger.Error("Failed to get oracle response", zap.Error(err), zap.String("intent", string(kind)))
		return nil, err
	}

	payload, err := decode(raw)
	if err != nil {
		s.logger.Error("Failed to parse oracle response",
			zap.Error(err),
			zap.String("intent", string(kind)),
			zap.String("response", raw))
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		s.logger.Warn("Oracle response failed validation",
			zap.Error(err),
			zap.String("intent", string(kind)))
		return nil, err
	}
	return payload, nil
}

func decodeEmail(raw string) (models.Payload, error) {
	var r emailResponse
	if err := unmarshalLenient(raw, &r); err != nil {
		return nil, err
	}
	return &models.EmailPayload{
		Recipient: strings.TrimSpace(r.RecipientEmail),
		Subject:   strings.TrimSpace(r.Subject),
		Body:      strings.TrimSpace(r.Body),
		Priority:  priorityOrDefault(r.Priority),
		SendTime:  strings.TrimSpace(r.SendTime),
	}, nil
}

func decodeReminder(raw string) (models.Payload, error) {
	var r reminderResponse
	if err := unmarshalLenient(raw, &r); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.RemindTime) == "" {
		return nil, errors.New("missing fields: remind_time")
	}
	return &models.ReminderPayload{
		Text:       strings.TrimSpace(r.ReminderText),
		Priority:   priorityOrDefault(r.Priority),
		RemindTime: strings.TrimSpace(r.RemindTime),
	}, nil
}

func decodeMeeting(raw, text string) (models.Payload, error) {
	var p models.MeetingPayload
	if err := unmarshalLenient(raw, &p); err != nil {
		return nil, err
	}
	p.Title = strings.TrimSpace(p.Title)
	if p.DurationMinutes <= 0 {
		p.DurationMinutes = defaultMeetingMinutes
	}
	if p.EndTime == "" && p.StartTime != "" {
		if start, err := time.Parse("15:04", p.StartTime); err == nil {
			p.EndTime = start.Add(time.Duration(p.DurationMinutes) * time.Minute).Format("15:04")
		}
	}
	if strings.TrimSpace(p.Description) == "" {
		p.Description = "Created from: " + text
	}
	return &p, nil
}

// unmarshalLenient strips markdown code fences and repairs almost-JSON
// (trailing commas, single quotes, unquoted keys) before decoding.
func unmarshalLenient(raw string, v any) error {
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return fmt.Errorf("failed to repair oracle JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("failed to decode oracle JSON: %w", err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// drop the info string, e.g. ```json
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func priorityOrDefault(p string) string {
	if p = strings.ToLower(strings.TrimSpace(p)); p == "" {
		return models.DefaultPriority
	}
	return p
}

func emailPrompt(text, stamp string) string {
	return fmt.Sprintf(`Extract email information from this request: "%s"

Current date and time: %s

Return ONLY a JSON object with this structure:
{
    "recipient_email": "email@example.com",
    "subject": "email subject",
    "body": "email body content",
    "send_time": "YYYY-MM-DD HH:MM or 'now'",
    "priority": "high/normal/low"
}

Rules:
- Relative times ("in 30 minutes", "tomorrow at 9am") must be converted to YYYY-MM-DD HH:MM in the timezone above.
- Use "now" when the request names no time.
- Write a short, polite subject and body when the request only gives the gist.`, text, stamp)
}

func reminderPrompt(text, stamp string) string {
	return fmt.Sprintf(`Extract reminder information from this request: "%s"

Current date and time: %s

Return ONLY a JSON object with this structure:
{
    "reminder_text": "what to remind about",
    "remind_time": "YYYY-MM-DD HH:MM or 'now'",
    "priority": "high/normal/low"
}

Rules:
- Relative times ("in 30 minutes", "at 2:05pm") must be converted to YYYY-MM-DD HH:MM in the timezone above.
- A clock time that already passed today means today at that time, not tomorrow, unless the request says tomorrow.
- Use "now" when the request names no time.`, text, stamp)
}

func meetingPrompt(text, stamp string) string {
	return fmt.Sprintf(`Extract meeting information from this request: "%s"

Current date and time: %s

Return ONLY a JSON object with this structure:
{
    "title": "meeting title",
    "date": "YYYY-MM-DD",
    "start_time": "HH:MM",
    "end_time": "HH:MM",
    "duration_minutes": 60,
    "description": "meeting description",
    "attendees": ["email@example.com"]
}

Rules:
- Use the 24-hour clock.
- Default duration is 60 minutes when none is given.
- Default date is tomorrow when none is given.
- Leave attendees empty unless email addresses are present.`, text, stamp)
}

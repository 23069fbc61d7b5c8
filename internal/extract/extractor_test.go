package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/assistant-bot/internal/models"
	"github.com/xaenox/assistant-bot/internal/timeresolve"
)

type fakeOracle struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeOracle) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func newExtractor(t *testing.T, oracle Oracle) *Extractor {
	t.Helper()
	resolver, err := timeresolve.New("Asia/Phnom_Penh")
	require.NoError(t, err)
	return New(oracle, resolver, zaptest.NewLogger(t))
}

func refTime(t *testing.T) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Phnom_Penh")
	require.NoError(t, err)
	// Saturday
	return time.Date(2025, 5, 31, 10, 0, 0, 0, loc)
}

func TestExtract_Email(t *testing.T) {
	oracle := &fakeOracle{reply: "```json\n{\"recipient_email\": \"test@example.com\", \"subject\": \"Hello\", \"body\": \"Hi there\", \"send_time\": \"now\", \"priority\": \"\"}\n```"}
	e := newExtractor(t, oracle)

	p, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentSendEmail}, "email test@example.com now saying hello", refTime(t))
	require.NoError(t, err)

	email, ok := p.(*models.EmailPayload)
	require.True(t, ok)
	assert.Equal(t, "test@example.com", email.Recipient)
	assert.Equal(t, "Hello", email.Subject)
	assert.Equal(t, "now", email.SendTime)
	assert.Equal(t, models.DefaultPriority, email.Priority)

	require.Len(t, oracle.prompts, 1)
	assert.Contains(t, oracle.prompts[0], "2025-05-31 10:00:00 Saturday (Asia/Phnom_Penh, UTC+07:00)")
}

func TestExtract_PromptUsesHomeZone(t *testing.T) {
	oracle := &fakeOracle{reply: `{"reminder_text": "stretch", "remind_time": "now"}`}
	e := newExtractor(t, oracle)

	_, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentSetReminder}, "remind me to stretch", refTime(t).UTC())
	require.NoError(t, err)
	require.Len(t, oracle.prompts, 1)
	assert.Contains(t, oracle.prompts[0], "2025-05-31 10:00:00 Saturday (Asia/Phnom_Penh, UTC+07:00)")
}

func TestExtract_EmailWithoutAddressSkipsOracle(t *testing.T) {
	oracle := &fakeOracle{}
	e := newExtractor(t, oracle)

	_, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentSendEmail}, "send an email", refTime(t))
	assert.ErrorIs(t, err, ErrMissingRecipient)
	assert.Empty(t, oracle.prompts)
}

func TestExtract_EmailInvalidRecipient(t *testing.T) {
	oracle := &fakeOracle{reply: `{"recipient_email": "not-an-address", "subject": "s", "body": "b", "send_time": "now"}`}
	e := newExtractor(t, oracle)

	_, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentSendEmail}, "email bob@example.com hi", refTime(t))
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtract_RepairsAlmostJSON(t *testing.T) {
	oracle := &fakeOracle{reply: `{'reminder_text': 'call mom', 'remind_time': '2025-05-31 10:30', 'priority': 'high',}`}
	e := newExtractor(t, oracle)

	p, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentSetReminder}, "remind me in 30 minutes to call mom", refTime(t))
	require.NoError(t, err)
	r := p.(*models.ReminderPayload)
	assert.Equal(t, "call mom", r.Text)
	assert.Equal(t, "2025-05-31 10:30", r.RemindTime)
	assert.Equal(t, "high", r.Priority)
}

func TestExtract_ReminderFailureHasNoFallback(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("timeout")}
	e := newExtractor(t, oracle)

	_, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentSetReminder}, "remind me to stretch", refTime(t))
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtract_ReminderMissingTime(t *testing.T) {
	oracle := &fakeOracle{reply: `{"reminder_text": "stretch", "priority": "normal"}`}
	e := newExtractor(t, oracle)

	_, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentSetReminder}, "remind me to stretch", refTime(t))
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtract_MeetingFromOracle(t *testing.T) {
	oracle := &fakeOracle{reply: `{"title": "Sync with John", "date": "2025-06-01", "start_time": "14:00", "duration_minutes": 30}`}
	e := newExtractor(t, oracle)

	text := "schedule a meeting with John tomorrow at 2pm for 30 minutes"
	p, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentCreateEvent}, text, refTime(t))
	require.NoError(t, err)
	m := p.(*models.MeetingPayload)
	assert.Equal(t, "Sync with John", m.Title)
	assert.Equal(t, "14:30", m.EndTime)
	assert.Equal(t, "Created from: "+text, m.Description)
}

func TestExtract_MeetingFallsBack(t *testing.T) {
	e := newExtractor(t, nil)

	p, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentCreateEvent}, "schedule a meeting with John tomorrow at 2pm", refTime(t))
	require.NoError(t, err)
	m := p.(*models.MeetingPayload)
	assert.Equal(t, "Meeting", m.Title)
	assert.Equal(t, "2025-06-01", m.Date)
	assert.Equal(t, "14:00", m.StartTime)
	assert.Equal(t, "15:00", m.EndTime)
}

func TestExtract_NoPayloadIntent(t *testing.T) {
	e := newExtractor(t, &fakeOracle{})
	_, err := e.Extract(context.Background(), models.Intent{Kind: models.IntentNone}, "hi", refTime(t))
	assert.ErrorIs(t, err, ErrNotExtractable)
}

func TestFallbackStrategy(t *testing.T) {
	now := refTime(t)
	tests := []struct {
		text  string
		title string
		date  string
		start string
		end   string
	}{
		{"book a call today at 9:30am", "Call", "2025-05-31", "09:30", "10:30"},
		{"set up meeting", "Meeting", "2025-06-01", "14:00", "15:00"},
		{"presentation on monday at 16:45", "Presentation", "2025-06-02", "16:45", "17:45"},
		{"class next saturday 12am", "Class", "2025-06-07", "00:00", "01:00"},
		{"dinner at 11pm tomorrow", "Meeting", "2025-06-01", "23:00", "00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			p, err := FallbackStrategy{}.Extract(context.Background(), models.IntentCreateEvent, tt.text, now)
			require.NoError(t, err)
			m := p.(*models.MeetingPayload)
			assert.Equal(t, tt.title, m.Title)
			assert.Equal(t, tt.date, m.Date)
			assert.Equal(t, tt.start, m.StartTime)
			assert.Equal(t, tt.end, m.EndTime)
		})
	}
}

func TestDeleteTarget(t *testing.T) {
	e := newExtractor(t, nil)

	assert.Equal(t, "event", e.DeleteTarget(models.Intent{Kind: models.IntentDeletePattern, Pattern: "event"}, "remove all my events"))
	assert.Equal(t, "appointment", e.DeleteTarget(models.Intent{Kind: models.IntentDeletePattern}, "cancel my dentist appointment"))
	assert.Equal(t, "Team Lunch", e.DeleteTarget(models.Intent{Kind: models.IntentDeletePattern}, `delete my "Team Lunch"`))
	assert.Equal(t, "", e.DeleteTarget(models.Intent{Kind: models.IntentDeletePattern}, "delete my stuff"))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1} "))
}

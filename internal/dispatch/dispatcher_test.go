package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/assistant-bot/internal/extract"
	"github.com/xaenox/assistant-bot/internal/intent"
	"github.com/xaenox/assistant-bot/internal/metrics"
	"github.com/xaenox/assistant-bot/internal/models"
	"github.com/xaenox/assistant-bot/internal/storage"
	"github.com/xaenox/assistant-bot/internal/timeresolve"
)

type fakeOracle struct {
	reply string
	err   error
	calls int
}

func (f *fakeOracle) Complete(context.Context, string) (string, error) {
	f.calls++
	return f.reply, f.err
}

type sentMail struct{ to, subject, body string }

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, subject, body})
	return nil
}

type notification struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{chatID, text})
	return nil
}

type fakeCalendar struct {
	calls       int
	created     []*models.MeetingPayload
	deleted     []string
	cleared     int
	events      []models.Event
	panicOnCall bool
}

func (f *fakeCalendar) CreateEvent(_ context.Context, m *models.MeetingPayload) (*models.Event, error) {
	f.calls++
	if f.panicOnCall {
		panic("calendar exploded")
	}
	f.created = append(f.created, m)
	return &models.Event{ID: "evt1", Title: m.Title}, nil
}

func (f *fakeCalendar) ListUpcoming(context.Context, int, int) ([]models.Event, error) {
	f.calls++
	return f.events, nil
}

func (f *fakeCalendar) DeleteMatching(_ context.Context, pattern string) (int, error) {
	f.calls++
	f.deleted = append(f.deleted, pattern)
	return 2, nil
}

func (f *fakeCalendar) ClearAll(context.Context) (int, error) {
	f.calls++
	f.cleared++
	return 7, nil
}

type fakeChatter struct {
	events []models.Event
	calls  int
}

func (f *fakeChatter) Chat(_ context.Context, text string, _ time.Time, events []models.Event) (string, error) {
	f.calls++
	f.events = events
	return "hi there", nil
}

type fixture struct {
	d        *Dispatcher
	oracle   *fakeOracle
	mailer   *fakeMailer
	notifier *fakeNotifier
	chatter  *fakeChatter
	store    storage.Store
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	loc, err := time.LoadLocation("Asia/Phnom_Penh")
	require.NoError(t, err)
	now := time.Date(2025, 5, 31, 10, 0, 0, 0, loc)
	resolver, err := timeresolve.NewWithClock("Asia/Phnom_Penh", func() time.Time { return now })
	require.NoError(t, err)

	store, err := storage.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)

	f := &fixture{
		oracle:   &fakeOracle{},
		mailer:   &fakeMailer{},
		notifier: &fakeNotifier{},
		chatter:  &fakeChatter{},
		store:    store,
		now:      now,
	}
	f.d = New(Deps{
		Classifier: intent.New(nil),
		Extractor:  extract.New(f.oracle, resolver, logger),
		Resolver:   resolver,
		Store:      store,
		Mailer:     f.mailer,
		Notifier:   f.notifier,
		Chatter:    f.chatter,
		Metrics:    metrics.New(prometheus.NewRegistry()),
	}, logger)
	return f
}

func (f *fixture) handle(text string) Result {
	return f.d.Handle(context.Background(), models.Message{
		ID:     "req-1",
		Text:   text,
		Sender: models.Identity{ChatID: 42, UserID: 7},
	})
}

func (f *fixture) pending(t *testing.T) []*models.DeferredWorkItem {
	t.Helper()
	items, err := f.d.Pending(context.Background())
	require.NoError(t, err)
	return items
}

func TestHandle_ImmediateEmail(t *testing.T) {
	f := newFixture(t)
	f.oracle.reply = `{"recipient_email": "test@example.com", "subject": "Hello", "body": "Hello!", "send_time": "now", "priority": "normal"}`

	res := f.handle("email test@example.com now saying hello")

	assert.Equal(t, ResultDone, res.Kind)
	assert.Contains(t, res.Text, "test@example.com")
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "test@example.com", f.mailer.sent[0].to)
	assert.Empty(t, f.pending(t))
}

func TestHandle_ImmediateEmailTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.oracle.reply = `{"recipient_email": "test@example.com", "subject": "Hello", "body": "Hello!", "send_time": "now"}`
	f.mailer.err = errors.New("535 authentication failed")

	res := f.handle("email test@example.com now saying hello")

	assert.Equal(t, ResultFailed, res.Kind)
	assert.Contains(t, res.Text, "535 authentication failed")
	assert.Empty(t, f.pending(t))
}

func TestHandle_ScheduledEmail(t *testing.T) {
	f := newFixture(t)
	f.oracle.reply = `{"recipient_email": "boss@example.com", "subject": "Report", "body": "Attached.", "send_time": "2025-06-01 09:00"}`

	res := f.handle("email boss@example.com tomorrow at 9am about the report")

	require.Equal(t, ResultScheduled, res.Kind, res.Text)
	assert.Contains(t, res.Text, "2025-06-01 at 09:00")
	assert.Empty(t, f.mailer.sent)

	items := f.pending(t)
	require.Len(t, items, 1)
	assert.Equal(t, res.ItemID, items[0].ID)
	assert.Equal(t, models.KindEmail, items[0].Kind)
	assert.Equal(t, int64(42), items[0].ChatID)
}

func TestHandle_ScheduledReminder(t *testing.T) {
	f := newFixture(t)
	f.oracle.reply = `{"reminder_text": "call mom", "remind_time": "2025-05-31 10:30", "priority": "normal"}`

	res := f.handle("remind me in 30 minutes to call mom")

	require.Equal(t, ResultScheduled, res.Kind, res.Text)
	assert.Empty(t, f.notifier.sent)

	items := f.pending(t)
	require.Len(t, items, 1)
	assert.True(t, f.now.Add(30*time.Minute).Equal(items[0].ScheduledAt))
	assert.Equal(t, models.StatusPending, items[0].Status)
	assert.Equal(t, "call mom", items[0].Reminder.Text)
}

func TestHandle_ImmediateReminder(t *testing.T) {
	f := newFixture(t)
	f.oracle.reply = `{"reminder_text": "stand up", "remind_time": "now", "priority": "high"}`

	res := f.handle("remind me to stand up")

	assert.Equal(t, ResultDone, res.Kind)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, int64(42), f.notifier.sent[0].chatID)
	assert.Contains(t, f.notifier.sent[0].text, "high priority")
	assert.Empty(t, f.pending(t))
}

func TestHandle_MalformedEmail(t *testing.T) {
	f := newFixture(t)

	res := f.handle("send an email")

	assert.Equal(t, ResultFailed, res.Kind)
	assert.Contains(t, res.Text, "recipient email address")
	assert.Equal(t, 0, f.oracle.calls)
	assert.Empty(t, f.mailer.sent)
	assert.Empty(t, f.pending(t))
}

func TestHandle_UnparseableTime(t *testing.T) {
	f := newFixture(t)
	f.oracle.reply = `{"reminder_text": "water plants", "remind_time": "when the moon is blue"}`

	res := f.handle("remind me to water plants when the moon is blue")

	assert.Equal(t, ResultFailed, res.Kind)
	assert.Contains(t, res.Text, "when the moon is blue")
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.pending(t))
}

func TestHandle_ExtractionFailureHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = errors.New("oracle down")

	res := f.handle("remind me in 10 minutes to stretch")

	assert.Equal(t, ResultFailed, res.Kind)
	assert.Empty(t, f.pending(t))
	assert.Empty(t, f.notifier.sent)
}

func TestHandle_CalendarNotConnected(t *testing.T) {
	f := newFixture(t)

	res := f.handle("schedule a meeting with John tomorrow at 2pm")

	assert.Equal(t, ResultFailed, res.Kind)
	assert.Contains(t, res.Text, "/calendar_setup")
	assert.Equal(t, 0, f.oracle.calls)
}

func TestHandle_CreateEventUsesFallback(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = errors.New("oracle down")
	cal := &fakeCalendar{}
	f.d.SetCalendar(cal)

	res := f.handle("schedule a meeting with John tomorrow at 2pm")

	assert.Equal(t, ResultDone, res.Kind, res.Text)
	require.Len(t, cal.created, 1)
	assert.Equal(t, "2025-06-01", cal.created[0].Date)
	assert.Equal(t, "14:00", cal.created[0].StartTime)
}

func TestHandleAs_ForcesIntent(t *testing.T) {
	f := newFixture(t)
	f.oracle.reply = `{"recipient_email": "boss@example.com", "subject": "Report", "body": "Attached.", "send_time": "2025-06-01 09:00"}`
	msg := models.Message{ID: "req-2", Text: "boss@example.com tomorrow at 9am about the report", Sender: models.Identity{ChatID: 42}}

	res := f.d.HandleAs(context.Background(), msg, models.IntentSendEmail)

	require.Equal(t, ResultScheduled, res.Kind, res.Text)
	assert.Equal(t, 1, f.oracle.calls)
	require.Len(t, f.pending(t), 1)
	assert.Equal(t, 0, f.chatter.calls)
}

func TestHandleAs_CreateEvent(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = errors.New("oracle down")
	cal := &fakeCalendar{}
	f.d.SetCalendar(cal)
	msg := models.Message{ID: "req-3", Text: "Sok tomorrow at 1pm", Sender: models.Identity{ChatID: 42}}

	res := f.d.HandleAs(context.Background(), msg, models.IntentCreateEvent)

	assert.Equal(t, ResultDone, res.Kind, res.Text)
	require.Len(t, cal.created, 1)
	assert.Equal(t, "2025-06-01", cal.created[0].Date)
	assert.Equal(t, "13:00", cal.created[0].StartTime)
	assert.Equal(t, 0, f.chatter.calls)
}

func TestHandle_ClearAll(t *testing.T) {
	f := newFixture(t)
	cal := &fakeCalendar{}
	f.d.SetCalendar(cal)

	res := f.handle("clear my schedule")
	assert.Equal(t, ResultNeedsConfirmation, res.Kind)
	assert.Equal(t, 0, cal.calls)

	res = f.handle("clear my schedule, yes I'm sure")
	assert.Equal(t, ResultDone, res.Kind)
	assert.Equal(t, 1, cal.cleared)
	assert.Contains(t, res.Text, "7")
}

func TestHandle_DeletePattern(t *testing.T) {
	f := newFixture(t)
	cal := &fakeCalendar{}
	f.d.SetCalendar(cal)

	res := f.handle("cancel my dentist appointment")
	assert.Equal(t, ResultDone, res.Kind)
	assert.Equal(t, []string{"appointment"}, cal.deleted)

	res = f.handle("delete all my meetings")
	assert.Equal(t, ResultDone, res.Kind)
	assert.Equal(t, []string{"appointment", "meeting"}, cal.deleted)

	res = f.handle("delete my stuff")
	assert.Equal(t, ResultFailed, res.Kind)
	assert.Len(t, cal.deleted, 2)
}

func TestHandle_RecoversFromPanic(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = errors.New("oracle down")
	f.d.SetCalendar(&fakeCalendar{panicOnCall: true})

	var res Result
	assert.NotPanics(t, func() {
		res = f.handle("schedule a meeting tomorrow at 3pm")
	})
	assert.Equal(t, ResultFailed, res.Kind)
}

func TestHandle_ChatReplyWithCalendarContext(t *testing.T) {
	f := newFixture(t)
	cal := &fakeCalendar{events: []models.Event{{ID: "e1", Title: "Standup"}}}
	f.d.SetCalendar(cal)

	res := f.handle("What's on my calendar tomorrow?")
	assert.Equal(t, ResultReply, res.Kind)
	assert.Equal(t, "hi there", res.Text)
	require.Len(t, f.chatter.events, 1)

	res = f.handle("tell me a joke")
	assert.Equal(t, ResultReply, res.Kind)
	assert.Empty(t, f.chatter.events)
}

func TestHandle_NoChatter(t *testing.T) {
	f := newFixture(t)
	f.d.deps.Chatter = nil

	res := f.handle("hello")
	assert.Equal(t, ResultReply, res.Kind)
	assert.Contains(t, res.Text, "remind me")
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	f.oracle.reply = `{"reminder_text": "call mom", "remind_time": "2025-05-31 10:30"}`
	res := f.handle("remind me in 30 minutes to call mom")
	require.Equal(t, ResultScheduled, res.Kind)

	ok, err := f.d.Cancel(context.Background(), res.ItemID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.d.Cancel(context.Background(), res.ItemID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.pending(t))
}

func TestExecuteEmail_NoMailer(t *testing.T) {
	f := newFixture(t)
	f.d.deps.Mailer = nil

	err := f.d.ExecuteEmail(context.Background(), &models.EmailPayload{Recipient: "a@b.com"})
	assert.ErrorIs(t, err, ErrMailNotConfigured)
}

func TestExecuteReminder_NoChat(t *testing.T) {
	f := newFixture(t)
	err := f.d.ExecuteReminder(context.Background(), 0, &models.ReminderPayload{Text: "x"})
	assert.ErrorIs(t, err, ErrNoRecipientChat)
}

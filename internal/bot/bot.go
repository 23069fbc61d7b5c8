// Package bot is the Telegram surface of the assistant: it feeds chat
// messages to the dispatcher, answers commands and delivers notifications.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/dispatch"
	"github.com/xaenox/assistant-bot/internal/models"
	"github.com/xaenox/assistant-bot/internal/timeresolve"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageLength = 4000

// Assistant is the message pipeline behind the bot. Implemented by
// *dispatch.Dispatcher.
type Assistant interface {
	Handle(ctx context.Context, msg models.Message) dispatch.Result
	HandleAs(ctx context.Context, msg models.Message, kind models.IntentKind) dispatch.Result
	Pending(ctx context.Context) ([]*models.DeferredWorkItem, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Calendar() dispatch.Calendar
}

// CalendarAuth runs the Google OAuth flow from chat.
type CalendarAuth interface {
	AuthURL() string
	Exchange(ctx context.Context, code string) error
}

// DailyControl pauses and resumes the daily greeting. Implemented by
// *scheduler.Scheduler.
type DailyControl interface {
	SetDailyPaused(paused bool)
	DailyPaused() bool
}

// MailHealth reports the circuit breaker state of the mail transport.
type MailHealth interface {
	State() gobreaker.State
}

// sender is the part of *tgbotapi.BotAPI used to talk to chats.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Config struct {
	Token string
	// OwnerChatID, when set, is the only chat the bot answers.
	OwnerChatID int64
}

type Bot struct {
	api       *tgbotapi.BotAPI
	client    sender
	assistant Assistant
	resolver  *timeresolve.Resolver
	owner     int64
	logger    *zap.Logger

	auth                CalendarAuth
	onCalendarConnected func(ctx context.Context) error
	daily               DailyControl
	mail                MailHealth

	wg sync.WaitGroup
}

// New connects to Telegram. The bot can deliver notifications right away;
// SetAssistant must be called before Start.
func New(cfg Config, resolver *timeresolve.Resolver, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Authorized on Telegram", zap.String("username", api.Self.UserName))

	b := newBot(api, nil, resolver, cfg.OwnerChatID, logger)
	b.api = api
	return b, nil
}

func newBot(client sender, assistant Assistant, resolver *timeresolve.Resolver, owner int64, logger *zap.Logger) *Bot {
	if owner == 0 {
		logger.Warn("No owner chat configured; every chat can send email and change the calendar (set telegram.owner_chat_id)")
	}
	return &Bot{
		client:    client,
		assistant: assistant,
		resolver:  resolver,
		owner:     owner,
		logger:    logger,
	}
}

func (b *Bot) SetAssistant(a Assistant) {
	b.assistant = a
}

// SetCalendarAuth enables /calendar_setup and /calendar_auth. connected runs
// after a successful code exchange and should attach the calendar.
func (b *Bot) SetCalendarAuth(auth CalendarAuth, connected func(ctx context.Context) error) {
	b.auth = auth
	b.onCalendarConnected = connected
}

// SetDailyControl enables /stop and lets /start resume the daily greeting.
func (b *Bot) SetDailyControl(d DailyControl) {
	b.daily = d
}

// SetMailHealth adds the mail transport state to /status.
func (b *Bot) SetMailHealth(m MailHealth) {
	b.mail = m
}

// Start polls Telegram for updates until ctx is cancelled, then waits for
// in-flight messages to finish.
func (b *Bot) Start(ctx context.Context) error {
	if b.assistant == nil {
		return errors.New("bot has no assistant attached")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.wg.Add(1)
			go func(m *tgbotapi.Message) {
				defer b.wg.Done()
				b.handleMessage(ctx, m)
			}(update.Message)
		}
	}
}

// Notify sends text to chatID, split into several messages when long.
func (b *Bot) Notify(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitMessage(text, maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.client.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
		}
	}
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.Chat == nil {
		return
	}
	if b.owner != 0 && message.Chat.ID != b.owner {
		b.logger.Warn("Ignoring message from unknown chat", zap.Int64("chat_id", message.Chat.ID))
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	b.typing(message.Chat.ID)
	res := b.assistant.Handle(ctx, newMessage(message, content))
	b.reply(message, res.Text)
}

func newMessage(message *tgbotapi.Message, content string) models.Message {
	msg := models.Message{
		ID:         uuid.New().String(),
		Text:       content,
		Sender:     models.Identity{ChatID: message.Chat.ID},
		ReceivedAt: time.Now(),
	}
	if message.From != nil {
		msg.Sender.UserID = message.From.ID
		msg.Sender.Name = message.From.FirstName
	}
	return msg
}

func (b *Bot) typing(chatID int64) {
	if _, err := b.client.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send typing action", zap.Error(err))
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "stop":
		b.handleStop(message)
	case "help":
		b.handleHelp(message)
	case "status":
		b.handleStatus(ctx, message)
	case "pending":
		b.handlePending(ctx, message)
	case "cancel":
		b.handleCancel(ctx, message)
	case "calendar_setup":
		b.handleCalendarSetup(message)
	case "calendar_auth":
		b.handleCalendarAuth(ctx, message)
	case "events":
		b.handleEvents(ctx, message)
	case "email":
		b.handleForced(ctx, message, models.IntentSendEmail,
			"Usage: /email <request>, e.g. /email john@example.com tomorrow at 9am about the report")
	case "create_meeting":
		b.handleForced(ctx, message, models.IntentCreateEvent,
			"Usage: /create_meeting <details>, e.g. /create_meeting project sync on monday at 10am")
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Hi! I'm your personal assistant 🤖

I can schedule meetings on your Google Calendar, send emails and set reminders.
Just tell me what you need, e.g. "remind me in 30 minutes to call mom".
Use /help to see all available commands.`

	if b.daily != nil && b.daily.DailyPaused() {
		b.daily.SetDailyPaused(false)
		welcome += "\n\n☀️ Daily check-ins are back on."
	}
	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleStop(message *tgbotapi.Message) {
	if b.daily == nil {
		b.sendMessage(message.Chat.ID, "Daily check-ins are not enabled.")
		return
	}
	b.daily.SetDailyPaused(true)
	b.sendMessage(message.Chat.ID, "😴 Daily check-ins paused. I'm still here for everything else. Use /start to turn them back on.")
}

// handleForced runs the command arguments through the pipeline as the given
// intent, skipping classification.
func (b *Bot) handleForced(ctx context.Context, message *tgbotapi.Message, kind models.IntentKind, usage string) {
	args := strings.TrimSpace(message.CommandArguments())
	if args == "" {
		b.sendMessage(message.Chat.ID, usage)
		return
	}
	b.typing(message.Chat.ID)
	res := b.assistant.HandleAs(ctx, newMessage(message, args), kind)
	b.reply(message, res.Text)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot (resumes daily check-ins)
/stop - Pause the daily check-in
/help - Show this help message
/status - Show assistant status
/pending - List scheduled emails and reminders
/cancel <id> - Cancel a scheduled email or reminder
/calendar_setup - Connect your Google Calendar
/calendar_auth <code> - Finish connecting your Google Calendar
/events - Show upcoming events
/email <request> - Send or schedule an email
/create_meeting <details> - Add an event to your calendar

Examples:
- schedule a meeting with John tomorrow at 2pm
- email john@example.com tomorrow at 9am about the report
- remind me at 5pm to buy milk
- delete my meeting
- clear my calendar, yes I'm sure`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleStatus(ctx context.Context, message *tgbotapi.Message) {
	items, err := b.assistant.Pending(ctx)
	if err != nil {
		b.logger.Error("Failed to list pending items", zap.Error(err))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't read the pending items.")
		return
	}
	emails, reminders := 0, 0
	for _, item := range items {
		switch item.Kind {
		case models.KindEmail:
			emails++
		case models.KindReminder:
			reminders++
		}
	}

	calendar := "not connected (use /calendar_setup)"
	if b.assistant.Calendar() != nil {
		calendar = "connected"
	}

	daily := "disabled"
	if b.daily != nil {
		daily = "active"
		if b.daily.DailyPaused() {
			daily = "paused (use /start to resume)"
		}
	}

	now := b.resolver.Now()
	text := fmt.Sprintf("🟢 Assistant is running\n🕐 Local time: %s (%s)\n📅 Calendar: %s\n✉️ Email: %s\n☀️ Daily check-in: %s\n📧 Pending emails: %d\n⏰ Pending reminders: %d",
		now.Format("2006-01-02 15:04"), b.resolver.Location(), calendar, mailStatus(b.mail), daily, emails, reminders)
	b.sendMessage(message.Chat.ID, text)
}

func mailStatus(m MailHealth) string {
	if m == nil {
		return "disabled"
	}
	switch m.State() {
	case gobreaker.StateOpen:
		return "paused after repeated failures"
	case gobreaker.StateHalfOpen:
		return "recovering"
	default:
		return "ready"
	}
}

func (b *Bot) handlePending(ctx context.Context, message *tgbotapi.Message) {
	items, err := b.assistant.Pending(ctx)
	if err != nil {
		b.logger.Error("Failed to list pending items", zap.Error(err))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't read the pending items.")
		return
	}
	b.sendMessage(message.Chat.ID, formatPending(items, b.resolver))
}

func formatPending(items []*models.DeferredWorkItem, resolver *timeresolve.Resolver) string {
	if len(items) == 0 {
		return "Nothing scheduled."
	}
	var sb strings.Builder
	sb.WriteString("Scheduled items:\n")
	for _, item := range items {
		icon := "⏰"
		if item.Kind == models.KindEmail {
			icon = "📧"
		}
		fmt.Fprintf(&sb, "\n%s %s: %s\nID: %s\n", icon, resolver.Describe(item.ScheduledAt), item.Summary(), item.ID)
	}
	sb.WriteString("\nUse /cancel <id> to cancel an item.")
	return sb.String()
}

func (b *Bot) handleCancel(ctx context.Context, message *tgbotapi.Message) {
	id := strings.TrimSpace(message.CommandArguments())
	if id == "" {
		b.sendMessage(message.Chat.ID, "Usage: /cancel <id>. Use /pending to see the ids.")
		return
	}
	ok, err := b.assistant.Cancel(ctx, id)
	if err != nil {
		b.logger.Error("Failed to cancel item", zap.Error(err), zap.String("item_id", id))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't cancel that item. Please try again.")
		return
	}
	if !ok {
		b.sendMessage(message.Chat.ID, fmt.Sprintf("Nothing pending with ID %s. It may have already been sent.", id))
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("✅ Cancelled %s.", id))
}

func (b *Bot) handleCalendarSetup(message *tgbotapi.Message) {
	if b.auth == nil {
		b.sendMessage(message.Chat.ID, "Google integration is not configured. Add the OAuth credentials file to the configuration and restart.")
		return
	}
	text := fmt.Sprintf(`To connect your Google Calendar:

1. Open this link and allow access:
%s

2. Copy the authorization code and send:
/calendar_auth <code>`, b.auth.AuthURL())
	b.sendMessage(message.Chat.ID, text)
}

func (b *Bot) handleCalendarAuth(ctx context.Context, message *tgbotapi.Message) {
	if b.auth == nil {
		b.sendMessage(message.Chat.ID, "Google integration is not configured.")
		return
	}
	code := strings.TrimSpace(message.CommandArguments())
	if code == "" {
		b.sendMessage(message.Chat.ID, "Usage: /calendar_auth <code>. Use /calendar_setup to get a code.")
		return
	}
	if err := b.auth.Exchange(ctx, code); err != nil {
		b.logger.Error("Calendar authorization failed", zap.Error(err))
		b.sendErrorMessage(message.Chat.ID, "Authorization failed. Please run /calendar_setup and try again with a fresh code.")
		return
	}
	if b.onCalendarConnected != nil {
		if err := b.onCalendarConnected(ctx); err != nil {
			b.logger.Error("Failed to connect calendar", zap.Error(err))
			b.sendErrorMessage(message.Chat.ID, "Authorized, but I couldn't connect to your calendar. Please try again later.")
			return
		}
	}
	b.sendMessage(message.Chat.ID, "✅ Google Calendar connected!")
}

func (b *Bot) handleEvents(ctx context.Context, message *tgbotapi.Message) {
	cal := b.assistant.Calendar()
	if cal == nil {
		b.sendMessage(message.Chat.ID, "Calendar is not connected. Use /calendar_setup to connect your Google Calendar.")
		return
	}
	events, err := cal.ListUpcoming(ctx, 10, 7)
	if err != nil {
		b.logger.Error("Failed to list events", zap.Error(err))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't load your events.")
		return
	}
	b.sendMessage(message.Chat.ID, formatEvents(events, b.resolver.Location()))
}

func formatEvents(events []models.Event, loc *time.Location) string {
	if len(events) == 0 {
		return "📅 No upcoming events in the next 7 days."
	}
	var sb strings.Builder
	sb.WriteString("📅 Upcoming events:\n")
	for _, e := range events {
		if e.IsAllDay {
			fmt.Fprintf(&sb, "\n• %s (all day) %s", e.Start.In(loc).Format("Mon Jan 2"), e.Title)
		} else {
			fmt.Fprintf(&sb, "\n• %s %s", e.Start.In(loc).Format("Mon Jan 2 15:04"), e.Title)
		}
		if e.Location != "" {
			fmt.Fprintf(&sb, " @ %s", e.Location)
		}
	}
	return sb.String()
}

// splitMessage cuts text into parts of at most limit characters, preferring
// newline and then space boundaries.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := lastIndex(runes[:limit], '\n')
		if cut <= 0 {
			cut = lastIndex(runes[:limit], ' ')
		}
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = trimLeading(runes[cut:])
	}
	if rest := strings.TrimRight(string(runes), " \n"); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func lastIndex(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

func trimLeading(runes []rune) []rune {
	for len(runes) > 0 && (runes[0] == ' ' || runes[0] == '\n') {
		runes = runes[1:]
	}
	return runes
}

func (b *Bot) reply(message *tgbotapi.Message, text string) {
	for i, part := range splitMessage(text, maxMessageLength) {
		msg := tgbotapi.NewMessage(message.Chat.ID, part)
		if i == 0 {
			msg.ReplyToMessageID = message.MessageID
		}
		if _, err := b.client.Send(msg); err != nil {
			b.logger.Error("Failed to send reply",
				zap.Error(err),
				zap.Int64("chat_id", message.Chat.ID))
			return
		}
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if err := b.Notify(context.Background(), chatID, text); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.sendMessage(chatID, "⚠️ "+text)
}

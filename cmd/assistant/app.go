package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/assistant-bot/internal/bot"
	"github.com/xaenox/assistant-bot/internal/dispatch"
	"github.com/xaenox/assistant-bot/internal/extract"
	"github.com/xaenox/assistant-bot/internal/google"
	"github.com/xaenox/assistant-bot/internal/intent"
	"github.com/xaenox/assistant-bot/internal/llm"
	"github.com/xaenox/assistant-bot/internal/mail"
	"github.com/xaenox/assistant-bot/internal/metrics"
	"github.com/xaenox/assistant-bot/internal/scheduler"
	"github.com/xaenox/assistant-bot/internal/storage"
	"github.com/xaenox/assistant-bot/internal/timeresolve"
	"github.com/xaenox/assistant-bot/pkg/config"
)

// app owns every long-lived component of a running assistant.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	resolver   *timeresolve.Resolver
	registry   *prometheus.Registry
	store      storage.Store
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	bot        *bot.Bot

	auth  *google.Authenticator
	gmail *mail.Swappable
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	resolver, err := timeresolve.New(cfg.Assistant.Timezone)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, resolver: resolver, store: store}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	b, err := bot.New(bot.Config{
		Token:       cfg.Telegram.Token,
		OwnerChatID: cfg.Telegram.OwnerChatID,
	}, resolver, logger.Named("bot"))
	if err != nil {
		store.Close()
		return nil, err
	}
	a.bot = b

	var (
		oracle  extract.Oracle
		chatter dispatch.Chatter
	)
	if cfg.OpenAI.APIKey != "" {
		o := newOracle(cfg, logger.Named("llm"))
		oracle, chatter = o, o
	} else {
		logger.Warn("OpenAI API key not set; using the rule-based meeting parser only")
	}

	breaker, err := a.newMailer()
	if err != nil {
		store.Close()
		return nil, err
	}
	var mailer dispatch.Mailer
	if breaker != nil {
		mailer = breaker
		b.SetMailHealth(breaker)
	}

	// Shared by the dispatcher and the scheduler so a cancel cannot
	// interleave with a scan.
	workLock := &sync.Mutex{}

	a.dispatcher = dispatch.New(dispatch.Deps{
		Classifier: intent.New(cfg.Assistant.ConfirmationKeywords),
		Extractor:  extract.New(oracle, resolver, logger.Named("extract")),
		Resolver:   resolver,
		Store:      store,
		Mailer:     mailer,
		Notifier:   b,
		Chatter:    chatter,
		Metrics:    m,
		WorkLock:   workLock,
	}, logger.Named("dispatch"))
	b.SetAssistant(a.dispatcher)

	a.scheduler = scheduler.New(scheduler.Config{
		EmailScanInterval:     cfg.Assistant.EmailScanInterval(),
		ReminderScanInterval:  cfg.Assistant.ReminderScanInterval(),
		CalendarScanInterval:  cfg.Assistant.CalendarScanInterval(),
		RetentionDays:         cfg.Assistant.RetentionDays,
		ReminderBeforeMinutes: cfg.Assistant.ReminderBeforeMinutes,
		ReminderAtEventTime:   cfg.Assistant.ReminderAtEventTime,
		SentReminderCap:       cfg.Assistant.SentReminderCap,
		DailyMessageEnabled:   cfg.Assistant.DailyMessage.Enabled,
		DailyMessageHour:      cfg.Assistant.DailyMessage.Hour,
		DailyMessageMinute:    cfg.Assistant.DailyMessage.Minute,
		OwnerChatID:           cfg.Telegram.OwnerChatID,
	}, scheduler.Deps{
		Store:    store,
		Executor: a.dispatcher,
		Notifier: b,
		Resolver: resolver,
		Metrics:  m,
		WorkLock: workLock,
	}, logger.Named("scheduler"))
	if cfg.Assistant.DailyMessage.Enabled {
		b.SetDailyControl(a.scheduler)
	}

	a.setupGoogle(ctx)
	return a, nil
}

func newOracle(cfg *config.Config, logger *zap.Logger) *llm.OpenAIOracle {
	profile, err := cfg.Assistant.LoadProfile()
	if err != nil {
		logger.Warn("Failed to load the owner profile; chatting without it", zap.Error(err))
	}
	return llm.NewOpenAIOracle(llm.Config{
		APIKey:           cfg.OpenAI.APIKey,
		Model:            cfg.OpenAI.Model,
		BaseURL:          cfg.OpenAI.BaseURL,
		MaxTokens:        cfg.OpenAI.MaxTokens,
		Temperature:      cfg.OpenAI.Temperature,
		Timeout:          time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
		FailureThreshold: cfg.OpenAI.FailureThreshold,
		CooldownPeriod:   time.Duration(cfg.OpenAI.CooldownSeconds) * time.Second,
		Profile:          profile,
	}, logger)
}

// newMailer builds the configured transport behind a circuit breaker. It
// returns nil when email sending is disabled.
func (a *app) newMailer() (*mail.Breaker, error) {
	mc := a.cfg.Mail
	cooldown := time.Duration(mc.BreakerCooldownSeconds) * time.Second
	logger := a.logger.Named("mail")

	var transport mail.Sender
	switch mc.Transport {
	case "":
		logger.Info("Email sending disabled")
		return nil, nil
	case "smtp":
		if mc.SMTP.Username == "" || mc.SMTP.Password == "" {
			logger.Warn("SMTP credentials not set; email sending disabled")
			return nil, nil
		}
		transport = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     mc.SMTP.Host,
			Port:     mc.SMTP.Port,
			Username: mc.SMTP.Username,
			Password: mc.SMTP.Password,
			FromName: mc.FromName,
		}, logger)
	case "gmail":
		a.gmail = mail.NewSwappable("connect Google with /calendar_setup first")
		transport = a.gmail
	default:
		return nil, fmt.Errorf("unknown mail transport %q", mc.Transport)
	}
	return mail.NewBreaker(mc.Transport, transport, mc.BreakerThreshold, cooldown, logger), nil
}

// setupGoogle enables the OAuth commands when client credentials exist and
// connects right away if a token was stored earlier.
func (a *app) setupGoogle(ctx context.Context) {
	gc := a.cfg.Google
	if _, err := os.Stat(gc.CredentialsFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.logger.Info("Google credentials not found; calendar integration disabled",
				zap.String("credentials_file", gc.CredentialsFile))
		} else {
			a.logger.Warn("Failed to read Google credentials", zap.Error(err))
		}
		return
	}

	auth, err := google.NewAuthenticator(gc.CredentialsFile, gc.TokenFile, a.logger.Named("google"))
	if err != nil {
		a.logger.Error("Failed to load Google credentials", zap.Error(err))
		return
	}
	a.auth = auth
	a.bot.SetCalendarAuth(auth, a.connectGoogle)

	if !auth.Authorized() {
		a.logger.Info("Google account not authorized yet; use /calendar_setup")
		return
	}
	if err := a.connectGoogle(ctx); err != nil {
		a.logger.Error("Failed to connect Google services", zap.Error(err))
	}
}

// connectGoogle attaches the calendar (and the Gmail transport when
// selected) using the stored token.
func (a *app) connectGoogle(ctx context.Context) error {
	client, err := a.auth.Client(ctx)
	if err != nil {
		return err
	}
	logger := a.logger.Named("google")

	cal, err := google.NewCalendarService(ctx, client, a.resolver.Location(), logger)
	if err != nil {
		return err
	}
	a.dispatcher.SetCalendar(cal)
	a.scheduler.SetCalendar(cal)

	if a.gmail != nil {
		sender, err := google.NewGmailSender(ctx, client, a.cfg.Mail.SMTP.Username, a.cfg.Mail.FromName, logger)
		if err != nil {
			return err
		}
		a.gmail.Set(sender)
	}
	logger.Info("Google services connected")
	return nil
}

// Run serves until ctx is cancelled or a component fails.
func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.bot.Start(gctx)
	})
	g.Go(func() error {
		return a.scheduler.Start(gctx)
	})
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, addr, a.registry, a.logger)
		})
	}

	a.logger.Info("Assistant started",
		zap.String("timezone", a.cfg.Assistant.Timezone),
		zap.String("storage", a.cfg.Storage.Driver),
		zap.Int64("owner_chat_id", a.cfg.Telegram.OwnerChatID))
	return g.Wait()
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close storage", zap.Error(err))
	}
}

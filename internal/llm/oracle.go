// Package llm is the text oracle: single-shot completions over an
// OpenAI-compatible chat API, guarded by a circuit breaker.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/models"
)

var ErrEmptyResponse = errors.New("oracle returned no choices")

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	// Timeout bounds a single completion call.
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// CooldownPeriod is how long the breaker stays open.
	CooldownPeriod time.Duration
	// Profile describes the owner and is added to every chat prompt.
	Profile string
}

type OpenAIOracle struct {
	client *openai.Client
	cfg    Config
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewOpenAIOracle(cfg Config, logger *zap.Logger) *OpenAIOracle {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "text-oracle",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &OpenAIOracle{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// Complete sends prompt as a single user message and returns the reply text.
func (o *OpenAIOracle) Complete(ctx context.Context, prompt string) (string, error) {
	return o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	})
}

// Chat produces a conversational reply. events, when non-empty, are
// listed in the system prompt so calendar questions get grounded answers.
func (o *OpenAIOracle) Chat(ctx context.Context, text string, now time.Time, events []models.Event) (string, error) {
	return o.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: chatSystemPrompt(now, o.cfg.Profile, events)},
		{Role: openai.ChatMessageRoleUser, Content: text},
	})
}

func (o *OpenAIOracle) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	result, err := o.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()

		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       o.cfg.Model,
			Messages:    messages,
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: float32(o.cfg.Temperature),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
	if err != nil {
		o.logger.Error("Failed to get oracle response", zap.Error(err))
		return "", fmt.Errorf("oracle completion failed: %w", err)
	}
	return result.(string), nil
}

func chatSystemPrompt(now time.Time, profile string, events []models.Event) string {
	var b strings.Builder
	b.WriteString("You are a helpful personal assistant chatting over Telegram. Keep answers short and friendly.\n")
	fmt.Fprintf(&b, "Current date and time: %s (%s).\n", now.Format("Monday, 2006-01-02 15:04"), now.Location())
	if profile = strings.TrimSpace(profile); profile != "" {
		b.WriteString("\nAbout the user you are helping:\n")
		b.WriteString(profile)
		b.WriteString("\n")
	}
	if len(events) == 0 {
		return b.String()
	}
	b.WriteString("\nThe user's upcoming calendar events:\n")
	for _, e := range events {
		if e.IsAllDay {
			fmt.Fprintf(&b, "- %s (all day %s)\n", e.Title, e.Start.In(now.Location()).Format("Mon Jan 2"))
			continue
		}
		fmt.Fprintf(&b, "- %s at %s\n", e.Title, e.Start.In(now.Location()).Format("Mon Jan 2 15:04"))
	}
	return b.String()
}

// Package extract pulls structured action parameters out of free text.
//
// Extraction is a two-stage strategy: the primary strategy asks the text
// oracle for a JSON object, and for calendar events a deterministic parser
// takes over when the oracle fails. Emails and reminders have no fallback.
package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/models"
	"github.com/xaenox/assistant-bot/internal/timeresolve"
)

var (
	// ErrExtractionFailed means no valid payload could be produced.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrMissingRecipient means an email request named no address at all.
	ErrMissingRecipient = errors.New("no recipient email address in request")
	// ErrNotExtractable is returned for intents that carry no payload.
	ErrNotExtractable = errors.New("intent has no payload to extract")
)

var addressRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// Oracle is a single-shot text completion service.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Strategy produces a payload for one intent kind.
type Strategy interface {
	Extract(ctx context.Context, kind models.IntentKind, text string, now time.Time) (models.Payload, error)
}

// Extractor selects between the primary and the fallback strategy.
type Extractor struct {
	primary  Strategy
	fallback Strategy
	logger   *zap.Logger
}

// New returns an Extractor using the oracle as primary strategy and the
// deterministic meeting parser as fallback. oracle may be nil, in which case
// every primary attempt fails.
func New(oracle Oracle, resolver *timeresolve.Resolver, logger *zap.Logger) *Extractor {
	return NewWithStrategies(NewOracleStrategy(oracle, resolver, logger), FallbackStrategy{}, logger)
}

// NewWithStrategies wires explicit strategies.
func NewWithStrategies(primary, fallback Strategy, logger *zap.Logger) *Extractor {
	return &Extractor{primary: primary, fallback: fallback, logger: logger}
}

// Extract returns the payload for intent. now must be the reference time of
// the message in the assistant's home zone.
func (e *Extractor) Extract(ctx context.Context, intent models.Intent, text string, now time.Time) (models.Payload, error) {
	switch intent.Kind {
	case models.IntentSendEmail:
		if !addressRe.MatchString(text) {
			return nil, ErrMissingRecipient
		}
		p, err := e.primary.Extract(ctx, intent.Kind, text, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		return p, nil

	case models.IntentSetReminder:
		p, err := e.primary.Extract(ctx, intent.Kind, text, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		return p, nil

	case models.IntentCreateEvent:
		p, err := e.primary.Extract(ctx, intent.Kind, text, now)
		if err == nil {
			return p, nil
		}
		e.logger.Warn("Oracle meeting extraction failed, using fallback parser", zap.Error(err))
		p, err = e.fallback.Extract(ctx, intent.Kind, text, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		return p, nil
	}
	return nil, ErrNotExtractable
}

// DeleteTarget returns the title pattern a delete request refers to, or ""
// when nothing usable was found and the user has to clarify.
func (e *Extractor) DeleteTarget(intent models.Intent, text string) string {
	if intent.Pattern != "" {
		return intent.Pattern
	}
	return DeletePattern(text)
}

var (
	deleteVocabulary = []string{"meeting", "class", "appointment", "call"}
	quotedRe         = regexp.MustCompile(`"([^"]*)"`)
)

// DeletePattern finds a deletable event kind in text: a fixed vocabulary
// first, then the first double-quoted substring.
func DeletePattern(text string) string {
	lower := strings.ToLower(text)
	for _, w := range deleteVocabulary {
		if strings.Contains(lower, w) {
			return w
		}
	}
	if m := quotedRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Sender is any mail transport.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Breaker stops hammering a failing transport. While open, Send fails fast
// with gobreaker.ErrOpenState and the item is marked failed.
type Breaker struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(name string, next Sender, failureThreshold uint32, cooldown time.Duration, logger *zap.Logger) *Breaker {
	if failureThreshold == 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    5 * time.Minute,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

func (b *Breaker) Send(ctx context.Context, to, subject, body string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, to, subject, body)
	})
	return err
}

// State exposes the breaker state for /status.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// ErrNotConnected is returned by a Swappable with no transport attached.
var ErrNotConnected = errors.New("mail transport is not connected")

// Swappable forwards to a transport attached at runtime, e.g. Gmail after
// the OAuth flow completes.
type Swappable struct {
	mu   sync.RWMutex
	next Sender
	hint string
}

// NewSwappable returns an empty Swappable. hint is appended to
// ErrNotConnected to tell the user how to connect.
func NewSwappable(hint string) *Swappable {
	return &Swappable{hint: hint}
}

func (s *Swappable) Set(next Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = next
}

func (s *Swappable) Send(ctx context.Context, to, subject, body string) error {
	s.mu.RLock()
	next := s.next
	s.mu.RUnlock()
	if next == nil {
		if s.hint != "" {
			return fmt.Errorf("%w: %s", ErrNotConnected, s.hint)
		}
		return ErrNotConnected
	}
	return next.Send(ctx, to, subject, body)
}

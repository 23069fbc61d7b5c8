// Package storage persists deferred work items and the calendar reminder
// marks that keep event notifications at-most-once.
package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/models"
)

var (
	ErrNotFound  = errors.New("work item not found")
	ErrDuplicate = errors.New("work item already exists")
)

// Store is the deferred work store. Every mutation is durable when it
// returns and is atomic per id.
type Store interface {
	// Insert assigns an id when item.ID is empty and persists item as pending.
	Insert(ctx context.Context, item *models.DeferredWorkItem) (string, error)
	Get(ctx context.Context, id string) (*models.DeferredWorkItem, error)
	// ListPending returns pending items of kind in ascending scheduled time.
	ListPending(ctx context.Context, kind models.WorkKind) ([]*models.DeferredWorkItem, error)
	// Mark moves a pending item to a terminal status. It reports false and
	// leaves the item alone when the item is no longer pending.
	Mark(ctx context.Context, id string, status models.WorkStatus, at time.Time, reason string) (bool, error)
	// Cancel reports true only if the item existed and was pending.
	Cancel(ctx context.Context, id string) (bool, error)
	// Purge deletes terminal items created before olderThan.
	Purge(ctx context.Context, olderThan time.Time) (int, error)

	HasReminderMark(ctx context.Context, id string) (bool, error)
	AddReminderMark(ctx context.Context, id string) error
	ReminderMarkCount(ctx context.Context) (int, error)
	ClearReminderMarks(ctx context.Context) error

	Close() error
}

type Config struct {
	// Driver is one of "file", "postgres" or "sqlite".
	Driver string
	// Dir holds the JSON documents of the file driver.
	Dir string
	// DSN is the connection string of the SQL drivers.
	DSN string
}

// Open returns the store selected by cfg.Driver.
func Open(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Dir, logger)
	case "postgres", "sqlite":
		return NewSQLStore(cfg.Driver, cfg.DSN, logger)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// idSource issues ULID-based ids prefixed with the item kind, e.g.
// "reminder_01J0...". Ids sort by creation time.
type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next(kind models.WorkKind, t time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return string(kind) + "_" + id.String(), nil
}

// prepareInsert fills the defaults shared by every Store implementation.
func prepareInsert(ids *idSource, item *models.DeferredWorkItem) error {
	if item.Kind != models.KindEmail && item.Kind != models.KindReminder {
		return fmt.Errorf("unknown work kind %q", item.Kind)
	}
	if isNilPayload(item) {
		return fmt.Errorf("%s item has no payload", item.Kind)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.Status == "" {
		item.Status = models.StatusPending
	}
	if item.ID == "" {
		id, err := ids.next(item.Kind, item.CreatedAt)
		if err != nil {
			return err
		}
		item.ID = id
	}
	return nil
}

func isNilPayload(item *models.DeferredWorkItem) bool {
	switch item.Kind {
	case models.KindEmail:
		return item.Email == nil
	case models.KindReminder:
		return item.Reminder == nil
	}
	return true
}

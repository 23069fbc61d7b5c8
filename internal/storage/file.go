package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/assistant-bot/internal/models"
)

const (
	pendingEmailsFile    = "pending_emails.json"
	pendingRemindersFile = "pending_reminders.json"
	sentRemindersFile    = "sent_reminders.json"
)

type itemDocument map[string]*models.DeferredWorkItem

// FileStore keeps one JSON document per work kind plus one for reminder
// marks. Every mutation rewrites the whole document through a temp file and
// a rename, so a crash leaves either the old or the new document.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	ids    *idSource
	logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{dir: dir, ids: newIDSource(), logger: logger}, nil
}

func (s *FileStore) Insert(ctx context.Context, item *models.DeferredWorkItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := prepareInsert(s.ids, item); err != nil {
		return "", err
	}
	name := documentFor(item.Kind)
	doc := s.readItems(name)
	if _, exists := doc[item.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, item.ID)
	}
	doc[item.ID] = item
	if err := s.write(name, doc); err != nil {
		return "", err
	}
	return item.ID, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.DeferredWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _, item := s.find(id)
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

func (s *FileStore) ListPending(ctx context.Context, kind models.WorkKind) ([]*models.DeferredWorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []*models.DeferredWorkItem
	for _, item := range s.readItems(documentFor(kind)) {
		if item.Status == models.StatusPending {
			items = append(items, item)
		}
	}
	sortByScheduled(items)
	return items, nil
}

func (s *FileStore) Mark(ctx context.Context, id string, status models.WorkStatus, at time.Time, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, doc, item := s.find(id)
	if item == nil {
		return false, ErrNotFound
	}
	if item.Status != models.StatusPending {
		return false, nil
	}
	applyMark(item, status, at, reason)
	if err := s.write(name, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, doc, item := s.find(id)
	if item == nil || item.Status != models.StatusPending {
		return false, nil
	}
	item.Status = models.StatusCancelled
	if err := s.write(name, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, name := range []string{pendingEmailsFile, pendingRemindersFile} {
		doc := s.readItems(name)
		n := 0
		for id, item := range doc {
			if item.Status.Terminal() && item.CreatedAt.Before(olderThan) {
				delete(doc, id)
				n++
			}
		}
		if n == 0 {
			continue
		}
		if err := s.write(name, doc); err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (s *FileStore) HasReminderMark(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.readMarks() {
		if m == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *FileStore) AddReminderMark(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	marks := s.readMarks()
	for _, m := range marks {
		if m == id {
			return nil
		}
	}
	return s.write(sentRemindersFile, append(marks, id))
}

func (s *FileStore) ReminderMarkCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.readMarks()), nil
}

func (s *FileStore) ClearReminderMarks(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(sentRemindersFile, []string{})
}

func (s *FileStore) Close() error {
	return nil
}

// find looks an id up in both item documents.
func (s *FileStore) find(id string) (string, itemDocument, *models.DeferredWorkItem) {
	for _, name := range []string{pendingEmailsFile, pendingRemindersFile} {
		doc := s.readItems(name)
		if item, ok := doc[id]; ok {
			return name, doc, item
		}
	}
	return "", nil, nil
}

func (s *FileStore) readItems(name string) itemDocument {
	doc := itemDocument{}
	if !s.read(name, &doc) {
		return itemDocument{}
	}
	for id, item := range doc {
		if item == nil {
			delete(doc, id)
		}
	}
	return doc
}

func (s *FileStore) readMarks() []string {
	var marks []string
	if !s.read(sentRemindersFile, &marks) {
		return nil
	}
	return marks
}

// read decodes a document. A missing document is empty; an unreadable one
// is logged and treated as empty so the scheduler keeps running.
func (s *FileStore) read(name string, v any) bool {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if err != nil {
		s.logger.Error("Failed to read storage document", zap.String("document", name), zap.Error(err))
		return false
	}
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Error("Storage document is corrupt, treating as empty",
			zap.String("document", name),
			zap.Error(err))
		return false
	}
	return true
}

func (s *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func documentFor(kind models.WorkKind) string {
	if kind == models.KindEmail {
		return pendingEmailsFile
	}
	return pendingRemindersFile
}

func applyMark(item *models.DeferredWorkItem, status models.WorkStatus, at time.Time, reason string) {
	item.Status = status
	if status == models.StatusSent {
		sent := at
		item.SentAt = &sent
	}
	if reason != "" {
		item.Error = reason
	}
}

func sortByScheduled(items []*models.DeferredWorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ScheduledAt.Equal(items[j].ScheduledAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].ScheduledAt.Before(items[j].ScheduledAt)
	})
}

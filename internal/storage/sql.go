package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xaenox/assistant-bot/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Times are stored as unix nanoseconds so both drivers compare them the same
// way.
type workItemRow struct {
	ID          string        `db:"id"`
	Kind        string        `db:"kind"`
	ChatID      int64         `db:"chat_id"`
	Payload     string        `db:"payload"`
	ScheduledAt int64         `db:"scheduled_at"`
	CreatedAt   int64         `db:"created_at"`
	Status      string        `db:"status"`
	SentAt      sql.NullInt64 `db:"sent_at"`
	Error       string        `db:"error"`
}

const workItemColumns = `id, kind, chat_id, payload, scheduled_at, created_at, status, sent_at, error`

// SQLStore keeps work items in postgres or sqlite.
type SQLStore struct {
	db     *sqlx.DB
	ids    *idSource
	logger *zap.Logger
}

// NewSQLStore connects with driver ("postgres" or "sqlite") and applies the
// embedded schema.
func NewSQLStore(driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}
	if driver == "sqlite" {
		// one writer at a time avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, ids: newIDSource(), logger: logger}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	logger.Info("SQL store ready", zap.String("driver", driver))
	return s, nil
}

func (s *SQLStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}
	for _, stmt := range strings.Split(string(migrationSQL), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("error executing migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Insert(ctx context.Context, item *models.DeferredWorkItem) (string, error) {
	if err := prepareInsert(s.ids, item); err != nil {
		return "", err
	}
	row, err := toRow(item)
	if err != nil {
		return "", err
	}

	query := s.db.Rebind(`
		INSERT INTO work_items (` + workItemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query,
		row.ID, row.Kind, row.ChatID, row.Payload,
		row.ScheduledAt, row.CreatedAt, row.Status, row.SentAt, row.Error)
	if err != nil {
		return "", fmt.Errorf("error inserting work item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, item.ID)
	}
	return item.ID, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.DeferredWorkItem, error) {
	var row workItemRow
	query := s.db.Rebind(`SELECT ` + workItemColumns + ` FROM work_items WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error querying work item: %w", err)
	}
	return fromRow(row)
}

func (s *SQLStore) ListPending(ctx context.Context, kind models.WorkKind) ([]*models.DeferredWorkItem, error) {
	var rows []workItemRow
	query := s.db.Rebind(`
		SELECT ` + workItemColumns + `
		FROM work_items
		WHERE kind = ? AND status = ?
		ORDER BY scheduled_at ASC, id ASC`)
	if err := s.db.SelectContext(ctx, &rows, query, string(kind), string(models.StatusPending)); err != nil {
		return nil, fmt.Errorf("error querying pending work items: %w", err)
	}

	items := make([]*models.DeferredWorkItem, 0, len(rows))
	for _, row := range rows {
		item, err := fromRow(row)
		if err != nil {
			s.logger.Error("Skipping unreadable work item", zap.String("item_id", row.ID), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *SQLStore) Mark(ctx context.Context, id string, status models.WorkStatus, at time.Time, reason string) (bool, error) {
	var sentAt sql.NullInt64
	if status == models.StatusSent {
		sentAt = sql.NullInt64{Int64: at.UnixNano(), Valid: true}
	}
	query := s.db.Rebind(`
		UPDATE work_items
		SET status = ?, sent_at = COALESCE(?, sent_at), error = CASE WHEN ? = '' THEN error ELSE ? END
		WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(status), sentAt, reason, reason, id, string(models.StatusPending))
	if err != nil {
		return false, fmt.Errorf("error updating work item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) Cancel(ctx context.Context, id string) (bool, error) {
	query := s.db.Rebind(`UPDATE work_items SET status = ? WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(models.StatusCancelled), id, string(models.StatusPending))
	if err != nil {
		return false, fmt.Errorf("error cancelling work item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	query := s.db.Rebind(`DELETE FROM work_items WHERE status <> ? AND created_at < ?`)
	res, err := s.db.ExecContext(ctx, query, string(models.StatusPending), olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("error purging work items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) HasReminderMark(ctx context.Context, id string) (bool, error) {
	var n int
	query := s.db.Rebind(`SELECT COUNT(*) FROM reminder_marks WHERE id = ?`)
	if err := s.db.GetContext(ctx, &n, query, id); err != nil {
		return false, fmt.Errorf("error querying reminder mark: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) AddReminderMark(ctx context.Context, id string) error {
	query := s.db.Rebind(`INSERT INTO reminder_marks (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, id, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("error adding reminder mark: %w", err)
	}
	return nil
}

func (s *SQLStore) ReminderMarkCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM reminder_marks`); err != nil {
		return 0, fmt.Errorf("error counting reminder marks: %w", err)
	}
	return n, nil
}

func (s *SQLStore) ClearReminderMarks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminder_marks`); err != nil {
		return fmt.Errorf("error clearing reminder marks: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func toRow(item *models.DeferredWorkItem) (workItemRow, error) {
	payload, err := json.Marshal(item.Payload())
	if err != nil {
		return workItemRow{}, fmt.Errorf("error encoding payload: %w", err)
	}
	row := workItemRow{
		ID:          item.ID,
		Kind:        string(item.Kind),
		ChatID:      item.ChatID,
		Payload:     string(payload),
		ScheduledAt: item.ScheduledAt.UnixNano(),
		CreatedAt:   item.CreatedAt.UnixNano(),
		Status:      string(item.Status),
		Error:       item.Error,
	}
	if item.SentAt != nil {
		row.SentAt = sql.NullInt64{Int64: item.SentAt.UnixNano(), Valid: true}
	}
	return row, nil
}

func fromRow(row workItemRow) (*models.DeferredWorkItem, error) {
	item := &models.DeferredWorkItem{
		ID:          row.ID,
		Kind:        models.WorkKind(row.Kind),
		ChatID:      row.ChatID,
		ScheduledAt: time.Unix(0, row.ScheduledAt),
		CreatedAt:   time.Unix(0, row.CreatedAt),
		Status:      models.WorkStatus(row.Status),
		Error:       row.Error,
	}
	if row.SentAt.Valid {
		sent := time.Unix(0, row.SentAt.Int64)
		item.SentAt = &sent
	}

	switch item.Kind {
	case models.KindEmail:
		item.Email = &models.EmailPayload{}
		if err := json.Unmarshal([]byte(row.Payload), item.Email); err != nil {
			return nil, fmt.Errorf("error decoding email payload: %w", err)
		}
	case models.KindReminder:
		item.Reminder = &models.ReminderPayload{}
		if err := json.Unmarshal([]byte(row.Payload), item.Reminder); err != nil {
			return nil, fmt.Errorf("error decoding reminder payload: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown work kind %q", row.Kind)
	}
	return item, nil
}

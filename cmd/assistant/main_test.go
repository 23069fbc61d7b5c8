package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/assistant-bot/internal/models"
	"github.com/xaenox/assistant-bot/pkg/config"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestClassifyCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")

	out := execute(t, "classify", "--config", cfgPath, "remind me in 30 minutes to call mom")
	assert.Contains(t, out, "intent:    set_reminder")

	out = execute(t, "classify", "--config", cfgPath, "clear my calendar")
	assert.Contains(t, out, "intent:    clear_all")
	assert.Contains(t, out, "confirmed: false")
}

func TestPendingCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  driver: file\n  dir: "+dataDir+"\n"), 0o600))

	cfg, err := config.LoadConfig(cfgPath)
	require.NoError(t, err)
	store, err := openStore(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	id, err := store.Insert(context.Background(), &models.DeferredWorkItem{
		Kind:        models.KindReminder,
		ChatID:      42,
		Reminder:    &models.ReminderPayload{Text: "call mom", Priority: "normal"},
		ScheduledAt: time.Now().Add(time.Hour),
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out := execute(t, "pending", "--config", cfgPath)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "call mom")
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "info", "debug", "warn"} {
		logger, err := newLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
	}
	_, err := newLogger("loud")
	assert.Error(t, err)
}

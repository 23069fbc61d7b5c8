package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/assistant-bot/internal/models"
)

func completionServer(t *testing.T, status int, content string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	var hits int32
	srv := completionServer(t, http.StatusOK, "  {\"ok\": true}\n", &hits)
	o := NewOpenAIOracle(Config{APIKey: "test", BaseURL: srv.URL}, zaptest.NewLogger(t))

	out, err := o.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestComplete_BreakerOpensAfterFailures(t *testing.T) {
	var hits int32
	srv := completionServer(t, http.StatusInternalServerError, "", &hits)
	o := NewOpenAIOracle(Config{
		APIKey:           "test",
		BaseURL:          srv.URL,
		FailureThreshold: 2,
		CooldownPeriod:   time.Hour,
	}, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_, err := o.Complete(context.Background(), "hello")
		require.Error(t, err)
	}
	calls := atomic.LoadInt32(&hits)

	_, err := o.Complete(context.Background(), "hello")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, calls, atomic.LoadInt32(&hits))
}

func TestChatSystemPrompt(t *testing.T) {
	now := time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC)
	events := []models.Event{
		{Title: "Standup", Start: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
		{Title: "Holiday", Start: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), IsAllDay: true},
	}

	prompt := chatSystemPrompt(now, "", events)
	assert.Contains(t, prompt, "Saturday, 2025-05-31 10:00")
	assert.Contains(t, prompt, "- Standup at Mon Jun 2 09:00")
	assert.Contains(t, prompt, "- Holiday (all day Tue Jun 3)")

	assert.NotContains(t, prompt, "About the user")
	assert.NotContains(t, chatSystemPrompt(now, "", nil), "calendar")
}

func TestChat_IncludesProfile(t *testing.T) {
	var system string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Messages)
		system = req.Messages[0].Content
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]string{"role": "assistant", "content": "hi Dara"},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	o := NewOpenAIOracle(Config{
		APIKey:  "test",
		BaseURL: srv.URL,
		Profile: "Name: Dara\nStudies computer science.\n",
	}, zaptest.NewLogger(t))

	out, err := o.Chat(context.Background(), "hello", time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Equal(t, "hi Dara", out)
	assert.Contains(t, system, "About the user you are helping:\nName: Dara\nStudies computer science.")
}

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/cil"
)

func fakeMessages(t *testing.T, status int, replyText string) (*httptest.Server, *string) {
	t.Helper()
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(body, &req)
		if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
			gotPrompt = req.Messages[0].Content[0].Text
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-3-5-haiku-20241022",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": replyText}},
			"usage":       map[string]any{"input_tokens": 120, "output_tokens": 30},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &gotPrompt
}

func newTestAnthropic(t *testing.T, url string) *Anthropic {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	a, err := NewAnthropic(AnthropicOptions{
		APIKey:        "test-key",
		ClientOptions: []option.RequestOption{option.WithBaseURL(url)},
	})
	require.NoError(t, err)
	a.now = func() time.Time { return refNow }
	return a
}

func TestAnthropicExtract(t *testing.T) {
	srv, prompt := fakeMessages(t, http.StatusOK,
		`Sure: {"type":"LogExpense","fields":{"item":"nails","amount_cents":8412,"store":"Home Depot","date":"2025-03-12"}}`)
	a := newTestAnthropic(t, srv.URL)

	c, err := a.Extract(context.Background(), "expense 84.12 nails from Home Depot", "")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, cil.LogExpense, c.Type)
	assert.Equal(t, json.Number("8412"), c.Fields["amount_cents"])
	assert.Equal(t, "Home Depot", c.Fields["store"])

	assert.Contains(t, *prompt, "Today is 2025-03-12.")
	assert.Contains(t, *prompt, "Message: expense 84.12 nails from Home Depot")
	assert.Contains(t, *prompt, "amount_cents: integer cents > 0, required")
}

func TestAnthropicNotACommand(t *testing.T) {
	srv, _ := fakeMessages(t, http.StatusOK, `{"type": null}`)
	c, err := newTestAnthropic(t, srv.URL).Extract(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestAnthropicServerErrorIsTemporary(t *testing.T) {
	srv, _ := fakeMessages(t, http.StatusServiceUnavailable, "")
	_, err := newTestAnthropic(t, srv.URL).Extract(context.Background(), "expense 5 gas", "")
	assert.True(t, errors.Is(err, ErrTemporary), "got %v", err)
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropic(AnthropicOptions{})
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestParseReply(t *testing.T) {
	_, err := parseReply("no json here")
	assert.Error(t, err)

	c, err := parseReply(`{"type":"LogMood","fields":{}}`)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = parseReply(`{"type":"CreateLead"}`)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Empty(t, c.Fields)
}

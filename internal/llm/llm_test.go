package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
)

func TestChatCompletions_Complete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  {\"emotional_state\":\"positive\"} "},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":7}}`))
	}))
	defer srv.Close()

	p := NewChatCompletionsProvider("sk-test", WithBaseURL(srv.URL+"/"), WithModel("deepseek-chat"))
	resp, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "classify",
		Messages:     []Message{UserMessage("hello")},
		JSONMode:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"emotional_state":"positive"}`, resp.Text)
	assert.Equal(t, StopReasonEndTurn, resp.StopReason)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, "deepseek-chat", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestChatCompletions_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	p := NewChatCompletionsProvider("k", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{UserMessage("x")}})
	require.Error(t, err)

	var apiErr *perrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, 3*time.Second, apiErr.RetryAfter)
	assert.True(t, perrors.IsRetryable(err))
}

func TestChatCompletions_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewChatCompletionsProvider("k", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), CompletionRequest{})
	assert.Error(t, err)
}

func TestChatCompletions_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewChatCompletionsProvider("k", WithBaseURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, CompletionRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrTimeout))
}

func TestAnthropic_Complete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", WithBaseURL(srv.URL), WithMaxTokens(64))
	resp, err := p.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []Message{{Role: RoleSystem, Content: "dropped"}, UserMessage("hi")},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"a":1}`, resp.Text)
	assert.Equal(t, "sys", got.System)
	assert.Equal(t, 64, got.MaxTokens)
	require.Len(t, got.Messages, 1, "system turns travel in the system field")
	assert.Equal(t, defaultAnthropicModel, p.ModelID())
}

func TestAnthropic_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{UserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, perrors.IsRetryable(err))
}

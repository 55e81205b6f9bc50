package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
)

const (
	defaultChatBaseURL = "https://api.openai.com/v1"
	defaultChatModel   = "gpt-4o-mini"
)

// ChatCompletionsProvider talks to any OpenAI-compatible
// /chat/completions endpoint (OpenAI, DeepSeek, OpenRouter, local servers).
type ChatCompletionsProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// NewChatCompletionsProvider constructs a provider for an OpenAI-compatible API.
func NewChatCompletionsProvider(apiKey string, opts ...Option) *ChatCompletionsProvider {
	o := buildOptions(defaultChatBaseURL, defaultChatModel, opts)
	return &ChatCompletionsProvider{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(o.baseURL, "/"),
		model:     o.model,
		maxTokens: o.maxTokens,
		client:    o.client,
		logger:    o.logger.With().Str("component", "llm.chat").Logger(),
	}
}

func (p *ChatCompletionsProvider) ModelID() string { return p.model }

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []Message           `json:"messages"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a blocking completion request.
func (p *ChatCompletionsProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}

	msgs := make([]Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	msgs = append(msgs, req.Messages...)

	cr := chatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   maxTok,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		cr.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chat completions request: %w", perrors.ErrTimeout)
		}
		return nil, fmt.Errorf("chat completions request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := perrors.NewAPIError("chat-completions", resp.StatusCode, truncate(string(raw), 200))
		apiErr.RetryAfter = retryAfter(resp.Header)
		return nil, apiErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("chat completions api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}

	out := &CompletionResponse{
		Text:         strings.TrimSpace(parsed.Choices[0].Message.Content),
		StopReason:   normalizeFinish(parsed.Choices[0].FinishReason),
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}
	p.logger.Debug().
		Str("model", model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("chat completion")
	return out, nil
}

func normalizeFinish(reason string) string {
	switch reason {
	case "length":
		return StopReasonMaxTokens
	case "", "stop":
		return StopReasonEndTurn
	}
	return reason
}

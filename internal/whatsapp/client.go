package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/checkin-agent/internal/agent"
	"github.com/p-blackswan/checkin-agent/internal/conversation"
	perrors "github.com/p-blackswan/checkin-agent/internal/errors"
	"github.com/p-blackswan/checkin-agent/internal/retry"
)

// Limits of interactive reply buttons.
const (
	maxButtons     = 3
	maxButtonTitle = 20
	maxButtonBody  = 1024
)

// Account is how one instance sends messages.
type Account struct {
	PhoneNumberID string
	AccessToken   string
}

// AccountLookup resolves the sending account of an instance.
type AccountLookup func(instanceID string) (Account, bool)

// Client sends messages through the Graph API. It implements agent.Sender.
type Client struct {
	baseURL string
	lookup  AccountLookup
	http    *http.Client
	retry   retry.Config
	logger  zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetry overrides the per-message retry policy.
func WithRetry(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a Client against baseURL, e.g.
// https://graph.facebook.com/v17.0.
func NewClient(baseURL string, lookup AccountLookup, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		lookup:  lookup,
		http:    &http.Client{Timeout: 15 * time.Second},
		retry:   retry.DefaultConfig(),
		logger:  logger.With().Str("component", "whatsapp").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying send")
		}
	}
	return c
}

// Send delivers msgs in order and stops at the first failure.
func (c *Client) Send(ctx context.Context, to agent.Recipient, msgs []conversation.Message) error {
	acct, ok := c.lookup(to.Scope.InstanceID)
	if !ok || acct.PhoneNumberID == "" {
		return fmt.Errorf("%w: no WhatsApp account for instance %q", perrors.ErrNotFound, to.Scope.InstanceID)
	}
	for i, m := range msgs {
		body, err := json.Marshal(outbound(to.Scope.UserID, m))
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
			return c.post(ctx, acct, body)
		})
		if err != nil {
			return fmt.Errorf("failed to send message %d of %d: %w", i+1, len(msgs), err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, acct Account, body []byte) error {
	url := c.baseURL + "/" + acct.PhoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+acct.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("whatsapp request: %w: %v", perrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := perrors.NewAPIError("whatsapp", resp.StatusCode, errorMessage(raw))
	apiErr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		apiErr.Err = perrors.ErrAuthFailure
	}
	return apiErr
}

type textPart struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type outboundMessage struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *textPart        `json:"text,omitempty"`
	Interactive      *interactivePart `json:"interactive,omitempty"`
}

type interactivePart struct {
	Type   string       `json:"type"`
	Body   textPart     `json:"body"`
	Action buttonAction `json:"action"`
}

type buttonAction struct {
	Buttons []replyButton `json:"buttons"`
}

type replyButton struct {
	Type  string `json:"type"`
	Reply Reply  `json:"reply"`
}

// outbound builds the Graph API message. Choices that do not fit reply
// buttons fall back to a numbered text list.
func outbound(to string, m conversation.Message) outboundMessage {
	msg := outboundMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to}
	if choice, ok := m.(conversation.InteractiveChoice); ok && fitsButtons(choice) {
		buttons := make([]replyButton, len(choice.Options))
		for i, o := range choice.Options {
			buttons[i] = replyButton{Type: "reply", Reply: Reply{ID: o.ID, Title: o.Title}}
		}
		msg.Type = "interactive"
		msg.Interactive = &interactivePart{
			Type:   "button",
			Body:   textPart{Body: choice.Body},
			Action: buttonAction{Buttons: buttons},
		}
		return msg
	}
	msg.Type = "text"
	msg.Text = &textPart{Body: m.Render(true)}
	return msg
}

func fitsButtons(c conversation.InteractiveChoice) bool {
	if len(c.Options) == 0 || len(c.Options) > maxButtons {
		return false
	}
	if c.Body == "" || utf8.RuneCountInString(c.Body) > maxButtonBody {
		return false
	}
	for _, o := range c.Options {
		if o.ID == "" || utf8.RuneCountInString(o.Title) > maxButtonTitle {
			return false
		}
	}
	return true
}

func errorMessage(raw []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return fmt.Sprintf("%s (code %d)", e.Error.Message, e.Error.Code)
	}
	s := string(raw)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

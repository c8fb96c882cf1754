package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

const slackBaseURL = "https://slack.com/api"

// ErrDelivery covers channel failures: network errors, non-2xx statuses
// and Slack-level "ok": false responses. All of them are retryable; Slack
// offers no idempotency key, so the dispatcher's suppression check is the
// only double-send guard.
var ErrDelivery = errors.New("notify: delivery error")

// Channel is the external delivery side of the dispatcher. Implementations
// must return nil only on a positive acknowledgment.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// SlackChannel posts messages to a Slack channel via chat.postMessage.
type SlackChannel struct {
	token   string
	channel string
	baseURL string
	http    *retryablehttp.Client
}

func NewSlackChannel(token, channel string, timeout time.Duration) *SlackChannel {
	rc := retryablehttp.NewClient()
	rc.Logger = stdlog.New(io.Discard, "", 0)
	rc.RetryMax = 0 // operation-level retries are the dispatcher's job
	rc.HTTPClient.Timeout = timeout

	return &SlackChannel{
		token:   token,
		channel: channel,
		baseURL: slackBaseURL,
		http:    rc,
	}
}

// SetBaseURL overrides the API endpoint; used in tests.
func (s *SlackChannel) SetBaseURL(u string) { s.baseURL = u }

func (s *SlackChannel) Send(ctx context.Context, msg Message) error {
	if s.token == "" || s.channel == "" {
		return fmt.Errorf("%w: slack token or channel not configured", ErrDelivery)
	}
	if msg.Channel == "" {
		msg.Channel = s.channel
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encoding message: %v", ErrDelivery, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	res, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrDelivery, err)
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("%w: status %d", ErrDelivery, res.StatusCode)
	}
	if !gjson.GetBytes(resBody, "ok").Bool() {
		return fmt.Errorf("%w: slack error: %s", ErrDelivery, gjson.GetBytes(resBody, "error").Str)
	}
	return nil
}

// SystemAlert posts a plain operational message (startup, shutdown,
// health problems) without the badge-alert formatting.
func (s *SlackChannel) SystemAlert(ctx context.Context, level, text string) error {
	emoji := map[string]string{
		"info":    "ℹ️",
		"warning": "⚠️",
		"error":   "🚨",
		"success": "✅",
	}[level]
	if emoji == "" {
		emoji = "📢"
	}

	return s.Send(ctx, Message{
		Text: fmt.Sprintf("%s *System Alert*\n%s", emoji, text),
	})
}

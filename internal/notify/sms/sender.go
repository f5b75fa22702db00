// Package sms delivers urgent pages through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bissquit/incident-warden/internal/domain"
	"github.com/bissquit/incident-warden/internal/notify"
)

const (
	defaultTimeout = 10 * time.Second
	// Gateways throttle aggressively; one message per second with a
	// small burst keeps us under typical provider limits.
	defaultRate  = rate.Limit(1)
	defaultBurst = 3
	// SMS bodies are truncated to a single segment-ish length.
	maxBodyLength = 320
)

// Config holds SMS gateway configuration.
type Config struct {
	Enabled    bool
	GatewayURL string
	APIKey     string
	From       string
	Timeout    time.Duration
}

// Sender posts messages to an HTTP SMS gateway, rate limited on the
// client side.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a new SMS sender.
// Returns error if enabled but the gateway URL is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled && config.GatewayURL == "" {
		return nil, fmt.Errorf("sms sender: gateway URL is required when enabled")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(defaultRate, defaultBurst),
	}, nil
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeSMS
}

type gatewayPayload struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// Send delivers one SMS. notification.To is the phone number. Subject
// and body are merged since SMS has no subject line.
func (s *Sender) Send(ctx context.Context, notification notify.Notification) error {
	if !s.config.Enabled {
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sms rate limit wait: %w", err)
	}

	text := notification.Subject
	if notification.Body != "" {
		text += "\n" + notification.Body
	}
	if len(text) > maxBodyLength {
		text = text[:maxBodyLength]
	}

	body, err := json.Marshal(gatewayPayload{
		To:   notification.To,
		From: s.config.From,
		Text: text,
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &GatewayError{Message: fmt.Sprintf("send request: %v", err), Retry: true}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &GatewayError{Code: resp.StatusCode, Message: string(respBody), Retry: true}
	default:
		return &GatewayError{Code: resp.StatusCode, Message: string(respBody), Retry: false}
	}
}

// GatewayError is a delivery failure reported by the SMS gateway.
type GatewayError struct {
	Code    int
	Message string
	Retry   bool
}

func (e *GatewayError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("sms gateway error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sms gateway error: %s", e.Message)
}

// IsRetryable reports whether the failure is temporary.
func (e *GatewayError) IsRetryable() bool { return e.Retry }

package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bissquit/incident-warden/internal/domain"
)

// ChatConfig holds chat service client configuration.
type ChatConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// ChatClient creates war room channels through the chat service HTTP
// API.
type ChatClient struct {
	config     ChatConfig
	httpClient *http.Client
}

// NewChatClient creates a chat service client.
func NewChatClient(config ChatConfig) (*ChatClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("chat client: base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &ChatClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

type createChannelRequest struct {
	Name     string   `json:"name"`
	Topic    string   `json:"topic"`
	Invitees []string `json:"invitees,omitempty"`
}

type createChannelResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateWarRoom provisions a chat channel named after the incident and
// invites the initial responders. Returns the channel URL and id.
func (c *ChatClient) CreateWarRoom(ctx context.Context, inc *domain.Incident, name string, invitees []string) (string, string, error) {
	payload := createChannelRequest{
		Name:     name,
		Topic:    fmt.Sprintf("%s: %s", inc.ShortID(), inc.Title),
		Invitees: invitees,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/channels", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("chat service status %d: %s", resp.StatusCode, string(respBody))
	}

	var out createChannelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("decode response: %w", err)
	}
	if out.URL == "" || out.ID == "" {
		return "", "", fmt.Errorf("chat service returned incomplete channel")
	}
	return out.URL, out.ID, nil
}

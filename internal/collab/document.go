// Package collab contains HTTP clients for the external collaboration
// tools the orchestrator drives: a document service and a chat service.
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

const defaultTimeout = 15 * time.Second

// DocumentConfig holds document service client configuration.
type DocumentConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// DocumentClient creates incident documents through the document
// service HTTP API.
type DocumentClient struct {
	config     DocumentConfig
	httpClient *http.Client
}

// NewDocumentClient creates a document service client.
func NewDocumentClient(config DocumentConfig) (*DocumentClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("document client: base URL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &DocumentClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

type createDocumentRequest struct {
	Title       string `json:"title"`
	ShortID     string `json:"short_id"`
	Service     string `json:"service"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

type createDocumentResponse struct {
	URL string `json:"url"`
}

// CreateDocument provisions a collaboration document and returns its
// URL.
func (c *DocumentClient) CreateDocument(ctx context.Context, inc *domain.Incident, svc *domain.Service) (string, error) {
	payload := createDocumentRequest{
		Title:       fmt.Sprintf("%s %s", inc.ShortID(), inc.Title),
		ShortID:     inc.ShortID(),
		Service:     svc.Name,
		Severity:    string(inc.Severity),
		Description: inc.Description,
	}

	var resp createDocumentResponse
	if err := c.post(ctx, c.config.BaseURL+"/api/documents", payload, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("document service returned empty URL")
	}
	return resp.URL, nil
}

func (c *DocumentClient) post(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("document service status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIClient talks to the bridge server's HTTP surface: message and
// callback submission plus session listing. All calls carry the bearer
// secret when one is configured.
type APIClient struct {
	BaseURL string
	Secret  string
	ChatID  int64
	HTTP    *http.Client
}

func NewAPIClient(baseURL, secret string, chatID int64) *APIClient {
	return &APIClient{
		BaseURL: baseURL,
		Secret:  secret,
		ChatID:  chatID,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type messageRequest struct {
	ChatID int64  `json:"chat_id,omitempty"`
	Text   string `json:"text"`
}

type callbackRequest struct {
	ChatID    int64  `json:"chat_id,omitempty"`
	Data      string `json:"data"`
	MessageID int64  `json:"message_id"`
}

// SessionInfo is one entry of the server's session listing.
type SessionInfo struct {
	Name     string `json:"name"`
	Busy     bool   `json:"busy"`
	IsActive bool   `json:"is_active"`
	LastCLI  string `json:"last_cli"`
}

type sessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// SendMessage posts a free-text command or message.
func (c *APIClient) SendMessage(ctx context.Context, text string) error {
	return c.post(ctx, "/api/message", messageRequest{ChatID: c.ChatID, Text: text})
}

// SendCallback posts a button press.
func (c *APIClient) SendCallback(ctx context.Context, data string, messageID int64) error {
	return c.post(ctx, "/api/callback", callbackRequest{ChatID: c.ChatID, Data: data, MessageID: messageID})
}

// ListSessions fetches the session listing for the configured chat.
func (c *APIClient) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/sessions/%d", c.BaseURL, c.ChatID), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing sessions: status %d", resp.StatusCode)
	}

	var out sessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding sessions: %w", err)
	}
	return out.Sessions, nil
}

func (c *APIClient) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("posting %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *APIClient) authorize(req *http.Request) {
	if c.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.Secret)
	}
}

package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client posts activity entries to the broker's /v1/activity endpoint. It is
// the client-side "log a session started event" collaborator: failures are
// returned but callers are expected to log and move on.
type Client struct {
	// BaseURL is the broker's HTTP root, e.g. "http://127.0.0.1:8080".
	BaseURL string
	// Token is the bearer token for the /v1 API.
	Token string
	// HTTPClient defaults to a 10s-timeout client.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Record posts one entry.
func (c *Client) Record(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("activity: marshal entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/activity", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("activity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("activity: post entry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("activity: post entry: http %d", resp.StatusCode)
	}
	return nil
}

// SessionStarted records the one-time session-start event for a host.
func (c *Client) SessionStarted(ctx context.Context, sessionID, hostAddress string) error {
	return c.Record(ctx, Entry{
		SessionID:    sessionID,
		UserID:       "cli",
		Action:       "terminal.session.start",
		ResourceType: "host",
		ResourceID:   hostAddress,
		Status:       StatusSuccess,
	})
}

// Package forwarder ships classified events to a remote collector endpoint.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/injection-collector/internal/types"
	"github.com/invisible-tech/injection-collector/internal/version"
)

// Client posts events to a remote collector API.
type Client struct {
	apiEndpoint string
	apiKey      string
	httpClient  *http.Client
	log         *logrus.Logger
}

// Config for the forwarder client
type Config struct {
	APIEndpoint string
	APIKey      string
	Timeout     time.Duration
}

// NewClient creates a new forwarder client
func NewClient(cfg Config, log *logrus.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		apiEndpoint: cfg.APIEndpoint,
		apiKey:      cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// Event is the forwarded representation of a recorded request. The body is
// left out; the remote side gets the classification and request metadata.
type Event struct {
	ID            string              `json:"id"`
	RequestNumber int                 `json:"request_number"`
	Timestamp     time.Time           `json:"timestamp"`
	Method        string              `json:"method"`
	Path          string              `json:"path"`
	QueryParams   map[string][]string `json:"query_params,omitempty"`
	ClientIP      string              `json:"client_ip"`
	UserAgent     string              `json:"user_agent,omitempty"`
	Technique     string              `json:"technique"`
	TechniqueName string              `json:"technique_name"`
	Severity      string              `json:"severity"`
	Category      string              `json:"category"`
	Source        string              `json:"source"`
}

// FromEvent converts a stored event for forwarding.
func FromEvent(ev types.Event) *Event {
	return &Event{
		ID:            ev.ID,
		RequestNumber: ev.RequestNumber,
		Timestamp:     ev.Timestamp,
		Method:        ev.Method,
		Path:          ev.Path,
		QueryParams:   ev.QueryParams,
		ClientIP:      ev.ClientIP,
		UserAgent:     ev.Headers["User-Agent"],
		Technique:     ev.Classification.Technique,
		TechniqueName: ev.Classification.Name,
		Severity:      ev.Classification.Severity.String(),
		Category:      string(ev.Classification.Category),
		Source:        "injection-collector",
	}
}

// SendEvent posts one event
func (c *Client) SendEvent(ctx context.Context, event *Event) error {
	if c.apiEndpoint == "" || c.apiKey == "" {
		return fmt.Errorf("forwarder client not configured")
	}

	url := fmt.Sprintf("%s/api/v1/events", c.apiEndpoint)
	return c.sendJSON(ctx, url, event)
}

// SendBatchEvents posts multiple events in one request
func (c *Client) SendBatchEvents(ctx context.Context, events []*Event) error {
	if c.apiEndpoint == "" || c.apiKey == "" {
		return fmt.Errorf("forwarder client not configured")
	}

	url := fmt.Sprintf("%s/api/v1/events/batch", c.apiEndpoint)
	payload := map[string]interface{}{
		"events": events,
	}
	return c.sendJSON(ctx, url, payload)
}

func (c *Client) sendJSON(ctx context.Context, url string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("User-Agent", "injection-collector/"+version.Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.log.WithFields(logrus.Fields{
		"url":    url,
		"status": resp.StatusCode,
	}).Debug("Forwarded to remote collector")

	return nil
}

// HealthCheck checks if the remote collector is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiEndpoint == "" || c.apiKey == "" {
		return fmt.Errorf("forwarder client not configured")
	}

	url := fmt.Sprintf("%s/health", c.apiEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}

	return nil
}

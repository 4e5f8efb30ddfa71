// Package collector is the HTTP client for the violation collector service.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kdimtricp/vproctor/internal/models"
)

type Config struct {
	BaseURL string
	// Token is sent as a bearer session token when set.
	Token   string
	Timeout time.Duration
}

func NewConfig(baseURL, token string) Config {
	return Config{BaseURL: baseURL, Token: token, Timeout: 30 * time.Second}
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("collector returned status %d: %s", e.StatusCode, e.Body)
}

type recordResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// RecordViolation posts one event. The collector acknowledges a repeated
// event id without storing it twice, so callers may resend freely.
func (c *Client) RecordViolation(ctx context.Context, event models.ViolationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var resp recordResponse
	if err := c.do(ctx, http.MethodPost, "/violations", nil, bytes.NewReader(body), &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("collector rejected event %s: status %q", event.ID, resp.Status)
	}
	return nil
}

func (c *Client) Summary(ctx context.Context, assessmentID, userID string) (*models.Summary, error) {
	var summary models.Summary
	if err := c.getEnvelope(ctx, "/summary", candidateQuery(assessmentID, userID), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) Logs(ctx context.Context, assessmentID, userID string) (*models.Logs, error) {
	var logs models.Logs
	if err := c.getEnvelope(ctx, "/logs", candidateQuery(assessmentID, userID), &logs); err != nil {
		return nil, err
	}
	return &logs, nil
}

func (c *Client) AssessmentViolations(ctx context.Context, assessmentID string) (*models.AssessmentViolations, error) {
	var all models.AssessmentViolations
	path := "/api/proctor/assessment/" + url.PathEscape(assessmentID) + "/all"
	if err := c.getEnvelope(ctx, path, nil, &all); err != nil {
		return nil, err
	}
	return &all, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil, nil)
}

func candidateQuery(assessmentID, userID string) url.Values {
	return url.Values{
		"assessmentId": {assessmentID},
		"userId":       {userID},
	}
}

func (c *Client) getEnvelope(ctx context.Context, path string, query url.Values, out any) error {
	var env envelope
	if err := c.do(ctx, http.MethodGet, path, query, nil, &env); err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("collector error: %s", env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

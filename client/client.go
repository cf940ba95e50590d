// Package client is the Go client for the Interlock coordination server.
// It mirrors the HTTP API: agent registry, messaging, file reservations,
// contact links, products, and sibling suggestions, plus a WebSocket
// subscriber for live events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	APIKey  string
	// Project is the default project for requests that omit one.
	Project string
	// Agent is sent as the X-Agent-ID identity header and used as the
	// default agent name for requests that omit one.
	Agent string
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = strings.TrimSpace(key)
	}
}

func WithProject(project string) Option {
	return func(c *Client) {
		c.Project = strings.TrimSpace(project)
	}
}

func WithAgent(name string) Option {
	return func(c *Client) {
		c.Agent = strings.TrimSpace(name)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is the decoded error envelope from a non-2xx response. Code is
// the server's taxonomy bucket (e.g. "conflict", "delivery_denied");
// Conflicts and Denials carry the structured detail when the code implies
// them.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Conflicts []Reservation
	Denials   []RecipientDenial
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.Agent != "" {
		req.Header.Set("X-Agent-ID", c.Agent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var envelope struct {
		Error     string            `json:"error"`
		Code      string            `json:"code"`
		Conflicts []Reservation     `json:"conflicts"`
		Denials   []RecipientDenial `json:"denials"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error == "" {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return &APIError{
		Status:    resp.StatusCode,
		Code:      envelope.Code,
		Message:   envelope.Error,
		Conflicts: envelope.Conflicts,
		Denials:   envelope.Denials,
	}
}

func (c *Client) defaultProject(project string) string {
	if project != "" {
		return project
	}
	return c.Project
}

func (c *Client) defaultAgent(agent string) string {
	if agent != "" {
		return agent
	}
	return c.Agent
}

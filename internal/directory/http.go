package directory

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
)

// HTTPClient talks to a networked registry exposing /register,
// /lookup/:id, /list and DELETE /agents/:id.
type HTTPClient struct {
	base   string
	client *http.Client
}

// NewHTTPClient returns a client for the registry at baseURL. A nil client
// gets a 30s timeout.
func NewHTTPClient(baseURL string, client *http.Client) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("directory: http: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("directory: http: parse base url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{base: strings.TrimRight(baseURL, "/"), client: client}, nil
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	AgentID       string `json:"agent_id"`
	AgentURL      string `json:"agent_url"`
	ServiceCharge int    `json:"service_charge"`
	AgentName     string `json:"agent_name,omitempty"`
}

func (c *HTTPClient) Register(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(RegisterRequest{
		AgentID:       e.AgentID,
		AgentURL:      e.Address,
		ServiceCharge: e.ServiceCharge,
		AgentName:     e.DisplayName,
	})
	if err != nil {
		return fmt.Errorf("directory: http: encode %s: %w", e.AgentID, err)
	}
	_, err = c.do(ctx, http.MethodPost, "/register", body, nil)
	if err != nil {
		return fmt.Errorf("directory: http: register %s: %w", e.AgentID, err)
	}
	return nil
}

func (c *HTTPClient) Lookup(ctx context.Context, agentID string) (string, bool, error) {
	e, ok, err := c.GetInfo(ctx, agentID)
	return e.Address, ok, err
}

func (c *HTTPClient) GetInfo(ctx context.Context, agentID string) (Entry, bool, error) {
	var e Entry
	status, err := c.do(ctx, http.MethodGet, "/lookup/"+url.PathEscape(agentID), nil, &e)
	if status == http.StatusNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("directory: http: lookup %s: %w", agentID, err)
	}
	if e.AgentID == "" {
		e.AgentID = agentID
	}
	return e, true, nil
}

func (c *HTTPClient) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	if _, err := c.do(ctx, http.MethodGet, "/list", nil, &out); err != nil {
		return nil, fmt.Errorf("directory: http: list: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) Unregister(ctx context.Context, agentID string) (bool, error) {
	status, err := c.do(ctx, http.MethodDelete, "/agents/"+url.PathEscape(agentID), nil, nil)
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("directory: http: unregister %s: %w", agentID, err)
	}
	return true, nil
}

// do performs one request and decodes a 2xx JSON body into out.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

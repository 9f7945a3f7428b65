package typeform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"formhook/internal/platform/config"
)

var ErrNotConfigured = errors.New("typeform api token not configured")

// APIError is a non-2xx reply from the Typeform API.
type APIError struct {
	StatusCode  int
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("typeform: %d %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("typeform: unexpected status %d", e.StatusCode)
}

// RemoteWebhook is a webhook as Typeform stores it.
type RemoteWebhook struct {
	ID        string `json:"id"`
	FormID    string `json:"form_id"`
	Tag       string `json:"tag"`
	URL       string `json:"url"`
	Enabled   bool   `json:"enabled"`
	VerifySSL bool   `json:"verify_ssl"`
}

type Client struct {
	baseURL    string
	token      string
	verifySSL  bool
	secret     string
	httpClient *http.Client
}

// NewClient builds a client from config. secret, when set, is registered with
// each webhook so Typeform signs its deliveries.
func NewClient(cfg config.TypeformConfig, secret string) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		verifySSL:  cfg.VerifySSL,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c.token != ""
}

// Tag is the remote webhook tag used for a form.
func Tag(formID string) string {
	return "formhook-" + formID
}

func (c *Client) FormExists(ctx context.Context, formID string) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/forms/"+url.PathEscape(formID), nil, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// CreateWebhook creates or replaces the webhook identified by tag.
func (c *Client) CreateWebhook(ctx context.Context, formID, tag, targetURL string) (*RemoteWebhook, error) {
	body := map[string]interface{}{
		"url":        targetURL,
		"enabled":    true,
		"verify_ssl": c.verifySSL,
	}
	if c.secret != "" {
		body["secret"] = c.secret
	}

	var out RemoteWebhook
	path := fmt.Sprintf("/forms/%s/webhooks/%s", url.PathEscape(formID), url.PathEscape(tag))
	if err := c.do(ctx, http.MethodPut, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteWebhook removes the webhook. A missing webhook is not an error.
func (c *Client) DeleteWebhook(ctx context.Context, formID, tag string) error {
	path := fmt.Sprintf("/forms/%s/webhooks/%s", url.PathEscape(formID), url.PathEscape(tag))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) ListWebhooks(ctx context.Context, formID string) ([]RemoteWebhook, error) {
	var out struct {
		Items []RemoteWebhook `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/forms/"+url.PathEscape(formID)+"/webhooks", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("typeform %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

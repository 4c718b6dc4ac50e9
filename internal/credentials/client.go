// Package credentials reads and writes credential material held by the
// employee service.
package credentials

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

	"ems.org/internal/auth"
)

const (
	defaultTimeout = 5 * time.Second
	maxErrorBody   = 4 << 10
)

var (
	_ auth.CredentialLookup = (*Client)(nil)
	_ auth.CredentialWriter = (*Client)(nil)
)

// Client talks to the employee service's internal credential endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (5s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// New builds a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("credentials: base URL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("credentials: invalid base URL: %w", err)
	}
	c := &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) emailURL(email, suffix string) string {
	return c.baseURL + "/api/employees/email/" + url.PathEscape(email) + suffix
}

// Lookup fetches the credential record for email. A 404 is auth.ErrNotFound;
// transport errors and other statuses are returned as plain errors for the
// caller's retry policy to classify.
func (c *Client) Lookup(ctx context.Context, email string) (auth.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.emailURL(email, ""), nil)
	if err != nil {
		return auth.Credential{}, fmt.Errorf("credentials: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return auth.Credential{}, fmt.Errorf("credentials: lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return auth.Credential{}, auth.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return auth.Credential{}, statusError("lookup", resp)
	}

	var cred auth.Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return auth.Credential{}, fmt.Errorf("credentials: decode lookup response: %w", err)
	}
	if cred.ID == "" {
		return auth.Credential{}, errors.New("credentials: lookup response without id")
	}
	if role, ok := auth.ParseRole(string(cred.Role)); ok {
		cred.Role = role
	}
	return cred, nil
}

type passwordUpdate struct {
	Password string `json:"password"`
}

// UpdatePassword stores a new password hash for email.
func (c *Client) UpdatePassword(ctx context.Context, email, passwordHash string) error {
	body, err := json.Marshal(passwordUpdate{Password: passwordHash})
	if err != nil {
		return fmt.Errorf("credentials: marshal password update: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.emailURL(email, "/password"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("credentials: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", auth.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return auth.ErrInconsistent
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %v", auth.ErrUpstreamUnavailable, statusError("update password", resp))
	}
	return statusError("update password", resp)
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("credentials: %s failed (HTTP %d): %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}

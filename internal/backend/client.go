// Package backend is a client for the CRM REST API: customers, agents,
// call logs and the agent's session.
package backend

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
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnauthorized is returned when the API rejects the session token. The
// token is discarded before it is returned.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response other than 401.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// TokenStore holds the bearer token of the current session.
type TokenStore interface {
	Token() string
	SetToken(token string)
	Clear()
}

// MemoryTokenStore keeps the token in memory.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func (s *MemoryTokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryTokenStore) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *MemoryTokenStore) Clear() {
	s.SetToken("")
}

// Client calls the CRM API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// WithTokenStore sets where the session token is kept.
func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.tokens = s }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client for the API rooted at baseURL, e.g.
// "http://localhost:3001/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  &MemoryTokenStore{},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticated reports whether a session token is held.
func (c *Client) Authenticated() bool {
	return c.tokens.Token() != ""
}

// Login authenticates and stores the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var res LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &res); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if res.Token == "" {
		return nil, fmt.Errorf("login: response carried no token")
	}
	c.tokens.SetToken(res.Token)
	return &res, nil
}

// Logout forgets the session token.
func (c *Client) Logout() {
	c.tokens.Clear()
}

// Me returns the logged-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}
	return &u, nil
}

// SIPConfig returns the logged-in agent's line configuration.
func (c *Client) SIPConfig(ctx context.Context) (*SIPConfig, error) {
	var cfg SIPConfig
	if err := c.do(ctx, http.MethodGet, "/auth/sip-config", nil, &cfg); err != nil {
		return nil, fmt.Errorf("fetching sip config: %w", err)
	}
	return &cfg, nil
}

// Customers lists customers. The API answers either with a bare array or
// with a {data, meta} page; both are accepted.
func (c *Client) Customers(ctx context.Context, limit int) ([]Customer, error) {
	path := "/customers"
	if limit > 0 {
		path += "?" + url.Values{"limit": {fmt.Sprint(limit)}}.Encode()
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}

	var customers []Customer
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &customers); err != nil {
			return nil, fmt.Errorf("decoding customers: %w", err)
		}
		return customers, nil
	}

	var page struct {
		Data []Customer `json:"data"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decoding customers: %w", err)
	}
	return page.Data, nil
}

func (c *Client) CreateCustomer(ctx context.Context, cust Customer) error {
	if err := c.do(ctx, http.MethodPost, "/customers", cust, nil); err != nil {
		return fmt.Errorf("creating customer: %w", err)
	}
	return nil
}

// UpdateCustomer applies a partial update.
func (c *Client) UpdateCustomer(ctx context.Context, id string, updates map[string]any) error {
	if err := c.do(ctx, http.MethodPut, "/customers/"+url.PathEscape(id), updates, nil); err != nil {
		return fmt.Errorf("updating customer %s: %w", id, err)
	}
	return nil
}

func (c *Client) BulkCustomers(ctx context.Context, req BulkRequest) error {
	if err := c.do(ctx, http.MethodPost, "/customers/bulk", req, nil); err != nil {
		return fmt.Errorf("bulk %s: %w", req.Action, err)
	}
	return nil
}

func (c *Client) ImportCustomers(ctx context.Context, customers []Customer) error {
	if len(customers) == 0 {
		return nil
	}
	body := map[string][]Customer{"customers": customers}
	if err := c.do(ctx, http.MethodPost, "/customers/import", body, nil); err != nil {
		return fmt.Errorf("importing %d customers: %w", len(customers), err)
	}
	return nil
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (c *Client) CreateUser(ctx context.Context, u User) error {
	if err := c.do(ctx, http.MethodPost, "/users", u, nil); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// UpdateUser applies a partial update.
func (c *Client) UpdateUser(ctx context.Context, id string, updates map[string]any) error {
	if err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id), updates, nil); err != nil {
		return fmt.Errorf("updating user %s: %w", id, err)
	}
	return nil
}

// LogCall records a call outcome.
func (c *Client) LogCall(ctx context.Context, entry CallLog) error {
	if err := c.do(ctx, http.MethodPost, "/calls", entry, nil); err != nil {
		return fmt.Errorf("logging call: %w", err)
	}
	return nil
}

func (c *Client) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var stats DashboardStats
	if err := c.do(ctx, http.MethodGet, "/dashboard/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("fetching dashboard stats: %w", err)
	}
	return &stats, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("backend request")

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Clear()
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	}
	return apiErr
}

// Package identityclient is a REST client for the identity provider that
// implements roster.IdentityGateway.
//
// Requests are authenticated with an OAuth2 client-credentials token when a
// token URL is configured.
//
// Example usage:
//
//	client, err := identityclient.New(ctx, identityclient.Config{
//		BaseURL:      "https://idp.example.com",
//		TokenURL:     "https://idp.example.com/oauth/token",
//		ClientID:     "roster",
//		ClientSecret: secret,
//	})
//	profile, err := client.FindByEmail(ctx, "alice@school.org")
package identityclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/roster"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTimeout is the default timeout for HTTP requests.
const DefaultTimeout = 15 * time.Second

// ErrRateLimited is returned when the provider answers 429.
var ErrRateLimited = errors.New("rate limited by identity provider")

// Config configures a Client.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
}

// Mailer delivers invitation emails built from a provider-issued link.
type Mailer interface {
	SendInvitation(ctx context.Context, name, email, link string) error
}

// Client talks to the identity provider's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	mailer     Mailer
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, including its authentication.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithMailer sends invitations through m using a link issued by the
// provider, instead of asking the provider to send the email itself.
func WithMailer(m Mailer) Option {
	return func(client *Client) {
		client.mailer = m
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// New creates a Client. ctx is used for token requests.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("identity base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  slog.Default(),
	}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		c.httpClient = cc.Client(ctx)
		c.httpClient.Timeout = timeout
	} else {
		c.httpClient = &http.Client{Timeout: timeout}
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "identityclient")
	return c, nil
}

type userList struct {
	Users []roster.Profile `json:"users"`
}

type roleList struct {
	Roles []roster.Role `json:"roles"`
}

type invitationRequest struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type invitationLink struct {
	Link string `json:"link"`
}

// errorBody is the provider's error envelope.
type errorBody struct {
	Message string `json:"message"`
}

// FindByEmail returns the account registered for email, or roster.ErrNotFound.
func (c *Client) FindByEmail(ctx context.Context, email string) (roster.Profile, error) {
	var list userList
	path := "/v1/users?email=" + url.QueryEscape(email)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return roster.Profile{}, err
	}
	for _, u := range list.Users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return roster.Profile{}, roster.ErrNotFound
}

// Create registers a new account.
func (c *Client) Create(ctx context.Context, account roster.NewAccount) (roster.Profile, error) {
	var p roster.Profile
	if err := c.do(ctx, http.MethodPost, "/v1/users", account, &p); err != nil {
		return roster.Profile{}, err
	}
	if p.ID == "" {
		return roster.Profile{}, fmt.Errorf("created account for %s has no id", account.Email)
	}
	return p, nil
}

// Delete removes the account.
func (c *Client) Delete(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/users/"+url.PathEscape(userID), nil, nil)
}

// AssignRole grants role to the account.
func (c *Client) AssignRole(ctx context.Context, userID string, role roster.Role) error {
	path := fmt.Sprintf("/v1/users/%s/roles/%s", url.PathEscape(userID), url.PathEscape(string(role)))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// ListRoles returns the roles granted to the account.
func (c *Client) ListRoles(ctx context.Context, userID string) ([]roster.Role, error) {
	var list roleList
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/roles", nil, &list); err != nil {
		return nil, err
	}
	return list.Roles, nil
}

// SendInvitation invites the user. With a mailer the provider only issues
// the link. Delivery is not awaited either way.
func (c *Client) SendInvitation(ctx context.Context, name, email string) error {
	req := invitationRequest{Name: name, Email: email}
	if c.mailer == nil {
		return c.do(ctx, http.MethodPost, "/v1/invitations", req, nil)
	}

	var link invitationLink
	if err := c.do(ctx, http.MethodPost, "/v1/invitations/links", req, &link); err != nil {
		return err
	}
	if link.Link == "" {
		return fmt.Errorf("identity provider returned an empty invitation link for %s", email)
	}
	if err := c.mailer.SendInvitation(ctx, name, email, link.Link); err != nil {
		return fmt.Errorf("mailing invitation: %w", err)
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("identity request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := statusError(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// statusError maps provider status codes to roster and apperr errors.
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	switch status {
	case http.StatusNotFound:
		return roster.ErrNotFound
	case http.StatusConflict:
		return apperr.Conflict("User already exists", eb.Message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		detail := eb.Message
		if detail == "" {
			detail = "rejected by identity provider"
		}
		return apperr.BadRequest(detail)
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("unexpected status code: %d", status)
	}
}

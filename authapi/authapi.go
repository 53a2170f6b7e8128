// Package authapi is the REST client for the backend's authentication
// endpoints. The backend's own authentication logic is a black box; this
// package only speaks its wire shapes.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lessonhub/go-authclient/users"
)

// Endpoint paths on the backend.
const (
	RouteLogin        = "/auth/login"
	RouteRegister     = "/auth/register"
	RouteRefreshToken = "/auth/refresh-token"
	RouteMe           = "/auth/me"
)

const defaultTimeout = 10 * time.Second

// AuthResponse is the backend's authentication payload, returned by login,
// register and refresh. RefreshToken may be empty on access-token-only
// refresh responses.
type AuthResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	TokenType    string      `json:"tokenType"`
	ExpiresIn    int64       `json:"expiresIn"`
	User         *users.User `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Client talks to the backend auth endpoints. The HTTP client passed in must
// NOT route through the request gateway: refresh must never recurse into
// another refresh.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a backend auth client rooted at baseURL.
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[authapi.NewClient] baseURL is required")
	}

	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(client)
	}
	return client, nil
}

// Login exchanges email/password credentials for an AuthResponse.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.postJSON(ctx, RouteLogin, loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	return &resp, nil
}

// Register creates a local account and returns an AuthResponse for it.
func (c *Client) Register(ctx context.Context, name, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.postJSON(ctx, RouteRegister, registerRequest{Name: name, Email: email, Password: password}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Register]")
	}
	return &resp, nil
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.postJSON(ctx, RouteRefreshToken, refreshTokenRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.RefreshToken]")
	}
	if resp.AccessToken == "" {
		return nil, errors.New("[Client.RefreshToken] response missing access token")
	}
	return &resp, nil
}

// Me fetches the current user record for the bearer token attached by the
// provided HTTP client's transport.
func (c *Client) Me(ctx context.Context, httpClient *http.Client) (*users.User, error) {
	if httpClient == nil {
		httpClient = c.httpClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+RouteMe, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Me] build request")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Me] do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("[Client.Me] %s", statusMessage(resp))
	}

	var user users.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, errors.Wrap(err, "[Client.Me] decode user")
	}
	return &user, nil
}

func (c *Client) postJSON(ctx context.Context, route string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug().Str("route", route).Int("status", resp.StatusCode).Msg("auth request rejected")
		return errors.New(statusMessage(resp))
	}

	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

// statusMessage extracts the backend's error message, falling back to the
// HTTP status line.
func statusMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var msg messageResponse
		if json.Unmarshal(raw, &msg) == nil && msg.Message != "" {
			return msg.Message
		}
	}
	return resp.Status
}

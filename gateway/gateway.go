// Package gateway wraps outbound HTTP calls to the backend. Every request
// carries the current access token when one is held; an authorization failure
// triggers a single refresh-and-retry, and a second failure is surfaced to
// the caller untouched.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TokenSource yields the current access token. session.Manager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Refresher renews the persisted token pair. session.Manager satisfies it;
// its refresh failure path forces a logout, so the gateway never needs to.
type Refresher interface {
	RefreshTokens(ctx context.Context) error
}

// Transport is an http.RoundTripper implementing the gateway contract.
// Each failing call runs its own refresh; concurrent failing calls may each
// refresh, which is harmless because the latest persisted pair wins.
type Transport struct {
	base      http.RoundTripper
	tokens    TokenSource
	refresher Refresher
	logger    zerolog.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithBase sets the underlying round tripper (default http.DefaultTransport).
func WithBase(base http.RoundTripper) TransportOption {
	return func(t *Transport) {
		t.base = base
	}
}

// WithLogger sets the transport logger.
func WithLogger(logger zerolog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates the gateway transport.
func NewTransport(tokens TokenSource, refresher Refresher, options ...TransportOption) (*Transport, error) {
	if tokens == nil {
		return nil, errors.New("[NewTransport] token source is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewTransport] refresher is required")
	}

	transport := &Transport{
		base:      http.DefaultTransport,
		tokens:    tokens,
		refresher: refresher,
		logger:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(transport)
	}
	return transport, nil
}

// Client returns an http.Client routing through the gateway.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	outReq, err := cloneReplayable(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Transport.RoundTrip] buffer request body")
	}
	if accessToken, ok := t.tokens.AccessToken(ctx); ok {
		outReq.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := t.base.RoundTrip(outReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// First authorization failure for this call: refresh once. If the
	// refresh fails the session has already been torn down, and the caller
	// sees the original failure.
	t.logger.Debug().Str("url", req.URL.String()).Msg("authorization failed, refreshing tokens")
	if err := t.refresher.RefreshTokens(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("token refresh failed")
		return resp, nil
	}

	accessToken, ok := t.tokens.AccessToken(ctx)
	if !ok {
		return resp, nil
	}
	drain(resp)

	retryReq, err := cloneReplayable(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Transport.RoundTrip] rebuild request")
	}
	retryReq.Header.Set("Authorization", "Bearer "+accessToken)

	// This call is now marked retried: whatever comes back is final.
	return t.base.RoundTrip(retryReq)
}

// cloneReplayable clones the request, buffering its body (once) so the call
// can be reissued after a refresh.
func cloneReplayable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}

	if req.GetBody == nil {
		buffered, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buffered)), nil
		}
		req.ContentLength = int64(len(buffered))
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out.Body = body
	out.ContentLength = req.ContentLength
	out.GetBody = req.GetBody
	return out, nil
}

// drain discards and closes a response body so its connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

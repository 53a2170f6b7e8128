// Package loopback provides a desktop implementation of the popup surface:
// it opens the system browser at the authorization URL and receives the
// success envelope as an HTTP POST on a loopback listener. The browser
// reports the posting page's origin in the Origin header, which the popup
// strategy checks against the trusted backend origin.
package loopback

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lessonhub/go-authclient/oauthbridge"
)

// CallbackPath is where the backend's success page posts the envelope.
const CallbackPath = "/oauth/callback"

// envelope mirrors the popup message shape: {type, data}.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Host is a loopback-HTTP popup surface.
type Host struct {
	listener    net.Listener
	server      *http.Server
	messages    chan oauthbridge.Message
	openBrowser func(url string) error
	logger      zerolog.Logger

	closeOnce sync.Once
	closedCh  chan struct{}
}

var _ oauthbridge.PopupSurface = (*Host)(nil)

// HostOption configures a Host.
type HostOption func(*Host)

// WithBrowserOpener overrides how the system browser is launched.
func WithBrowserOpener(open func(url string) error) HostOption {
	return func(h *Host) {
		h.openBrowser = open
	}
}

// WithLogger sets the host logger.
func WithLogger(logger zerolog.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// NewHost starts a loopback listener ready to receive the success envelope.
func NewHost(options ...HostOption) (*Host, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "[loopback.NewHost] listen")
	}

	host := &Host{
		listener:    listener,
		messages:    make(chan oauthbridge.Message, 1),
		openBrowser: openSystemBrowser,
		logger:      zerolog.Nop(),
		closedCh:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(host)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+CallbackPath, host.handleCallback)
	host.server = &http.Server{Handler: mux}

	go func() {
		if err := host.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			host.logger.Warn().Err(err).Msg("loopback server stopped")
		}
	}()

	return host, nil
}

// Addr returns the loopback callback URL for this host.
func (h *Host) Addr() string {
	return "http://" + h.listener.Addr().String() + CallbackPath
}

// Open launches the system browser at the authorization URL.
func (h *Host) Open(_ context.Context, url string) error {
	if err := h.openBrowser(url); err != nil {
		return errors.Wrap(err, "[Host.Open] launch browser")
	}
	h.logger.Debug().Str("url", url).Msg("opened system browser")
	return nil
}

// Messages delivers envelopes posted to the callback endpoint.
func (h *Host) Messages() <-chan oauthbridge.Message {
	return h.messages
}

// IsClosed reports whether the host has been shut down. Closing a system
// browser tab is not observable from here, so a live host never reports
// closed; cancellation comes from the hosting context instead.
func (h *Host) IsClosed() bool {
	select {
	case <-h.closedCh:
		return true
	default:
		return false
	}
}

// Close shuts the loopback listener down. Safe to call more than once.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		close(h.closedCh)
		_ = h.server.Shutdown(context.Background())
	})
}

func (h *Host) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	msg := oauthbridge.Message{
		Origin: r.Header.Get("Origin"),
		Type:   env.Type,
		Data:   env.Data,
	}

	select {
	case h.messages <- msg:
		w.WriteHeader(http.StatusNoContent)
	default:
		// A message has already been delivered for this attempt.
		http.Error(w, "already resolved", http.StatusConflict)
	}
}

func openSystemBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

package oauthbridge

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// PollScript is injected into the embedded browser page. It repeatedly tries
// to parse the page body as the success payload at increasing delays after
// load, posting it back through the host's one-way channel the first time
// parsing succeeds.
const PollScript = `
(function() {
  var posted = false;
  var checkForJsonResponse = function() {
    if (posted) { return; }
    var bodyText = document.body.innerText || document.body.textContent;
    try {
      var json = JSON.parse(bodyText);
      if (json.accessToken && json.refreshToken && json.user) {
        posted = true;
        window.__hostChannel.postMessage(JSON.stringify(json));
      }
    } catch (e) {
      // Not JSON yet, keep polling.
    }
  };
  window.addEventListener('load', function() {
    setTimeout(checkForJsonResponse, 500);
    setTimeout(checkForJsonResponse, 1000);
    setTimeout(checkForJsonResponse, 2000);
  });
  setTimeout(checkForJsonResponse, 500);
})();
true;
`

// BrowserView is an embedded browser surface the host fully sandboxes. The
// strategy has no script-level access to the loaded context, only script
// injection at load time and a one-way post-back channel. Dismiss must be
// safe to call more than once.
type BrowserView interface {
	Load(ctx context.Context, url, injectedScript string) error
	Messages() <-chan string
	Dismiss()
}

// EmbeddedBrowserStrategy completes a handoff inside an embedded browser
// view. The surface is sandboxed by the host, so any well-formed post-back is
// trusted, but a message missing any of the three required fields is an
// explicit failure: with no polling fallback there is nothing left to wait
// for once the page has posted a broken payload.
type EmbeddedBrowserStrategy struct {
	cfg    Config
	view   BrowserView
	logger zerolog.Logger

	lock  sync.Mutex
	state State
}

var _ Handoff = (*EmbeddedBrowserStrategy)(nil)

// EmbeddedOption configures an EmbeddedBrowserStrategy.
type EmbeddedOption func(*EmbeddedBrowserStrategy)

// WithEmbeddedLogger sets the strategy logger.
func WithEmbeddedLogger(logger zerolog.Logger) EmbeddedOption {
	return func(e *EmbeddedBrowserStrategy) {
		e.logger = logger
	}
}

// NewEmbeddedBrowserStrategy creates the embedded-browser variant of the
// bridge.
func NewEmbeddedBrowserStrategy(cfg Config, view BrowserView, options ...EmbeddedOption) (*EmbeddedBrowserStrategy, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "[NewEmbeddedBrowserStrategy] invalid config")
	}
	if view == nil {
		return nil, errors.New("[NewEmbeddedBrowserStrategy] view is required")
	}

	strategy := &EmbeddedBrowserStrategy{
		cfg:    cfg,
		view:   view,
		logger: zerolog.Nop(),
		state:  StateIdle,
	}
	for _, opt := range options {
		opt(strategy)
	}
	return strategy, nil
}

// State reports the strategy's position in the handoff state machine.
func (e *EmbeddedBrowserStrategy) State() State {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.state
}

// Authenticate runs one embedded-browser handoff to a terminal outcome.
func (e *EmbeddedBrowserStrategy) Authenticate(ctx context.Context) (Outcome, error) {
	if err := e.transition(StateIdle, StateInitiating); err != nil {
		return Outcome{}, err
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(e.view.Dismiss)
		e.setState(StateIdle)
	}
	defer cleanup()

	attemptID := uuid.New().String()
	authURL := e.cfg.AuthorizationURL(attemptID)

	if err := e.view.Load(ctx, authURL, PollScript); err != nil {
		e.logger.Warn().Err(err).Str("attempt", attemptID).Msg("embedded view load failed")
		return failed(ReasonSurfaceOpenFailed), nil
	}
	e.setState(StateAwaitingExternal)
	e.logger.Debug().Str("attempt", attemptID).Msg("awaiting embedded post-back")

	select {
	case <-ctx.Done():
		e.logger.Info().Str("attempt", attemptID).Msg("handoff cancelled by host")
		return cancelled(), nil

	case raw, ok := <-e.view.Messages():
		if !ok {
			return cancelled(), nil
		}
		payload, err := parseSuccessPayload([]byte(raw))
		if err != nil || !payload.complete() {
			e.logger.Warn().Str("attempt", attemptID).Msg("embedded post-back incomplete")
			return failed(ReasonIncompletePayload), nil
		}
		e.logger.Info().Str("attempt", attemptID).Msg("embedded handoff succeeded")
		return succeeded(payload), nil
	}
}

func (e *EmbeddedBrowserStrategy) transition(from, to State) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.state != from {
		return ErrAttemptInProgress
	}
	e.state = to
	return nil
}

func (e *EmbeddedBrowserStrategy) setState(state State) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.state = state
}

package oauthbridge

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultPollInterval = time.Second

// Message is an inbound cross-context message from the spawned surface.
// Origin is reported by the platform and cannot be forged by page script.
type Message struct {
	Origin string
	Type   string
	Data   []byte
}

// PopupSurface is a spawned external context the strategy has script-level
// access to: it can be opened at a URL, observed for closure, and delivers
// cross-context messages. Close must be safe to call more than once.
type PopupSurface interface {
	Open(ctx context.Context, url string) error
	Messages() <-chan Message
	IsClosed() bool
	Close()
}

// PopupStrategy completes a handoff through a browser popup. Only messages
// whose origin exactly matches the backend origin are honoured; anything else
// is silently ignored. A low-frequency poll detects the user closing the
// popup before a message arrives, and whichever signal fires first wins.
type PopupStrategy struct {
	cfg           Config
	surface       PopupSurface
	trustedOrigin string
	pollInterval  time.Duration
	logger        zerolog.Logger

	lock  sync.Mutex
	state State
}

var _ Handoff = (*PopupStrategy)(nil)

// PopupOption configures a PopupStrategy.
type PopupOption func(*PopupStrategy)

// WithPollInterval overrides the closed-popup poll interval (primarily for
// testing; the interval is not correctness-critical).
func WithPollInterval(interval time.Duration) PopupOption {
	return func(p *PopupStrategy) {
		p.pollInterval = interval
	}
}

// WithPopupLogger sets the strategy logger.
func WithPopupLogger(logger zerolog.Logger) PopupOption {
	return func(p *PopupStrategy) {
		p.logger = logger
	}
}

// NewPopupStrategy creates the popup variant of the bridge.
func NewPopupStrategy(cfg Config, surface PopupSurface, options ...PopupOption) (*PopupStrategy, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "[NewPopupStrategy] invalid config")
	}
	if surface == nil {
		return nil, errors.New("[NewPopupStrategy] surface is required")
	}

	origin, err := originOf(cfg.BackendBaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewPopupStrategy] backend base URL")
	}

	strategy := &PopupStrategy{
		cfg:           cfg,
		surface:       surface,
		trustedOrigin: origin,
		pollInterval:  defaultPollInterval,
		logger:        zerolog.Nop(),
		state:         StateIdle,
	}
	for _, opt := range options {
		opt(strategy)
	}
	return strategy, nil
}

// State reports the strategy's position in the handoff state machine.
func (p *PopupStrategy) State() State {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

// Authenticate runs one popup handoff to a terminal outcome.
func (p *PopupStrategy) Authenticate(ctx context.Context) (Outcome, error) {
	if err := p.transition(StateIdle, StateInitiating); err != nil {
		return Outcome{}, err
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(p.surface.Close)
		p.setState(StateIdle)
	}
	defer cleanup()

	attemptID := uuid.New().String()
	authURL := p.cfg.AuthorizationURL(attemptID)

	if err := p.surface.Open(ctx, authURL); err != nil {
		p.logger.Warn().Err(err).Str("attempt", attemptID).Msg("popup open failed")
		return failed(ReasonSurfaceOpenFailed), nil
	}
	p.setState(StateAwaitingExternal)
	p.logger.Debug().Str("attempt", attemptID).Msg("awaiting popup message")

	poll := time.NewTicker(p.pollInterval)
	defer poll.Stop()

	// Single select loop: the message listener and the closed-popup poll are
	// mutually exclusive by construction, so the first signal observed
	// resolves the attempt and the deferred cleanup disarms everything.
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Str("attempt", attemptID).Msg("handoff cancelled by host")
			return cancelled(), nil

		case <-poll.C:
			if p.surface.IsClosed() {
				p.logger.Info().Str("attempt", attemptID).Msg("popup closed by user")
				return cancelled(), nil
			}

		case msg, ok := <-p.surface.Messages():
			if !ok {
				return cancelled(), nil
			}
			if msg.Origin != p.trustedOrigin {
				// Spoofed or unrelated context. Not an error.
				continue
			}
			if msg.Type != MessageTypeLoginSuccess {
				continue
			}
			payload, err := parseSuccessPayload(msg.Data)
			if err != nil || !payload.complete() {
				// The closed-popup poll remains armed, so a broken message
				// from the trusted page is recoverable. Keep waiting.
				p.logger.Warn().Str("attempt", attemptID).Msg("ignoring malformed success message")
				continue
			}
			p.logger.Info().Str("attempt", attemptID).Msg("popup handoff succeeded")
			return succeeded(payload), nil
		}
	}
}

func (p *PopupStrategy) transition(from, to State) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.state != from {
		return ErrAttemptInProgress
	}
	p.state = to
	return nil
}

func (p *PopupStrategy) setState(state State) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.state = state
}

// originOf normalizes a base URL to its origin (scheme://host[:port]).
func originOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Errorf("URL %q has no origin", baseURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Package oauthbridge coordinates one external OAuth handoff attempt against
// the backend's authorization endpoint. Two strategies share the same
// contract: start a handoff, deliver exactly one terminal outcome, and release
// every listener, timer and surface the attempt created.
package oauthbridge

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/lessonhub/go-authclient/token"
	"github.com/lessonhub/go-authclient/users"
)

// State is the bridge's position in the handoff state machine.
type State string

const (
	StateIdle             State = "idle"
	StateInitiating       State = "initiating"
	StateAwaitingExternal State = "awaiting_external"
)

// Status tags the terminal outcome of a handoff attempt.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Failure reasons carried by StatusFailed outcomes.
const (
	ReasonSurfaceOpenFailed = "failed to open authentication surface"
	ReasonIncompletePayload = "incomplete payload"
)

// ErrAttemptInProgress is returned when Authenticate is called while a
// previous attempt has not yet reached a terminal state.
var ErrAttemptInProgress = errors.New("handoff attempt already in progress")

// MessageTypeLoginSuccess is the envelope type the backend's success page
// posts to the opener window.
const MessageTypeLoginSuccess = "GOOGLE_LOGIN_SUCCESS"

// Outcome is the single terminal result of a handoff attempt.
type Outcome struct {
	Status Status
	Pair   token.Pair  // set when Status == StatusSucceeded
	User   *users.User // set when Status == StatusSucceeded
	Reason string      // set when Status == StatusFailed
}

// Handoff is the contract both strategies implement. Authenticate blocks
// until the attempt reaches a terminal state and returns exactly one Outcome.
// Cancelling ctx (the hosting screen going away) resolves the attempt as
// Cancelled. The returned error is reserved for misuse, such as starting a
// second attempt while one is live.
type Handoff interface {
	Authenticate(ctx context.Context) (Outcome, error)
}

// Config locates the backend's authorization endpoint. BackendBaseURL doubles
// as the trusted origin for inbound popup messages.
type Config struct {
	BackendBaseURL string
	AuthorizePath  string
}

// AuthorizationURL composes the URL the external surface is pointed at,
// carrying a per-attempt state value.
func (c Config) AuthorizationURL(state string) string {
	oc := oauth2.Config{
		Endpoint: oauth2.Endpoint{AuthURL: c.BackendBaseURL + c.AuthorizePath},
	}
	return oc.AuthCodeURL(state)
}

func (c Config) validate() error {
	if c.BackendBaseURL == "" {
		return errors.New("BackendBaseURL is required")
	}
	if c.AuthorizePath == "" {
		return errors.New("AuthorizePath is required")
	}
	return nil
}

// successPayload is the shape both strategies must parse out of the external
// surface: {accessToken, refreshToken, user}.
type successPayload struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         *users.User `json:"user"`
}

func (p successPayload) complete() bool {
	return p.AccessToken != "" && p.RefreshToken != "" && p.User != nil
}

func parseSuccessPayload(raw []byte) (successPayload, error) {
	var payload successPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return successPayload{}, err
	}
	return payload, nil
}

func succeeded(payload successPayload) Outcome {
	return Outcome{
		Status: StatusSucceeded,
		Pair:   token.Pair{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken},
		User:   payload.User,
	}
}

func cancelled() Outcome {
	return Outcome{Status: StatusCancelled}
}

func failed(reason string) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason}
}

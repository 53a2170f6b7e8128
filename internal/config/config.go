// Package config loads SDK configuration from environment variables.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config holds everything the SDK needs to talk to the backend and persist
// credentials locally.
type Config struct {
	// APIBaseURL is the backend's base URL. Its origin is also the trusted
	// origin for inbound popup messages.
	APIBaseURL string `env:"LESSONHUB_API_BASE_URL" envDefault:"http://localhost:8080"`

	// CredentialsPath is where the bbolt credentials database lives.
	CredentialsPath string `env:"LESSONHUB_CREDENTIALS_PATH" envDefault:"./data/credentials.db"`

	// AuthorizePath is the backend's OAuth authorization redirect endpoint.
	AuthorizePath string `env:"LESSONHUB_AUTHORIZE_PATH" envDefault:"/oauth2/authorization/google"`

	// HTTPTimeout bounds individual backend calls.
	HTTPTimeout time.Duration `env:"LESSONHUB_HTTP_TIMEOUT" envDefault:"10s"`

	// PopupPollInterval is how often the popup strategy checks whether the
	// user closed the external surface.
	PopupPollInterval time.Duration `env:"LESSONHUB_POPUP_POLL_INTERVAL" envDefault:"1s"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "[config.Load] parse env")
	}
	return cfg, nil
}

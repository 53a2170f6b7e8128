// Command authdemo is a minimal desktop shell around the auth SDK: it
// restores a persisted session, runs a Google login through the popup
// strategy when needed, and shows role switching and logout.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/lessonhub/go-authclient/authapi"
	"github.com/lessonhub/go-authclient/credstore/bboltstore"
	"github.com/lessonhub/go-authclient/gateway"
	"github.com/lessonhub/go-authclient/internal/config"
	"github.com/lessonhub/go-authclient/oauthbridge"
	"github.com/lessonhub/go-authclient/oauthbridge/loopback"
	"github.com/lessonhub/go-authclient/roleroute"
	"github.com/lessonhub/go-authclient/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running authdemo: %s\n", err)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	displayAppname("LessonHub")
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := os.MkdirAll(filepath.Dir(cfg.CredentialsPath), 0o700); err != nil {
		return err
	}
	store, err := bboltstore.Open(cfg.CredentialsPath)
	if err != nil {
		return err
	}
	defer store.Close()

	api, err := authapi.NewClient(cfg.APIBaseURL,
		authapi.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		authapi.WithLogger(logger))
	if err != nil {
		return err
	}

	manager, err := session.NewManager(store, api, session.WithLogger(logger))
	if err != nil {
		return err
	}

	transport, err := gateway.NewTransport(manager, manager, gateway.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := manager.Restore(ctx)
	if !sess.Authenticated {
		sess, err = loginWithGoogle(ctx, cfg, manager, logger)
		if err != nil {
			return err
		}
		if !sess.Authenticated {
			fmt.Println("Login cancelled.")
			return nil
		}
	}

	fmt.Printf("Signed in as %s (%s)\n", sess.User.Name, sess.User.Email)
	fmt.Printf("Landing route: %s\n", roleroute.LandingRoute(sess))

	// Prove the gateway path works end to end.
	me, err := api.Me(ctx, transport.Client())
	if err != nil {
		logger.Warn().Err(err).Msg("could not fetch current user")
	} else {
		fmt.Printf("Backend says you hold roles: %v\n", me.Roles)
	}

	return nil
}

func loginWithGoogle(ctx context.Context, cfg config.Config, manager *session.Manager, logger zerolog.Logger) (session.Session, error) {
	host, err := loopback.NewHost(loopback.WithLogger(logger))
	if err != nil {
		return session.Session{}, err
	}
	defer host.Close()

	popup, err := oauthbridge.NewPopupStrategy(
		oauthbridge.Config{BackendBaseURL: cfg.APIBaseURL, AuthorizePath: cfg.AuthorizePath},
		host,
		oauthbridge.WithPollInterval(cfg.PopupPollInterval),
		oauthbridge.WithPopupLogger(logger),
	)
	if err != nil {
		return session.Session{}, err
	}

	fmt.Println("Complete the Google login in your browser...")
	outcome, err := manager.LoginWith(ctx, popup)
	if err != nil {
		return session.Session{}, err
	}

	switch outcome.Status {
	case oauthbridge.StatusFailed:
		return session.Session{}, fmt.Errorf("login failed: %s", outcome.Reason)
	case oauthbridge.StatusCancelled:
		return session.Session{}, nil
	}
	return manager.Current(), nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

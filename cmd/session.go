package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/shawkym/roomsync/internal/matrix"
	"github.com/shawkym/roomsync/pkg/config"
	"github.com/shawkym/roomsync/pkg/engine"
	"github.com/shawkym/roomsync/pkg/log"
	"github.com/shawkym/roomsync/pkg/metrics"
)

// newEngine builds an engine from cfg. The session file is restored if it
// exists.
func newEngine(cfg *config.Config, m *metrics.Metrics, transport engine.Transport) (*engine.Engine, error) {
	return engine.New(engine.Options{
		Homeserver:  cfg.Homeserver,
		Timeout:     cfg.Sync.Timeout(),
		SessionPath: cfg.SessionFile,
		FullState:   cfg.Sync.FullState,
		RetryDelay:  cfg.Sync.RetryDelay,
		DeviceName:  cfg.DeviceName,
		Transport:   transport,
		Gate:        matrix.NewGate(cfg.RateLimit.WritesPerSecond, cfg.RateLimit.Burst),
		Metrics:     m,
	})
}

// readPassword prompts on stderr and reads without echo.
var readPassword = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no password configured and stdin is not a terminal (set MATRIX_PASSWORD)")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// ensureLogin logs in when the session has no token, or always when force is
// set, and persists the new session.
func ensureLogin(ctx context.Context, eng *engine.Engine, cfg *config.Config, force bool) error {
	if eng.Session().Authenticated() && !force {
		log.WithField("user_id", cfg.UserID).Debug("reusing saved session")
		return nil
	}
	if cfg.UserID == "" {
		return fmt.Errorf("no user configured (set user_id or %s)", config.EnvUser)
	}

	password := cfg.Password
	if password == "" {
		var err error
		password, err = readPassword(fmt.Sprintf("Password for %s: ", cfg.UserID))
		if err != nil {
			return err
		}
	}

	if err := eng.Login(ctx, cfg.UserID, password); err != nil {
		return err
	}
	return eng.Persist()
}

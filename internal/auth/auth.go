// Package auth attaches the bearer credential to a freshly opened session
// and interprets the server's verdict.
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/platform"
	"github.com/matheus3301/chatsync/internal/protocol"
)

var (
	// ErrAuthenticationFailed is matched by every rejected or timed out handshake.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrNoCredential means the credential source had no token to offer.
	ErrNoCredential = errors.New("no access token available")
)

// Error describes why a handshake failed.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// Mode selects how the credential reaches the server.
type Mode string

const (
	// ModeFrame sends Auth{token} as the first frame after the socket opens.
	ModeFrame Mode = "frame"
	// ModeQuery puts the token in the connection URL.
	ModeQuery Mode = "query"
)

// Config controls the handshake.
type Config struct {
	Mode       Mode
	QueryParam string
	Timeout    time.Duration
}

// DefaultConfig returns frame mode with a 10s timeout.
func DefaultConfig() Config {
	return Config{Mode: ModeFrame, QueryParam: "token", Timeout: 10 * time.Second}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.QueryParam == "" {
		c.QueryParam = d.QueryParam
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Validate rejects unknown modes.
func (c Config) Validate() error {
	switch c.withDefaults().Mode {
	case ModeFrame, ModeQuery:
		return nil
	default:
		return fmt.Errorf("unknown auth mode %q", c.Mode)
	}
}

// Result is the outcome of one handshake.
type Result struct {
	UserID string
	Err    error
}

// Authenticator runs handshakes. It is confined to the caller's event loop.
type Authenticator struct {
	cfg    Config
	clock  platform.Clock
	logger *zap.Logger
}

// New creates an Authenticator.
func New(cfg Config, clock platform.Clock, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{cfg: cfg.withDefaults(), clock: clock, logger: logger}
}

// Mode returns the configured credential mode.
func (a *Authenticator) Mode() Mode {
	return a.cfg.Mode
}

// DialURL returns the URL to open. In query mode the token is added as a
// query parameter; in frame mode base is returned unchanged.
func (a *Authenticator) DialURL(base, token string) (string, error) {
	if a.cfg.Mode != ModeQuery {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set(a.cfg.QueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Handshake is one in-flight authentication.
type Handshake struct {
	timer    platform.Timer
	done     func(Result)
	finished bool
	logger   *zap.Logger
}

// Begin starts a handshake on an opened session. In frame mode it sends
// Auth{token} through send. done is called exactly once.
func (a *Authenticator) Begin(token string, send func(protocol.Event) error, done func(Result)) *Handshake {
	h := &Handshake{done: done, logger: a.logger}
	if token == "" {
		h.finish(Result{Err: &Error{Reason: "missing credential", Err: ErrNoCredential}})
		return h
	}
	if a.cfg.Mode == ModeFrame {
		if err := send(protocol.NewAuth(token)); err != nil {
			h.finish(Result{Err: fmt.Errorf("send auth frame: %w", err)})
			return h
		}
	}
	h.timer = a.clock.AfterFunc(a.cfg.Timeout, func() {
		h.finish(Result{Err: &Error{Reason: "timeout"}})
	})
	return h
}

// Handle consumes auth verdict events. It reports whether evt belonged to the handshake.
func (h *Handshake) Handle(evt protocol.Event) bool {
	switch e := evt.(type) {
	case *protocol.AuthSuccess:
		h.finish(Result{UserID: e.UserID})
		return true
	case *protocol.AuthFailure:
		reason := e.Reason
		if reason == "" {
			reason = "rejected"
		}
		h.finish(Result{Err: &Error{Reason: reason}})
		return true
	default:
		return false
	}
}

// Cancel abandons the handshake, reporting err if it had not finished.
func (h *Handshake) Cancel(err error) {
	h.finish(Result{Err: err})
}

// Done reports whether the handshake has produced its result.
func (h *Handshake) Done() bool {
	return h.finished
}

func (h *Handshake) finish(r Result) {
	if h.finished {
		return
	}
	h.finished = true
	if h.timer != nil {
		h.timer.Stop()
	}
	switch {
	case r.Err == nil:
		h.logger.Info("authenticated", zap.String("user_id", r.UserID))
	case errors.Is(r.Err, ErrAuthenticationFailed):
		h.logger.Error("authentication failed", zap.Error(r.Err))
	default:
		h.logger.Debug("handshake abandoned", zap.Error(r.Err))
	}
	h.done(r)
}

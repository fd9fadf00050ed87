package sync

import (
	"errors"
	"math"
	"time"

	"github.com/matheus3301/chatsync/internal/activity"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/outbound"
)

// ReconnectPolicy bounds automatic reconnection after a dropped connection.
// The counter resets on every successful authentication.
type ReconnectPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// Multiplier > 1 grows the delay per attempt; 1 keeps it fixed.
	Multiplier float64
	MaxDelay   time.Duration
}

// Backoff returns the wait before the given 1-based attempt.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 && attempt > 1 {
		d = time.Duration(float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt-1)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Config holds engine settings.
type Config struct {
	URL                 string
	Auth                auth.Config
	DeliveryTimeout     time.Duration
	TypingTimeout       time.Duration
	RemoteTypingTimeout time.Duration
	Reconnect           ReconnectPolicy
	Idle                activity.Config
}

// DefaultConfig returns the product defaults.
func DefaultConfig() Config {
	return Config{
		Auth:                auth.DefaultConfig(),
		DeliveryTimeout:     outbound.DefaultTimeout,
		TypingTimeout:       time.Second,
		RemoteTypingTimeout: 5 * time.Second,
		Reconnect: ReconnectPolicy{
			MaxAttempts: 5,
			Delay:       3 * time.Second,
			Multiplier:  1,
		},
		Idle: activity.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Auth.Mode == "" {
		c.Auth.Mode = d.Auth.Mode
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = d.TypingTimeout
	}
	if c.RemoteTypingTimeout <= 0 {
		c.RemoteTypingTimeout = d.RemoteTypingTimeout
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = d.Reconnect.MaxAttempts
	}
	if c.Reconnect.Delay <= 0 {
		c.Reconnect.Delay = d.Reconnect.Delay
	}
	if c.Reconnect.Multiplier <= 0 {
		c.Reconnect.Multiplier = d.Reconnect.Multiplier
	}
	if c.Idle.Default <= 0 {
		disabled := c.Idle.Disabled
		c.Idle = d.Idle
		c.Idle.Disabled = disabled
	}
	return c
}

// Validate reports configuration errors that defaults cannot fix.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("server url is required")
	}
	return c.Auth.Validate()
}

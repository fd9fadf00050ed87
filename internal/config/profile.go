package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matheus3301/chatsync/internal/activity"
	"github.com/matheus3301/chatsync/internal/auth"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Profile is a profile's config.toml.
type Profile struct {
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Delivery  DeliveryConfig  `toml:"delivery"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Typing    TypingConfig    `toml:"typing"`
	Idle      IdleConfig      `toml:"idle"`
}

type ServerConfig struct {
	URL        string `toml:"url"`
	HistoryURL string `toml:"history_url"`
	// AutoConnect connects on daemon start when a token is available.
	AutoConnect bool `toml:"auto_connect"`
}

type AuthConfig struct {
	Mode       string   `toml:"mode"`
	QueryParam string   `toml:"query_param"`
	Timeout    Duration `toml:"timeout"`
	TokenEnv   string   `toml:"token_env"`
	TokenFile  string   `toml:"token_file"`
}

type DeliveryConfig struct {
	Timeout Duration `toml:"timeout"`
}

type ReconnectConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	Delay       Duration `toml:"delay"`
	Multiplier  float64  `toml:"multiplier"`
	MaxDelay    Duration `toml:"max_delay"`
}

type TypingConfig struct {
	Local  Duration `toml:"local"`
	Remote Duration `toml:"remote"`
}

// IdleConfig controls idle close. It is off unless Enabled, since a
// headless daemon has no screen reporting activity.
type IdleConfig struct {
	Enabled      bool     `toml:"enabled"`
	Default      Duration `toml:"default"`
	List         Duration `toml:"list"`
	Conversation Duration `toml:"conversation"`
}

// DefaultProfile mirrors the engine defaults.
func DefaultProfile() *Profile {
	e := intsync.DefaultConfig()
	return &Profile{
		Server: ServerConfig{AutoConnect: true},
		Auth: AuthConfig{
			Mode:       string(e.Auth.Mode),
			QueryParam: e.Auth.QueryParam,
			Timeout:    Duration{e.Auth.Timeout},
			TokenEnv:   "CHATSYNC_TOKEN",
		},
		Delivery: DeliveryConfig{Timeout: Duration{e.DeliveryTimeout}},
		Reconnect: ReconnectConfig{
			MaxAttempts: e.Reconnect.MaxAttempts,
			Delay:       Duration{e.Reconnect.Delay},
			Multiplier:  e.Reconnect.Multiplier,
		},
		Typing: TypingConfig{
			Local:  Duration{e.TypingTimeout},
			Remote: Duration{e.RemoteTypingTimeout},
		},
		Idle: IdleConfig{
			Default:      Duration{e.Idle.Default},
			List:         Duration{e.Idle.Screens[activity.ScreenList]},
			Conversation: Duration{e.Idle.Screens[activity.ScreenConversation]},
		},
	}
}

// LoadProfile reads a profile config over the defaults. A missing file
// yields the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if _, err := toml.DecodeFile(path, p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("load profile config: %w", err)
	}
	return p, nil
}

// Engine converts the profile into engine settings.
func (p *Profile) Engine() intsync.Config {
	return intsync.Config{
		URL: p.Server.URL,
		Auth: auth.Config{
			Mode:       auth.Mode(p.Auth.Mode),
			QueryParam: p.Auth.QueryParam,
			Timeout:    p.Auth.Timeout.Duration,
		},
		DeliveryTimeout:     p.Delivery.Timeout.Duration,
		TypingTimeout:       p.Typing.Local.Duration,
		RemoteTypingTimeout: p.Typing.Remote.Duration,
		Reconnect: intsync.ReconnectPolicy{
			MaxAttempts: p.Reconnect.MaxAttempts,
			Delay:       p.Reconnect.Delay.Duration,
			Multiplier:  p.Reconnect.Multiplier,
			MaxDelay:    p.Reconnect.MaxDelay.Duration,
		},
		Idle: activity.Config{
			Disabled: !p.Idle.Enabled,
			Default:  p.Idle.Default.Duration,
			Screens: map[string]time.Duration{
				activity.ScreenList:         p.Idle.List.Duration,
				activity.ScreenConversation: p.Idle.Conversation.Duration,
			},
		},
	}
}

// Validate reports settings the daemon cannot run with.
func (p *Profile) Validate() error {
	if err := p.Engine().Validate(); err != nil {
		return err
	}
	if p.Auth.TokenEnv == "" && p.Auth.TokenFile == "" {
		return errors.New("auth: one of token_env or token_file is required")
	}
	return nil
}

// Package activity decides when the connection may be torn down to save
// resources and when it must come back.
package activity

import (
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/platform"
)

// State is the monitor's view of the user.
type State int

const (
	Active State = iota
	Idle
)

func (s State) String() string {
	if s == Idle {
		return "idle"
	}
	return "active"
}

// Screen names used for per-screen idle durations.
const (
	ScreenList         = "list"
	ScreenConversation = "conversation"
)

// Config holds idle durations. Screens not listed use Default. When
// Disabled the monitor records inputs but never goes idle.
type Config struct {
	Default  time.Duration
	Screens  map[string]time.Duration
	Disabled bool
}

// DefaultConfig uses a short timeout for list screens and a longer one
// while a conversation is open.
func DefaultConfig() Config {
	return Config{
		Default: time.Minute,
		Screens: map[string]time.Duration{
			ScreenList:         time.Minute,
			ScreenConversation: 5 * time.Minute,
		},
	}
}

// Session is a snapshot of the monitor's inputs.
type Session struct {
	IsAppForeground bool
	IsScreenActive  bool
	Screen          string
	LastActivityAt  time.Time
	// IdleTimeout is zero when idle close is disabled.
	IdleTimeout time.Duration
	State       State
}

// Monitor is confined to the caller's event loop.
type Monitor struct {
	cfg    Config
	clock  platform.Clock
	logger *zap.Logger
	onIdle func()
	onWake func()

	foreground bool
	screen     string
	lastPulse  time.Time
	state      State
	timer      platform.Timer
	running    bool
}

// New creates a monitor. It starts foreground and Active but does not arm
// its timer until Start.
func New(cfg Config, clock platform.Clock, logger *zap.Logger, onIdle, onWake func()) *Monitor {
	if cfg.Default <= 0 {
		cfg.Default = DefaultConfig().Default
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
		onIdle:     onIdle,
		onWake:     onWake,
		foreground: true,
		lastPulse:  clock.Now(),
	}
}

// Start arms the idle timer. Call when the connection becomes usable.
func (m *Monitor) Start() {
	m.running = true
	m.state = Active
	m.lastPulse = m.clock.Now()
	m.arm()
}

// Stop disarms the timer; inputs are still recorded but trigger nothing.
func (m *Monitor) Stop() {
	m.running = false
	m.disarm()
}

// SetForeground records an app foreground/background transition.
func (m *Monitor) SetForeground(fg bool) {
	m.foreground = fg
	if fg {
		m.activity()
		return
	}
	// Backgrounding does not count as interaction, but the timer restarts
	// so the background duration is measured from now.
	m.arm()
}

// Pulse records a user interaction such as typing or sending.
func (m *Monitor) Pulse() {
	m.activity()
}

// Focus records that screen became active.
func (m *Monitor) Focus(screen string) {
	m.screen = screen
	m.activity()
}

// Blur records that no screen is active.
func (m *Monitor) Blur() {
	m.screen = ""
	m.arm()
}

// State returns Active or Idle.
func (m *Monitor) State() State {
	return m.state
}

// Snapshot returns the current inputs.
func (m *Monitor) Snapshot() Session {
	return Session{
		IsAppForeground: m.foreground,
		IsScreenActive:  m.screen != "",
		Screen:          m.screen,
		LastActivityAt:  m.lastPulse,
		IdleTimeout:     m.idleTimeout(),
		State:           m.state,
	}
}

func (m *Monitor) activity() {
	m.lastPulse = m.clock.Now()
	if m.state == Idle {
		m.state = Active
		m.logger.Debug("activity resumed")
		if m.onWake != nil {
			m.onWake()
		}
	}
	m.arm()
}

func (m *Monitor) idleTimeout() time.Duration {
	if m.cfg.Disabled {
		return 0
	}
	return m.timeout()
}

func (m *Monitor) timeout() time.Duration {
	if d, ok := m.cfg.Screens[m.screen]; ok && d > 0 {
		return d
	}
	return m.cfg.Default
}

func (m *Monitor) arm() {
	m.disarm()
	if !m.running || m.state == Idle || m.cfg.Disabled {
		return
	}
	m.timer = m.clock.AfterFunc(m.timeout(), m.expire)
}

func (m *Monitor) disarm() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) expire() {
	m.timer = nil
	if !m.running || m.state == Idle {
		return
	}
	// A foreground app with an active screen never goes idle on its own.
	if m.foreground && m.screen != "" {
		m.arm()
		return
	}
	m.state = Idle
	m.logger.Info("idle timeout reached",
		zap.Bool("foreground", m.foreground),
		zap.String("screen", m.screen),
		zap.Duration("timeout", m.timeout()))
	if m.onIdle != nil {
		m.onIdle()
	}
}

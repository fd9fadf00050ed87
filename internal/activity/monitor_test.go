package activity

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/platform/clocktest"
)

type counts struct{ idle, wake int }

func newTestMonitor() (*Monitor, *clocktest.Clock, *counts) {
	clk := clocktest.New(time.Unix(0, 0))
	c := &counts{}
	m := New(Config{
		Default: time.Minute,
		Screens: map[string]time.Duration{ScreenConversation: 5 * time.Minute},
	}, clk, nil, func() { c.idle++ }, func() { c.wake++ })
	m.Start()
	return m, clk, c
}

func TestBackgroundGoesIdle(t *testing.T) {
	m, clk, c := newTestMonitor()
	m.SetForeground(false)

	clk.Advance(59 * time.Second)
	if c.idle != 0 {
		t.Fatal("idle fired early")
	}
	clk.Advance(time.Second)
	if c.idle != 1 || m.State() != Idle {
		t.Fatalf("idle = %d state = %v", c.idle, m.State())
	}

	clk.Advance(time.Hour)
	if c.idle != 1 {
		t.Errorf("idle fired %d times, want 1", c.idle)
	}
}

func TestForegroundWakesOnce(t *testing.T) {
	m, clk, c := newTestMonitor()
	m.SetForeground(false)
	clk.Advance(time.Minute)

	m.SetForeground(true)
	m.Pulse()
	m.Focus(ScreenList)
	if c.wake != 1 {
		t.Fatalf("wake = %d, want 1", c.wake)
	}
	if m.State() != Active {
		t.Errorf("state = %v, want active", m.State())
	}
}

func TestForegroundActiveScreenStaysActive(t *testing.T) {
	m, clk, c := newTestMonitor()
	m.Focus(ScreenList)

	clk.Advance(10 * time.Minute)
	if c.idle != 0 {
		t.Errorf("idle = %d while foreground with active screen", c.idle)
	}
}

func TestPulseResetsTimer(t *testing.T) {
	m, clk, c := newTestMonitor()
	m.SetForeground(false)

	clk.Advance(50 * time.Second)
	m.Pulse()
	clk.Advance(50 * time.Second)
	if c.idle != 0 {
		t.Fatal("pulse did not reset the idle timer")
	}
	clk.Advance(10 * time.Second)
	if c.idle != 1 {
		t.Errorf("idle = %d, want 1", c.idle)
	}
}

func TestConversationScreenUsesLongerTimeout(t *testing.T) {
	m, clk, c := newTestMonitor()
	m.Focus(ScreenConversation)
	m.SetForeground(false)

	if got := m.Snapshot().IdleTimeout; got != 5*time.Minute {
		t.Fatalf("IdleTimeout = %v, want 5m", got)
	}
	clk.Advance(4 * time.Minute)
	if c.idle != 0 {
		t.Fatal("conversation screen went idle early")
	}
	clk.Advance(time.Minute)
	if c.idle != 1 {
		t.Errorf("idle = %d, want 1", c.idle)
	}
}

func TestStopDisarms(t *testing.T) {
	m, clk, c := newTestMonitor()
	m.SetForeground(false)
	m.Stop()
	clk.Advance(time.Hour)
	if c.idle != 0 {
		t.Errorf("idle = %d after Stop", c.idle)
	}
	if clk.Pending() != 0 {
		t.Errorf("pending timers = %d", clk.Pending())
	}
}

func TestSnapshot(t *testing.T) {
	m, clk, _ := newTestMonitor()
	clk.Advance(3 * time.Second)
	m.Focus(ScreenList)

	s := m.Snapshot()
	if !s.IsAppForeground || !s.IsScreenActive || s.Screen != ScreenList {
		t.Errorf("snapshot = %+v", s)
	}
	if !s.LastActivityAt.Equal(time.Unix(3, 0)) {
		t.Errorf("LastActivityAt = %v", s.LastActivityAt)
	}
	m.Blur()
	if m.Snapshot().IsScreenActive {
		t.Error("IsScreenActive after Blur")
	}
}

func TestDisabledNeverIdles(t *testing.T) {
	clk := clocktest.New(time.Unix(0, 0))
	c := &counts{}
	m := New(Config{Default: time.Minute, Disabled: true}, clk, nil, func() { c.idle++ }, func() { c.wake++ })
	m.Start()
	m.SetForeground(false)
	m.Blur()

	clk.Advance(24 * time.Hour)
	if c.idle != 0 || m.State() != Active {
		t.Errorf("idle = %d state = %v, want no idle while disabled", c.idle, m.State())
	}
	if got := m.Snapshot().IdleTimeout; got != 0 {
		t.Errorf("IdleTimeout = %v, want 0 while disabled", got)
	}
}

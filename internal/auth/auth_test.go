package auth

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/platform/clocktest"
	"github.com/matheus3301/chatsync/internal/protocol"
)

func newTestAuth(mode Mode) (*Authenticator, *clocktest.Clock) {
	clk := clocktest.New(time.Unix(0, 0))
	return New(Config{Mode: mode, Timeout: 5 * time.Second}, clk, nil), clk
}

func TestFrameModeSendsAuthAndSucceeds(t *testing.T) {
	a, _ := newTestAuth(ModeFrame)
	var sent []protocol.Event
	var results []Result

	h := a.Begin("tok", func(e protocol.Event) error {
		sent = append(sent, e)
		return nil
	}, func(r Result) { results = append(results, r) })

	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	if authEvt, ok := sent[0].(*protocol.Auth); !ok || authEvt.Token != "tok" {
		t.Fatalf("sent = %#v, want Auth{tok}", sent[0])
	}
	if h.Handle(&protocol.Ping{}) {
		t.Error("Handle(Ping) = true")
	}
	if !h.Handle(&protocol.AuthSuccess{UserID: "u1"}) {
		t.Fatal("Handle(AuthSuccess) = false")
	}
	if len(results) != 1 || results[0].Err != nil || results[0].UserID != "u1" {
		t.Fatalf("results = %+v", results)
	}
}

func TestAuthFailureCarriesReason(t *testing.T) {
	a, _ := newTestAuth(ModeFrame)
	var got Result
	h := a.Begin("expired-token", func(protocol.Event) error { return nil }, func(r Result) { got = r })
	h.Handle(&protocol.AuthFailure{Reason: "expired"})

	if !errors.Is(got.Err, ErrAuthenticationFailed) {
		t.Fatalf("err = %v, want ErrAuthenticationFailed", got.Err)
	}
	var ae *Error
	if !errors.As(got.Err, &ae) || ae.Reason != "expired" {
		t.Errorf("err = %v, want reason expired", got.Err)
	}
}

func TestTimeoutFailsOnce(t *testing.T) {
	a, clk := newTestAuth(ModeFrame)
	calls := 0
	var got Result
	h := a.Begin("tok", func(protocol.Event) error { return nil }, func(r Result) {
		calls++
		got = r
	})

	clk.Advance(4 * time.Second)
	if calls != 0 {
		t.Fatal("handshake finished before timeout")
	}
	clk.Advance(time.Second)
	if calls != 1 || !errors.Is(got.Err, ErrAuthenticationFailed) {
		t.Fatalf("calls = %d err = %v", calls, got.Err)
	}

	// A late verdict is ignored.
	h.Handle(&protocol.AuthSuccess{UserID: "u1"})
	if calls != 1 {
		t.Errorf("calls = %d after late success, want 1", calls)
	}
}

func TestMissingToken(t *testing.T) {
	a, clk := newTestAuth(ModeFrame)
	var got Result
	a.Begin("", func(protocol.Event) error {
		t.Fatal("auth frame sent without token")
		return nil
	}, func(r Result) { got = r })

	if !errors.Is(got.Err, ErrNoCredential) || !errors.Is(got.Err, ErrAuthenticationFailed) {
		t.Errorf("err = %v, want ErrNoCredential and ErrAuthenticationFailed", got.Err)
	}
	if clk.Pending() != 0 {
		t.Error("timer armed for missing token")
	}
}

func TestQueryModeDialURL(t *testing.T) {
	a, _ := newTestAuth(ModeQuery)
	got, err := a.DialURL("wss://chat.example.com/ws?v=2", "a b")
	if err != nil {
		t.Fatalf("DialURL() error = %v", err)
	}
	u, _ := url.Parse(got)
	if u.Query().Get("token") != "a b" || u.Query().Get("v") != "2" {
		t.Errorf("DialURL() = %q", got)
	}

	sent := 0
	a.Begin("tok", func(protocol.Event) error { sent++; return nil }, func(Result) {})
	if sent != 0 {
		t.Errorf("query mode sent %d frames, want 0", sent)
	}

	f, _ := newTestAuth(ModeFrame)
	if got, _ := f.DialURL("wss://x/ws", "tok"); got != "wss://x/ws" {
		t.Errorf("frame DialURL() = %q, want unchanged", got)
	}
}

func TestCancel(t *testing.T) {
	a, clk := newTestAuth(ModeFrame)
	closed := errors.New("closed")
	var got Result
	h := a.Begin("tok", func(protocol.Event) error { return nil }, func(r Result) { got = r })
	h.Cancel(closed)
	if !errors.Is(got.Err, closed) || !h.Done() {
		t.Errorf("err = %v done = %v", got.Err, h.Done())
	}
	if clk.Pending() != 0 {
		t.Error("timer still pending after cancel")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err != nil {
		t.Errorf("zero Config.Validate() = %v", err)
	}
	if err := (Config{Mode: "cookie"}).Validate(); err == nil {
		t.Error("Validate() accepted unknown mode")
	}
}

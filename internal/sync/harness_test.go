package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/platform"
	"github.com/matheus3301/chatsync/internal/platform/clocktest"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/transport/transporttest"
)

const waitTimeout = 2 * time.Second

type tokenSource struct {
	token atomic.Value
}

func newTokenSource(token string) *tokenSource {
	ts := &tokenSource{}
	ts.token.Store(token)
	return ts
}

func (ts *tokenSource) Set(token string) { ts.token.Store(token) }

func (ts *tokenSource) AccessToken() (string, bool) {
	tok := ts.token.Load().(string)
	return tok, tok != ""
}

type harness struct {
	t      *testing.T
	e      *Engine
	dialer *transporttest.Dialer
	clock  *clocktest.Clock
	creds  *tokenSource
	kv     *platform.MemoryKV
	events chan bus.Event
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = "ws://chat.test/ws"
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		t:      t,
		dialer: transporttest.NewDialer(),
		clock:  clocktest.New(time.Unix(1_700_000_000, 0)),
		creds:  newTokenSource("good-token"),
		kv:     platform.NewMemoryKV(),
		events: make(chan bus.Event, 256),
	}
	h.e = NewEngine(cfg, Deps{
		Dialer:      h.dialer,
		Credentials: h.creds,
		Clock:       h.clock,
		KV:          h.kv,
		Logger:      zap.NewNop(),
	})
	unsub := h.e.Subscribe("", func(evt bus.Event) {
		select {
		case h.events <- evt:
		default:
		}
	})
	h.e.Start(context.Background())
	t.Cleanup(func() {
		unsub()
		_ = h.e.Stop()
	})
	return h
}

// flush waits until everything already posted to the loop has run.
func (h *harness) flush() {
	h.t.Helper()
	if err := h.e.call(func() {}); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

// advance moves the fake clock and lets the loop run the fired timers.
// Timers armed by work already posted are registered first.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.flush()
	h.clock.Advance(d)
	h.flush()
}

func (h *harness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("timeout waiting for %s", what)
}

func (h *harness) connectAsync() <-chan error {
	done := make(chan error, 1)
	go func() { done <- h.e.Connect(context.Background()) }()
	return done
}

func (h *harness) wait(done <-chan error) error {
	h.t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitTimeout):
		h.t.Fatal("timeout waiting for result")
		return nil
	}
}

// connect runs one successful connect + auth cycle and returns the fake socket.
func (h *harness) connect() *transporttest.Conn {
	h.t.Helper()
	conn := transporttest.NewConn()
	h.dialer.Conns <- conn
	done := h.connectAsync()

	if _, ok := h.expectFrame(conn).(*protocol.Auth); !ok {
		h.t.Fatal("first frame is not auth")
	}
	h.push(conn, &protocol.AuthSuccess{UserID: "me"})
	if err := h.wait(done); err != nil {
		h.t.Fatalf("Connect() error = %v", err)
	}
	return conn
}

func (h *harness) push(conn *transporttest.Conn, evt protocol.Event) {
	h.t.Helper()
	frame, err := protocol.Encode(evt)
	if err != nil {
		h.t.Fatalf("Encode() error = %v", err)
	}
	conn.Push(frame)
}

func (h *harness) expectFrame(conn *transporttest.Conn) protocol.Event {
	h.t.Helper()
	select {
	case frame := <-conn.Outbound:
		evt, err := protocol.Decode(frame)
		if err != nil {
			h.t.Fatalf("client wrote invalid frame %q: %v", frame, err)
		}
		return evt
	case <-time.After(waitTimeout):
		h.t.Fatal("timeout waiting for outbound frame")
		return nil
	}
}

func (h *harness) expectNoFrame(conn *transporttest.Conn) {
	h.t.Helper()
	select {
	case frame := <-conn.Outbound:
		h.t.Fatalf("unexpected outbound frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) expectEvent(kind string) bus.Event {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case evt := <-h.events:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			h.t.Fatalf("timeout waiting for %s event", kind)
			return bus.Event{}
		}
	}
}

type sendResult struct {
	id  string
	err error
}

func (h *harness) sendAsync(conv, text string) <-chan sendResult {
	out := make(chan sendResult, 1)
	go func() {
		id, err := h.e.SendText(context.Background(), conv, text)
		out <- sendResult{id, err}
	}()
	return out
}

func (h *harness) sendResult(ch <-chan sendResult) sendResult {
	h.t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		h.t.Fatal("timeout waiting for SendText")
		return sendResult{}
	}
}

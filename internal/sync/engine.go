// Package sync is the client synchronization engine. One Engine owns a
// connection to the chat server, applies inbound events to the local cache,
// and exposes the send and read API that UI layers call.
//
// All engine state is confined to a single event loop goroutine. Public
// methods either post work into the loop or read the concurrency-safe cache.
package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/activity"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbound"
	"github.com/matheus3301/chatsync/internal/platform"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
)

const kvUserID = "user_id"

var (
	// ErrMaxReconnectAttempts is terminal for the current session.
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts exceeded")
	// ErrDisconnected is returned to Connect callers when the session was
	// closed on purpose while they waited.
	ErrDisconnected = errors.New("disconnected")
	// ErrStopped is returned by every operation after Stop.
	ErrStopped = errors.New("engine stopped")
	// ErrNoHistory means no history collaborator was configured.
	ErrNoHistory = errors.New("history client not configured")
)

// Credentials supplies the bearer token. ok is false when none is stored.
type Credentials interface {
	AccessToken() (token string, ok bool)
}

// HistoryPage is one page of older messages, oldest first.
type HistoryPage struct {
	Messages     []cache.Message
	HasMore      bool
	NextBeforeID string
}

// History is the HTTP collaborator for paginated history and account calls.
type History interface {
	FetchConversations(ctx context.Context) ([]cache.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string, limit int, beforeMessageID string) (HistoryPage, error)
	CreatePrivateConversation(ctx context.Context, targetUserID string) (cache.Conversation, error)
}

// Deps are the engine's collaborators. Only Dialer and Credentials are required.
type Deps struct {
	Dialer      transport.Dialer
	Credentials Credentials
	Clock       platform.Clock
	KV          platform.KeyValue
	History     History
	Bus         *bus.Bus
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
}

// Engine is the sync coordinator.
type Engine struct {
	cfg     Config
	logger  *zap.Logger
	bus     *bus.Bus
	metrics *metrics.Metrics
	tracer  trace.Tracer
	clock   platform.Clock
	timers  *loopClock
	kv      platform.KeyValue
	creds   Credentials
	history History

	cache   *cache.Store
	machine *status.Machine
	session *transport.Session
	auth    *auth.Authenticator
	outbox  *outbound.Pipeline
	monitor *activity.Monitor

	dispatchCh chan func()
	loopDone   chan struct{}
	cancel     context.CancelFunc
	ctx        context.Context
	started    atomic.Bool
	stopped    atomic.Bool
	userID     atomic.Value

	// Loop-confined state below.
	gen           uint64
	token         string
	handshake     *auth.Handshake
	handshakeSeq  uint64
	attempts      int
	retryTimer    platform.Timer
	wantConnected bool
	authBlocked   bool
	idleClosed    bool
	activeConv    string
	waiters       []chan error
	localTyping   map[string]platform.Timer
	remoteTyping  map[string]platform.Timer
	receipted     map[string]map[string]bool
	sentAt        map[string]time.Time
}

// NewEngine creates an engine. Call Start before using it.
func NewEngine(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = platform.SystemClock()
	}
	if deps.KV == nil {
		deps.KV = platform.NewMemoryKV()
	}
	if deps.Bus == nil {
		deps.Bus = bus.New()
	}
	if deps.Dialer == nil {
		deps.Dialer = transport.WebsocketDialer{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/matheus3301/chatsync/internal/sync")
	}

	e := &Engine{
		cfg:          cfg,
		logger:       deps.Logger,
		bus:          deps.Bus,
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		clock:        deps.Clock,
		kv:           deps.KV,
		creds:        deps.Credentials,
		history:      deps.History,
		cache:        cache.New(),
		machine:      status.NewMachine(deps.Bus),
		session:      transport.NewSession(deps.Dialer, deps.Logger.Named("transport")),
		dispatchCh:   make(chan func(), 256),
		loopDone:     make(chan struct{}),
		localTyping:  make(map[string]platform.Timer),
		remoteTyping: make(map[string]platform.Timer),
		receipted:    make(map[string]map[string]bool),
		sentAt:       make(map[string]time.Time),
	}
	e.userID.Store("")
	e.timers = &loopClock{clock: deps.Clock, post: e.post}
	e.auth = auth.New(cfg.Auth, e.timers, deps.Logger.Named("auth"))
	e.outbox = outbound.New(e.sendEvent, e.timers, cfg.DeliveryTimeout, deps.Logger.Named("outbound"))
	e.monitor = activity.New(cfg.Idle, e.timers, deps.Logger.Named("activity"), e.onIdle, e.onWake)
	return e
}

// Start launches the event loop. The engine stays disconnected until Connect.
func (e *Engine) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	go e.run(e.ctx)
	_ = e.post(func() {
		if id, ok, err := e.kv.Get(kvUserID); err != nil {
			e.logger.Warn("failed to read stored user id", zap.Error(err))
		} else if ok {
			e.userID.Store(id)
		}
	})
}

// Stop closes the connection, rejects pending sends and ends the loop.
func (e *Engine) Stop() error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if !e.started.Load() {
		return e.session.Shutdown()
	}

	var errs error
	done := make(chan struct{})
	if err := e.post(func() {
		e.teardown(ErrStopped)
		close(done)
	}); err == nil {
		select {
		case <-done:
		case <-e.loopDone:
		}
	}
	e.cancel()
	<-e.loopDone
	errs = multierr.Append(errs, e.session.Shutdown())
	e.logger.Info("engine stopped")
	return errs
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.loopDone)
	events := e.session.Events()
	for {
		select {
		case f := <-e.dispatchCh:
			f()
		case evt := <-events:
			e.handleTransport(evt)
		case <-ctx.Done():
			return
		}
	}
}

// post queues f for the event loop.
func (e *Engine) post(f func()) error {
	select {
	case <-e.loopDone:
		return ErrStopped
	default:
	}
	select {
	case e.dispatchCh <- f:
		return nil
	case <-e.loopDone:
		return ErrStopped
	}
}

// call runs f on the loop and waits for it. Before Start there is no loop
// and f runs on the caller's goroutine.
func (e *Engine) call(f func()) error {
	if !e.started.Load() {
		f()
		return nil
	}
	done := make(chan struct{})
	if err := e.post(func() {
		f()
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-e.loopDone:
		return ErrStopped
	}
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

// Subscribe runs handler for every event whose kind starts with namespace
// ("" for all). Events reach each handler in publish order.
func (e *Engine) Subscribe(namespace string, handler func(bus.Event)) (unsubscribe func()) {
	return e.bus.Handle(namespace, 256, handler)
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: e.clock.Now(), Payload: payload})
}

func (e *Engine) publishError(kind string, err error, frame string) {
	e.publish(kind, ErrorEvent{Err: err, Frame: frame})
}

// State returns the current connection state.
func (e *Engine) State() status.State {
	return e.machine.Current()
}

// LocalUserID returns the id of the authenticated user, or the last one
// seen when not connected.
func (e *Engine) LocalUserID() string {
	return e.userID.Load().(string)
}

// Activity returns the idle monitor's current inputs.
func (e *Engine) Activity() (activity.Session, error) {
	var s activity.Session
	err := e.call(func() { s = e.monitor.Snapshot() })
	return s, err
}

// PendingSends returns the number of sends awaiting acknowledgement.
func (e *Engine) PendingSends() (int, error) {
	n := 0
	err := e.call(func() { n = e.outbox.Pending() })
	return n, err
}

func (e *Engine) setState(to status.State) {
	from := e.machine.Current()
	if from == to {
		return
	}
	if err := e.machine.Transition(to); err != nil {
		e.logger.Error("invalid state transition", zap.Error(err))
		return
	}
	e.metrics.StateChanged(string(to), to == status.Connected)
	e.logger.Info("connection state changed", zap.String("from", string(from)), zap.String("to", string(to)))
}

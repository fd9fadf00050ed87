package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/outbound"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
)

// Connect opens and authenticates the session. Calls made while an attempt
// is in flight join it instead of starting another. Connect returns once the
// session is Connected or has come to rest in Disconnected; automatic
// retries after a transport failure happen before it returns.
func (e *Engine) Connect(ctx context.Context) (err error) {
	ctx, span := e.tracer.Start(ctx, "chatsync.Connect")
	defer func() { endSpan(span, err) }()

	wait := make(chan error, 1)
	if err := e.post(func() { e.connect(wait) }); err != nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.loopDone:
		return ErrStopped
	}
}

// Disconnect closes the session on behalf of the user. Pending sends are
// rejected with outbound.ErrConnectionClosed and no reconnect happens until
// the next Connect.
func (e *Engine) Disconnect() error {
	return e.post(func() {
		e.wantConnected = false
		e.idleClosed = false
		e.logger.Info("disconnect requested")
		e.teardown(ErrDisconnected)
	})
}

// CredentialsChanged tells the engine a new access token is available.
func (e *Engine) CredentialsChanged() error {
	return e.post(e.credentialsChanged)
}

func (e *Engine) credentialsChanged() {
	switch e.machine.Current() {
	case status.Disconnected:
		if !e.authBlocked {
			return
		}
		e.authBlocked = false
		if e.wantConnected {
			e.logger.Info("credentials changed, retrying once")
			e.attempts = 0
			e.open()
		}
	case status.Connected:
		token, ok := e.accessToken()
		if !ok || token == e.token {
			return
		}
		if e.auth.Mode() == auth.ModeFrame {
			e.logger.Info("re-authenticating live session")
			e.token = token
			e.beginHandshake(token)
			return
		}
		e.logger.Info("credentials changed, reopening session")
		e.closeSession()
		e.setState(status.Reconnecting)
		e.open()
	}
}

func (e *Engine) connect(wait chan error) {
	e.wantConnected = true
	e.idleClosed = false
	state := e.machine.Current()
	if wait != nil {
		if state == status.Connected {
			wait <- nil
			return
		}
		e.waiters = append(e.waiters, wait)
	}

	switch state {
	case status.Disconnected:
		e.attempts = 0
		e.open()
	case status.Reconnecting:
		e.stopRetry()
		e.open()
	default:
		e.logger.Debug("connect joined attempt in flight", zap.String("state", string(state)))
	}
}

func (e *Engine) accessToken() (string, bool) {
	if e.creds == nil {
		return "", false
	}
	token, ok := e.creds.AccessToken()
	return token, ok && token != ""
}

// open starts one connection attempt from Disconnected or Reconnecting.
func (e *Engine) open() {
	token, ok := e.accessToken()
	if !ok {
		e.logger.Warn("no access token available")
		e.failAuth(&auth.Error{Reason: "missing credential", Err: auth.ErrNoCredential})
		return
	}
	url, err := e.auth.DialURL(e.cfg.URL, token)
	if err != nil {
		e.logger.Error("invalid server url", zap.Error(err))
		e.setState(status.Disconnected)
		e.resolveWaiters(err)
		return
	}

	e.token = token
	e.setState(status.Connecting)
	attempt := e.session.Open(e.ctx, url, http.Header{})
	e.gen = attempt.Gen
}

func (e *Engine) handleTransport(evt transport.Event) {
	if evt.Gen == 0 || evt.Gen != e.gen {
		e.logger.Debug("ignoring stale transport event", zap.Stringer("kind", evt.Kind), zap.Uint64("gen", evt.Gen))
		return
	}
	switch evt.Kind {
	case transport.Opened:
		e.onOpened()
	case transport.FrameReceived:
		e.onFrame(evt.Frame)
	case transport.Closed:
		err := fmt.Errorf("connection closed with code %d", evt.Code)
		if evt.Err != nil {
			err = fmt.Errorf("connection closed with code %d: %w", evt.Code, evt.Err)
		}
		e.onDropped(err)
	case transport.TransportError:
		e.onDropped(evt.Err)
	}
}

func (e *Engine) onOpened() {
	if e.machine.Current() != status.Connecting {
		return
	}
	e.setState(status.Authenticating)
	e.beginHandshake(e.token)
}

func (e *Engine) beginHandshake(token string) {
	e.cancelHandshake()
	e.handshakeSeq++
	seq := e.handshakeSeq
	h := e.auth.Begin(token, e.sendEvent, func(r auth.Result) {
		if seq != e.handshakeSeq {
			return
		}
		e.handshakeSeq++
		e.handshake = nil
		e.onAuthResult(r)
	})
	if !h.Done() {
		e.handshake = h
	}
}

func (e *Engine) cancelHandshake() {
	if e.handshake == nil {
		return
	}
	h := e.handshake
	e.handshake = nil
	e.handshakeSeq++
	h.Cancel(ErrDisconnected)
}

func (e *Engine) onAuthResult(r auth.Result) {
	if r.Err == nil {
		if e.machine.Current() == status.Authenticating {
			e.onConnected(r.UserID)
			return
		}
		e.storeUserID(r.UserID)
		return
	}
	if errors.Is(r.Err, auth.ErrAuthenticationFailed) {
		e.failAuth(r.Err)
		return
	}
	e.onDropped(r.Err)
}

func (e *Engine) onConnected(userID string) {
	e.storeUserID(userID)
	e.attempts = 0
	e.authBlocked = false
	e.idleClosed = false
	e.setState(status.Connected)
	e.outbox.SetConnected(true)
	e.metrics.SetPending(e.outbox.Pending())
	e.monitor.Start()
	e.resolveWaiters(nil)
	if e.activeConv != "" {
		e.receiptNewest(e.activeConv)
	}
}

func (e *Engine) storeUserID(id string) {
	e.userID.Store(id)
	if err := e.kv.Set(kvUserID, id); err != nil {
		e.logger.Warn("failed to persist user id", zap.Error(err))
	}
}

// failAuth lands in Disconnected without scheduling a retry. Only Connect or
// CredentialsChanged start the next attempt.
func (e *Engine) failAuth(err error) {
	e.metrics.AuthFailure()
	e.authBlocked = true
	e.closeSession()
	e.setState(status.Disconnected)
	e.publishError(EventAuthError, err, "")
	e.resolveWaiters(err)
}

func (e *Engine) onDropped(err error) {
	var he *transport.HandshakeError
	if errors.As(err, &he) && (he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden) {
		e.failAuth(&auth.Error{Reason: fmt.Sprintf("handshake rejected with HTTP %d", he.StatusCode), Err: err})
		return
	}

	e.logger.Warn("connection lost", zap.Error(err), zap.String("state", string(e.machine.Current())))
	e.closeSession()
	e.publishError(EventTransportError, err, "")

	if !e.wantConnected {
		e.setState(status.Disconnected)
		e.resolveWaiters(ErrDisconnected)
		return
	}
	if e.attempts >= e.cfg.Reconnect.MaxAttempts {
		e.logger.Error("giving up reconnecting", zap.Int("attempts", e.attempts))
		e.setState(status.Disconnected)
		e.publishError(EventReconnectExhausted, ErrMaxReconnectAttempts, "")
		e.resolveWaiters(ErrMaxReconnectAttempts)
		return
	}

	e.attempts++
	delay := e.cfg.Reconnect.Backoff(e.attempts)
	e.setState(status.Reconnecting)
	e.metrics.ReconnectAttempt()
	e.logger.Info("reconnect scheduled", zap.Int("attempt", e.attempts), zap.Duration("delay", delay))
	e.retryTimer = e.timers.AfterFunc(delay, func() {
		e.retryTimer = nil
		if e.machine.Current() == status.Reconnecting {
			e.open()
		}
	})
}

func (e *Engine) stopRetry() {
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

// closeSession drops the socket and everything bound to it. Sends written
// to it are rejected; queued ones wait for the next connection.
func (e *Engine) closeSession() {
	e.cancelHandshake()
	e.stopRetry()
	if err := e.session.Close(); err != nil {
		e.logger.Debug("close session", zap.Error(err))
	}
	e.gen = 0
	e.outbox.SetConnected(false)
	e.outbox.FailInFlight(outbound.ErrConnectionClosed)
	e.stopLocalTyping()
	e.clearRemoteTyping()
	e.metrics.SetPending(e.outbox.Pending())
}

// teardown is an intentional close: nothing stays pending.
func (e *Engine) teardown(reason error) {
	e.closeSession()
	e.outbox.FailAll(outbound.ErrConnectionClosed)
	e.metrics.SetPending(0)
	e.monitor.Stop()
	e.setState(status.Disconnected)
	e.resolveWaiters(reason)
}

func (e *Engine) resolveWaiters(err error) {
	for _, w := range e.waiters {
		w <- err
	}
	e.waiters = nil
}

func (e *Engine) onIdle() {
	if e.machine.Current() == status.Disconnected {
		return
	}
	e.logger.Info("closing idle connection")
	e.closeSession()
	e.outbox.FailAll(outbound.ErrConnectionClosed)
	e.metrics.SetPending(0)
	e.setState(status.Disconnected)
	e.idleClosed = true
	e.resolveWaiters(ErrDisconnected)
}

func (e *Engine) onWake() {
	if e.machine.Current() != status.Disconnected {
		return
	}
	if e.idleClosed || (e.wantConnected && !e.authBlocked) {
		e.logger.Info("activity resumed, reconnecting")
		e.idleClosed = false
		e.wantConnected = true
		e.attempts = 0
		e.open()
	}
}

// sendEvent writes one frame. The transport refuses writes unless a socket is open.
func (e *Engine) sendEvent(evt protocol.Event) error {
	frame, err := protocol.Encode(evt)
	if err != nil {
		return err
	}
	if err := e.session.Send(frame); err != nil {
		return err
	}
	e.metrics.FrameSent(string(evt.Type()))
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

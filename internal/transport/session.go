package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventKind enumerates what the session reports on its event stream.
type EventKind int

const (
	Opened EventKind = iota + 1
	Closed
	FrameReceived
	TransportError
)

func (k EventKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	case FrameReceived:
		return "frame"
	case TransportError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item of the session's event stream. Gen identifies the
// connection attempt that produced it so callers can discard stale events.
type Event struct {
	Kind  EventKind
	Gen   uint64
	Code  int
	Frame []byte
	Err   error
}

type state int

const (
	stateIdle state = iota
	stateOpening
	stateOpen
)

// Attempt is one in-flight or completed open.
type Attempt struct {
	Gen  uint64
	done chan struct{}
	err  error
}

// Done is closed once the attempt has either opened or failed.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Err returns the attempt's outcome once Done is closed.
func (a *Attempt) Err() error {
	<-a.done
	return a.err
}

// Wait blocks until the attempt finishes or ctx is done.
func (a *Attempt) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Attempt) finish(err error) {
	a.err = err
	close(a.done)
}

// Session owns at most one live socket at a time.
type Session struct {
	dialer Dialer
	logger *zap.Logger

	mu      sync.Mutex
	state   state
	gen     uint64
	conn    Conn
	attempt *Attempt

	writeMu sync.Mutex

	events chan Event
	quit   chan struct{}
	once   sync.Once
}

// NewSession creates a session that dials through d.
func NewSession(d Dialer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		dialer: d,
		logger: logger,
		events: make(chan Event, 256),
		quit:   make(chan struct{}),
	}
}

// Events returns the session's event stream. Frames are delivered in arrival order.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Open starts connecting to url. While an attempt is in flight or the socket
// is open it returns that attempt instead of dialing again.
func (s *Session) Open(ctx context.Context, url string, header http.Header) *Attempt {
	s.mu.Lock()
	if s.state != stateIdle && s.attempt != nil {
		a := s.attempt
		s.mu.Unlock()
		return a
	}
	s.gen++
	a := &Attempt{Gen: s.gen, done: make(chan struct{})}
	s.attempt = a
	s.state = stateOpening
	s.mu.Unlock()

	go s.dial(ctx, url, header, a)
	return a
}

func (s *Session) dial(ctx context.Context, url string, header http.Header, a *Attempt) {
	conn, err := s.dialer.Dial(ctx, url, header)

	s.mu.Lock()
	if s.gen != a.Gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		a.finish(ErrClosed)
		return
	}
	if err != nil {
		s.state = stateIdle
		s.attempt = nil
		s.mu.Unlock()
		s.logger.Warn("dial failed", zap.Error(err), zap.Uint64("gen", a.Gen))
		s.emit(Event{Kind: TransportError, Gen: a.Gen, Err: err})
		a.finish(err)
		return
	}
	s.conn = conn
	s.state = stateOpen
	s.mu.Unlock()

	s.emit(Event{Kind: Opened, Gen: a.Gen})
	a.finish(nil)
	go s.readLoop(conn, a.Gen)
}

func (s *Session) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.gen == gen
			if current {
				s.state = stateIdle
				s.conn = nil
				s.attempt = nil
			}
			s.mu.Unlock()
			_ = conn.Close()
			if !current {
				return
			}

			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			s.logger.Warn("connection closed", zap.Int("code", code), zap.Error(err), zap.Uint64("gen", gen))
			s.emit(Event{Kind: Closed, Gen: gen, Code: code, Err: err})
			return
		}
		if !s.emit(Event{Kind: FrameReceived, Gen: gen, Frame: data}) {
			return
		}
	}
}

// emit blocks until the event is queued so no frame is ever dropped.
func (s *Session) emit(evt Event) bool {
	select {
	case s.events <- evt:
		return true
	case <-s.quit:
		return false
	}
}

// Send writes one text frame. It fails with ErrNotConnected unless the socket is open.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == stateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Close tears down the current socket or cancels the in-flight open.
// Events from the closed connection are not reported.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.gen++
	s.conn = nil
	s.attempt = nil
	s.state = stateIdle
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return conn.Close()
}

// IsOpen reports whether a socket is currently open.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateOpen
}

// Shutdown closes the socket and releases goroutines blocked on the event stream.
func (s *Session) Shutdown() error {
	err := s.Close()
	s.once.Do(func() { close(s.quit) })
	return err
}

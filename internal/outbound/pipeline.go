// Package outbound turns send intents into correlated wire requests and
// tracks each one until the server acknowledges it, it times out, or the
// connection that should deliver it goes away.
package outbound

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/platform"
	"github.com/matheus3301/chatsync/internal/protocol"
)

// DefaultTimeout is how long a send waits for MessageDelivered.
const DefaultTimeout = 10 * time.Second

var (
	ErrDeliveryTimeout  = errors.New("delivery timed out")
	ErrDeliveryFailed   = errors.New("delivery failed")
	ErrConnectionClosed = errors.New("connection closed before delivery")
)

// DeliveryError is an explicit failure status from the server.
type DeliveryError struct {
	CorrelationID string
	Reason        string
}

func (e *DeliveryError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("delivery of %s failed", e.CorrelationID)
	}
	return fmt.Sprintf("delivery of %s failed: %s", e.CorrelationID, e.Reason)
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}

// Result settles one PendingSend.
type Result struct {
	CorrelationID   string
	ConversationID  string
	ServerMessageID string
	Timestamp       time.Time
	Err             error
}

// PendingSend is a send awaiting acknowledgement.
type PendingSend struct {
	CorrelationID  string
	ConversationID string
	Content        string
	CreatedAt      time.Time

	seq         uint64
	transmitted bool
	timer       platform.Timer
	done        func(Result)
}

// Pipeline owns the PendingSend map. It is confined to the caller's event loop.
type Pipeline struct {
	send    func(protocol.Event) error
	clock   platform.Clock
	timeout time.Duration
	logger  *zap.Logger
	newID   func() string

	connected bool
	seq       uint64
	pending   map[string]*PendingSend
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithIDGenerator replaces the uuid correlation id source.
func WithIDGenerator(f func() string) Option {
	return func(p *Pipeline) { p.newID = f }
}

// New creates a pipeline that transmits through send.
func New(send func(protocol.Event) error, clock platform.Clock, timeout time.Duration, logger *zap.Logger, opts ...Option) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		send:    send,
		clock:   clock,
		timeout: timeout,
		logger:  logger,
		newID:   uuid.NewString,
		pending: make(map[string]*PendingSend),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SendText registers a pending send and returns its correlation id. The
// frame goes out immediately when connected, otherwise on the next
// SetConnected(true). done is called exactly once and never from within SendText.
func (p *Pipeline) SendText(conversationID, content string, done func(Result)) *PendingSend {
	id := p.newID()
	for p.pending[id] != nil {
		id = p.newID()
	}
	p.seq++
	ps := &PendingSend{
		CorrelationID:  id,
		ConversationID: conversationID,
		Content:        content,
		CreatedAt:      p.clock.Now(),
		seq:            p.seq,
		done:           done,
	}
	p.pending[id] = ps
	ps.timer = p.clock.AfterFunc(p.timeout, func() {
		p.settle(id, Result{Err: ErrDeliveryTimeout})
	})

	if p.connected {
		p.transmit(ps)
	}
	return ps
}

func (p *Pipeline) transmit(ps *PendingSend) {
	err := p.send(protocol.NewSendMessage(ps.CorrelationID, ps.ConversationID, ps.Content))
	if err != nil {
		// The connection is going away; its close will settle this send.
		p.logger.Warn("transmit failed", zap.String("correlation_id", ps.CorrelationID), zap.Error(err))
		return
	}
	ps.transmitted = true
}

// SetConnected toggles whether frames may be written. Becoming connected
// flushes untransmitted sends in creation order.
func (p *Pipeline) SetConnected(connected bool) {
	p.connected = connected
	if !connected {
		return
	}
	queued := make([]*PendingSend, 0, len(p.pending))
	for _, ps := range p.pending {
		if !ps.transmitted {
			queued = append(queued, ps)
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].seq < queued[j].seq })
	for _, ps := range queued {
		if !p.connected {
			return
		}
		p.transmit(ps)
	}
}

// HandleDelivered settles the send the acknowledgement refers to. Unknown
// or already settled correlation ids are ignored.
func (p *Pipeline) HandleDelivered(evt *protocol.MessageDelivered) bool {
	r := Result{ServerMessageID: evt.ServerMessageID}
	if evt.Timestamp > 0 {
		r.Timestamp = time.UnixMilli(evt.Timestamp)
	}
	if evt.Status != protocol.DeliverySuccess {
		r = Result{Err: &DeliveryError{CorrelationID: evt.CorrelationID, Reason: evt.Reason}}
	}
	return p.settle(evt.CorrelationID, r)
}

// Resolve settles a send as delivered without an acknowledgement, used when
// the server echoes the message before MessageDelivered arrives.
func (p *Pipeline) Resolve(correlationID, serverMessageID string, ts time.Time) bool {
	return p.settle(correlationID, Result{ServerMessageID: serverMessageID, Timestamp: ts})
}

// FailAll rejects every outstanding send with err.
func (p *Pipeline) FailAll(err error) {
	all := make([]*PendingSend, 0, len(p.pending))
	for _, ps := range p.pending {
		all = append(all, ps)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	for _, ps := range all {
		p.settle(ps.CorrelationID, Result{Err: err})
	}
}

func (p *Pipeline) settle(id string, r Result) bool {
	ps, ok := p.pending[id]
	if !ok {
		return false
	}
	delete(p.pending, id)
	ps.timer.Stop()

	r.CorrelationID = id
	r.ConversationID = ps.ConversationID
	if r.Err == nil && r.Timestamp.IsZero() {
		r.Timestamp = p.clock.Now()
	}
	if r.Err != nil {
		p.logger.Warn("send rejected", zap.String("correlation_id", id), zap.Error(r.Err))
	}
	ps.done(r)
	return true
}

// Lookup returns the pending send for id, if still outstanding.
func (p *Pipeline) Lookup(id string) (*PendingSend, bool) {
	ps, ok := p.pending[id]
	return ps, ok
}

// Pending reports how many sends are outstanding.
func (p *Pipeline) Pending() int {
	return len(p.pending)
}

// SendTyping is fire-and-forget and silently does nothing while disconnected.
func (p *Pipeline) SendTyping(conversationID string, isTyping bool) {
	p.fireAndForget(protocol.NewTyping(conversationID, isTyping))
}

// SendReadReceipt is fire-and-forget and silently does nothing while disconnected.
func (p *Pipeline) SendReadReceipt(conversationID, messageID string) {
	p.fireAndForget(protocol.NewReadReceipt(conversationID, messageID))
}

func (p *Pipeline) fireAndForget(evt protocol.Event) {
	if !p.connected {
		return
	}
	if err := p.send(evt); err != nil {
		p.logger.Debug("indicator dropped", zap.String("type", string(evt.Type())), zap.Error(err))
	}
}

// FailInFlight rejects every send that was written to the connection that
// just went away. Sends still queued stay pending for the next connection.
func (p *Pipeline) FailInFlight(err error) {
	inflight := make([]*PendingSend, 0, len(p.pending))
	for _, ps := range p.pending {
		if ps.transmitted {
			inflight = append(inflight, ps)
		}
	}
	sort.Slice(inflight, func(i, j int) bool { return inflight[i].seq < inflight[j].seq })
	for _, ps := range inflight {
		p.settle(ps.CorrelationID, Result{Err: err})
	}
}

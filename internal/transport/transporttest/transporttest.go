// Package transporttest provides in-memory transport fakes.
package transporttest

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/matheus3301/chatsync/internal/transport"
)

// Conn is an in-memory socket. Frames pushed with Push are returned by
// ReadMessage; frames written by the client appear on Outbound.
type Conn struct {
	inbound  chan []byte
	Outbound chan []byte

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	dropCode int
}

// NewConn creates an open fake socket.
func NewConn() *Conn {
	return &Conn{
		inbound:  make(chan []byte, 64),
		Outbound: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// Push queues a frame for the client to read.
func (c *Conn) Push(frame []byte) {
	c.inbound <- frame
}

// Drop simulates the server closing the socket with code.
func (c *Conn) Drop(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.dropCode = code
	close(c.done)
}

// Closed reports whether either side closed the socket.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	// Deliver buffered frames before reporting closure.
	select {
	case f := <-c.inbound:
		return websocket.TextMessage, f, nil
	default:
	}
	select {
	case f := <-c.inbound:
		return websocket.TextMessage, f, nil
	case <-c.done:
		c.mu.Lock()
		code := c.dropCode
		c.mu.Unlock()
		if code == 0 {
			code = websocket.CloseNormalClosure
		}
		return 0, nil, &websocket.CloseError{Code: code}
	}
}

func (c *Conn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	if c.Closed() {
		return errors.New("transporttest: write on closed conn")
	}
	cp := append([]byte(nil), data...)
	c.Outbound <- cp
	return nil
}

func (c *Conn) Close() error {
	c.Drop(websocket.CloseNormalClosure)
	return nil
}

// Dialer hands out connections from Conns. When Fail is set every dial
// returns it instead.
type Dialer struct {
	Conns chan *Conn

	mu    sync.Mutex
	fail  error
	dials int
	urls  []string
}

// NewDialer creates a dialer with a buffered connection queue.
func NewDialer() *Dialer {
	return &Dialer{Conns: make(chan *Conn, 16)}
}

// SetFail makes subsequent dials fail with err; nil restores normal dialing.
func (d *Dialer) SetFail(err error) {
	d.mu.Lock()
	d.fail = err
	d.mu.Unlock()
}

// Dials reports how many dial attempts were made.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// URLs returns every URL dialed so far.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *Dialer) Dial(ctx context.Context, url string, _ http.Header) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, url)
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	select {
	case c := <-d.Conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
)

// Server serves the control API on the profile's Unix domain socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
	// cancel ends the base context of every request, closing event streams.
	cancel context.CancelFunc
}

// listenUnix binds path with owner-only permissions, replacing a stale socket.
func listenUnix(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return listener, nil
}

// NewServer creates the control server bound to the profile's socket.
func NewServer(p Params, logger *zap.Logger, handler *api.Handler) (*Server, error) {
	socketPath := p.socketPath()
	listener, err := listenUnix(socketPath)
	if err != nil {
		return nil, err
	}

	base, cancel := context.WithCancel(context.Background())
	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ErrorLog:          zap.NewStdLog(logger.Named("http")),
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		cancel:     cancel,
	}, nil
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	if err := s.httpServer.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop ends open event streams, shuts down gracefully and removes the
// socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	s.cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
	_ = os.Remove(s.socketPath)
}

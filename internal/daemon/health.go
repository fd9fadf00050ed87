package daemon

import (
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// HealthServer exposes the standard gRPC health protocol on its own socket.
// The overall service ("") is SERVING while the daemon runs.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
	unwatch    func()
}

// NewHealthServer binds the health socket.
func NewHealthServer(p Params, logger *zap.Logger) (*HealthServer, error) {
	socketPath := p.healthSocketPath()
	listener, err := listenUnix(socketPath)
	if err != nil {
		return nil, err
	}

	hs := health.NewServer()
	hs.SetServingStatus(status.HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Watch mirrors the engine's connection state into status.HealthService.
func (s *HealthServer) Watch(engine *intsync.Engine) {
	s.setConnected(engine.State() == status.Connected)
	s.unwatch = engine.Subscribe(status.EventStateChanged, func(evt bus.Event) {
		change, ok := evt.Payload.(status.StateChange)
		if !ok {
			return
		}
		s.setConnected(change.To == status.Connected)
	})
}

func (s *HealthServer) setConnected(connected bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if connected {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(status.HealthService, st)
}

// Start begins serving health checks. Blocks until stopped.
func (s *HealthServer) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *HealthServer) Stop() {
	s.logger.Info("health server stopping")
	if s.unwatch != nil {
		s.unwatch()
	}
	s.health.Shutdown()
	s.grpcServer.Stop()
	_ = os.Remove(s.socketPath)
}

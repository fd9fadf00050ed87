package daemon

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/credentials"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// reloader re-reads the token source on SIGHUP and tells the engine when
// the credential changed.
type reloader struct {
	creds  *credentials.Holder
	engine *intsync.Engine
	logger *zap.Logger
	sig    chan os.Signal
	done   chan struct{}
}

func newReloader(creds *credentials.Holder, engine *intsync.Engine, logger *zap.Logger) *reloader {
	return &reloader{creds: creds, engine: engine, logger: logger}
}

func (r *reloader) Start() {
	r.sig = make(chan os.Signal, 1)
	r.done = make(chan struct{})
	signal.Notify(r.sig, syscall.SIGHUP)
	go func() {
		defer close(r.done)
		for range r.sig {
			r.reload()
		}
	}()
}

func (r *reloader) Stop() {
	if r.sig == nil {
		return
	}
	signal.Stop(r.sig)
	close(r.sig)
	<-r.done
}

func (r *reloader) reload() {
	changed, err := r.creds.Reload()
	if err != nil {
		r.logger.Error("credential reload failed", zap.Error(err))
		return
	}
	if !changed {
		r.logger.Info("credentials unchanged")
		return
	}
	r.logger.Info("credentials changed, re-authenticating")
	if err := r.engine.CredentialsChanged(); err != nil {
		r.logger.Warn("credentials change not applied", zap.Error(err))
	}
}

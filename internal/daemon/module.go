package daemon

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/credentials"
	"github.com/matheus3301/chatsync/internal/history"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
	// Overrides for testing; empty means the profile default.
	SocketPath       string
	HealthSocketPath string
	ConfigPath       string
	// Dialer replaces the websocket dialer when set.
	Dialer transport.Dialer
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return profile.SocketPath(p.ProfileName)
}

func (p Params) healthSocketPath() string {
	if p.HealthSocketPath != "" {
		return p.HealthSocketPath
	}
	return profile.HealthSocketPath(p.ProfileName)
}

func (p Params) configPath() string {
	if p.ConfigPath != "" {
		return p.ConfigPath
	}
	return profile.ConfigPath(p.ProfileName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideProfileConfig,
			provideLock,
			provideStore,
			provideCredentials,
			provideRegistry,
			provideMetrics,
			provideBus,
			provideEngine,
			provideHandler,
			NewServer,
			NewHealthServer,
			newPersister,
			newReloader,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideProfileConfig(p Params, logger *zap.Logger) (*config.Profile, error) {
	path := p.configPath()
	cfg, err := config.LoadProfile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("profile config loaded",
		zap.String("path", path),
		zap.String("server", cfg.Server.URL),
		zap.String("auth_mode", cfg.Auth.Mode),
	)
	return cfg, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the cache database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CachePath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(cfg *config.Profile, logger *zap.Logger) (*credentials.Holder, error) {
	h := credentials.NewHolder(credentials.Source{Env: cfg.Auth.TokenEnv, File: cfg.Auth.TokenFile})
	if _, err := h.Reload(); err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if _, ok := h.AccessToken(); !ok {
		logger.Warn("no access token available yet",
			zap.String("token_env", cfg.Auth.TokenEnv),
			zap.String("token_file", cfg.Auth.TokenFile),
		)
	}
	return h, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(p Params, reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg, "chatsync", prometheus.Labels{"profile": p.ProfileName})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideEngine(
	p Params,
	cfg *config.Profile,
	creds *credentials.Holder,
	db *store.DB,
	b *bus.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) *intsync.Engine {
	deps := intsync.Deps{
		Dialer:      p.Dialer,
		Credentials: creds,
		KV:          db,
		Bus:         b,
		Logger:      logger.Named("sync"),
		Metrics:     m,
	}
	if deps.Dialer == nil {
		deps.Dialer = transport.WebsocketDialer{}
	}
	if cfg.Server.HistoryURL != "" {
		deps.History = history.New(cfg.Server.HistoryURL, creds)
	}
	return intsync.NewEngine(cfg.Engine(), deps)
}

func provideHandler(
	p Params,
	engine *intsync.Engine,
	db *store.DB,
	creds *credentials.Holder,
	reg *prometheus.Registry,
	logger *zap.Logger,
) *api.Handler {
	return api.NewHandler(api.Deps{
		Profile:     p.ProfileName,
		Engine:      engine,
		DB:          db,
		Credentials: creds,
		Gatherer:    reg,
		Logger:      logger.Named("api"),
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Profile,
	srv *Server,
	health *HealthServer,
	lk *lock.Lock,
	db *store.DB,
	engine *intsync.Engine,
	creds *credentials.Holder,
	pers *persister,
	rel *reloader,
	logger *zap.Logger,
) {
	connectCtx, cancelConnect := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			snap, err := db.LoadSnapshot()
			if err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			if err := engine.Restore(snap); err != nil {
				return err
			}
			logger.Info("cache restored", zap.Int("conversations", len(snap.Conversations)))

			engine.Start(context.Background())
			pers.Start()
			health.Watch(engine)
			rel.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()
			go func() {
				if err := health.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()

			if _, ok := creds.AccessToken(); cfg.Server.AutoConnect && ok {
				go func() {
					if err := engine.Connect(connectCtx); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
					}
				}()
			} else if cfg.Server.AutoConnect {
				logger.Info("auto-connect skipped, no access token")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelConnect()
			srv.Stop(ctx)
			health.Stop()
			rel.Stop()

			var errs error
			if err := db.SaveSnapshot(engine.Snapshot()); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("save snapshot: %w", err))
			}
			errs = multierr.Append(errs, engine.Stop())
			pers.Stop()
			errs = multierr.Append(errs, db.Close())
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			if errs != nil {
				logger.Error("daemon stopped with errors", zap.Error(errs))
			} else {
				logger.Info("daemon stopped")
			}
			return errs
		},
	})
}

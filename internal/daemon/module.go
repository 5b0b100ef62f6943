package daemon

import (
	"context"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/blob"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/feed"
	"github.com/matheus3301/huddle/internal/identity"
	"github.com/matheus3301/huddle/internal/instance"
	"github.com/matheus3301/huddle/internal/lock"
	"github.com/matheus3301/huddle/internal/logging"
	"github.com/matheus3301/huddle/internal/messaging"
	"github.com/matheus3301/huddle/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance   string
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideFeed,
			provideLock,
			provideStore,
			provideMessaging,
			provideIdentity,
			provideBlobs,
			provideRegistry,
			provideService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Resolve(instance.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(instance.LogPath(p.Instance), p.Instance, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideFeed(b *bus.Bus) *feed.Feed {
	return feed.New(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.Instance))
	l, err := lock.Acquire(instance.Dir(p.Instance))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its holder.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := instance.DBPath(p.Instance)
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

func provideMessaging(db *store.DB, f *feed.Feed, cfg *config.Config, logger *zap.Logger) *messaging.Service {
	return messaging.NewService(db, f, logger, messaging.Options{UniqueConversations: cfg.UniqueConversations})
}

func provideIdentity(db *store.DB, f *feed.Feed, logger *zap.Logger) *identity.Registry {
	return identity.NewRegistry(db, f, logger)
}

func provideBlobs(p Params, cfg *config.Config, logger *zap.Logger) *blob.Local {
	return blob.NewLocal(instance.BlobDir(p.Instance), cfg.BlobBaseURL, cfg.BlobMaxBytes, logger)
}

func provideRegistry(svc *messaging.Service, ids *identity.Registry, blobs *blob.Local, f *feed.Feed, b *bus.Bus, logger *zap.Logger) *api.Registry {
	return api.NewRegistry(api.Deps{
		Backend:  svc,
		Identity: ids,
		Blobs:    blobs,
		Feed:     f,
		Bus:      b,
		Logger:   logger,
	})
}

func provideService(p Params, registry *api.Registry, db *store.DB, logger *zap.Logger) *api.Service {
	return api.NewService(p.Instance, registry, db, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, ms *MetricsServer, registry *api.Registry, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := ms.Start(); err != nil {
				return err
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Sessions first, so open watch streams end and the server can
			// drain.
			registry.CloseAll()
			srv.Stop(ctx)
			ms.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

package daemon

import (
	"context"
	"time"

	"github.com/metromessages/metromsg/internal/api"
	"github.com/metromessages/metromsg/internal/bus"
	"github.com/metromessages/metromsg/internal/config"
	"github.com/metromessages/metromsg/internal/ingest"
	"github.com/metromessages/metromsg/internal/lock"
	"github.com/metromessages/metromsg/internal/logging"
	"github.com/metromessages/metromsg/internal/outbox"
	"github.com/metromessages/metromsg/internal/session"
	"github.com/metromessages/metromsg/internal/sms"
	"github.com/metromessages/metromsg/internal/status"
	"github.com/metromessages/metromsg/internal/store"
	"github.com/metromessages/metromsg/internal/unified"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ListenAddr  string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideResolver,
			provideClassifier,
			provideReconciler,
			provideIngestEngine,
			provideCache,
			provideTransmitter,
			provideSender,
			provideAPIServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// First run: no config file yet.
		return config.Default()
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

func provideResolver(db *store.DB, logger *zap.Logger) *sms.Resolver {
	return sms.NewResolver(db, logger)
}

func provideClassifier(machine *status.Machine, resolver *sms.Resolver, b *bus.Bus, logger *zap.Logger) *sms.Classifier {
	return sms.NewClassifier(machine, sms.PayloadExtractor{}, resolver, b, logger)
}

func provideReconciler(db *store.DB, logger *zap.Logger) *ingest.Reconciler {
	return ingest.NewReconciler(db, logger)
}

func provideIngestEngine(db *store.DB, b *bus.Bus, r *ingest.Reconciler, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, r, logger)
}

func provideCache(db *store.DB, b *bus.Bus, logger *zap.Logger) *unified.Cache {
	return unified.NewCache(db, db, b, logger)
}

func provideTransmitter(logger *zap.Logger) outbox.Transmitter {
	return outbox.NewLogTransmitter(logger)
}

func provideSender(db *store.DB, tx outbox.Transmitter, resolver *sms.Resolver, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	interval := time.Duration(cfg.Daemon.OutboxIntervalMs) * time.Millisecond
	return outbox.NewSender(db, tx, resolver, b, interval, logger)
}

func provideAPIServer(db *store.DB, cache *unified.Cache, classifier *sms.Classifier, machine *status.Machine, reconciler *ingest.Reconciler, b *bus.Bus, logger *zap.Logger) *api.Server {
	return api.NewServer(db, cache, classifier, machine, reconciler, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, engine *ingest.Engine, cache *unified.Cache, sender *outbox.Sender, machine *status.Machine, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Ingest engine first: it must be draining the bus before the
			// API starts accepting broadcasts.
			engine.Start(context.Background())
			cache.Start(context.Background())
			sender.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			// Take the role the config grants. The platform would normally
			// drive this through role-change notifications.
			if cfg.Daemon.DefaultHandler {
				_ = machine.Transition(status.Default)
				logger.Info("running as default messaging handler")
			} else {
				_ = machine.Transition(status.Observer)
				logger.Info("running as observer, broadcasts will not be suppressed")
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			cache.Stop()
			engine.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

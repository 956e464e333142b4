package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/api"
	"github.com/chatarchive/mamsync/internal/archive"
	"github.com/chatarchive/mamsync/internal/bus"
	"github.com/chatarchive/mamsync/internal/chain"
	"github.com/chatarchive/mamsync/internal/chat"
	"github.com/chatarchive/mamsync/internal/config"
	"github.com/chatarchive/mamsync/internal/ingest"
	"github.com/chatarchive/mamsync/internal/loader"
	"github.com/chatarchive/mamsync/internal/lock"
	"github.com/chatarchive/mamsync/internal/logging"
	"github.com/chatarchive/mamsync/internal/orchestrator"
	"github.com/chatarchive/mamsync/internal/roster"
	"github.com/chatarchive/mamsync/internal/session"
	"github.com/chatarchive/mamsync/internal/status"
	"github.com/chatarchive/mamsync/internal/store"
	"github.com/chatarchive/mamsync/internal/worker"
	"github.com/chatarchive/mamsync/internal/xmpp"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default

	// Transport is the connection adapter archive queries go through.
	// Nil leaves the daemon serving stored data only.
	Transport xmpp.Transport
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideTracker,
			provideLock,
			provideStore,
			provideRegistry,
			provideTransport,
			provideArchiveClient,
			provideParser,
			provideSaver,
			provideHealer,
			provideLoader,
			provideRoster,
			provideOrchestrator,
			providePool,
			provideAccountService,
			provideHistoryService,
			provideMessageService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Warn("config load failed, using defaults", zap.Error(err))
		return config.Default()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideTracker(b *bus.Bus) *status.Tracker {
	return status.NewTracker(b)
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

func provideRegistry(db *store.DB) *chat.Registry {
	return chat.NewRegistry(db)
}

func provideTransport(p Params) xmpp.Transport {
	if p.Transport != nil {
		return p.Transport
	}
	return xmpp.Disconnected{}
}

func provideArchiveClient(t xmpp.Transport, cfg *config.Config, logger *zap.Logger) *archive.Client {
	client := archive.NewClient(t, cfg.QueryTimeout(), logger)
	if r, ok := t.(xmpp.SinkRegistrar); ok {
		r.RegisterSink(client)
	}
	return client
}

func provideParser(logger *zap.Logger) *ingest.Parser {
	return ingest.NewParser(nil, nil, logger)
}

func provideSaver(db *store.DB, b *bus.Bus, registry *chat.Registry, logger *zap.Logger) *ingest.Saver {
	return ingest.NewSaver(db, b, registry, logger)
}

func provideHealer(db *store.DB, client *archive.Client, parser *ingest.Parser, saver *ingest.Saver, cfg *config.Config, logger *zap.Logger) *chain.Healer {
	return chain.NewHealer(db, client, parser, saver, cfg.Archive.PageSize, cfg.Archive.GapPageCap, logger)
}

func provideLoader(db *store.DB, client *archive.Client, parser *ingest.Parser, saver *ingest.Saver, healer *chain.Healer, registry *chat.Registry, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *loader.Loader {
	return loader.New(db, client, parser, saver, healer, registry, b, cfg.Archive.PageSize, cfg.Archive.ChatPageMin, logger)
}

func provideRoster() *roster.Static {
	return roster.NewStatic()
}

func provideOrchestrator(db *store.DB, client *archive.Client, parser *ingest.Parser, saver *ingest.Saver, registry *chat.Registry, contacts *roster.Static, tracker *status.Tracker, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *orchestrator.Orchestrator {
	return orchestrator.New(db, client, parser, saver, registry, contacts, tracker, b, cfg.Archive.PageSize, cfg.Archive.ResumePageCap, logger)
}

func providePool(cfg *config.Config) *worker.Pool {
	return worker.NewPool(cfg.Workers.Count, cfg.Workers.Queue)
}

func provideAccountService(db *store.DB, orch *orchestrator.Orchestrator, tracker *status.Tracker, contacts *roster.Static, pool *worker.Pool, logger *zap.Logger) *api.AccountService {
	return api.NewAccountService(db, orch, tracker, contacts, pool, logger)
}

func provideHistoryService(l *loader.Loader, registry *chat.Registry, pool *worker.Pool) *api.HistoryService {
	return api.NewHistoryService(l, registry, pool)
}

func provideMessageService(db *store.DB, saver *ingest.Saver, registry *chat.Registry) *api.MessageService {
	return api.NewMessageService(db, saver, registry)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, client *archive.Client, pool *worker.Pool, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			client.StartSweeper()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			pool.Stop()
			client.StopSweeper()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

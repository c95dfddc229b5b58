// Package app assembles the service from its configuration: persistence,
// traversal cache, rule catalogue, event bus and use case handlers. Both
// processes under cmd/ start from New.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/config"
	"github.com/osis-hub/program-hub/internal/application/command"
	"github.com/osis-hub/program-hub/internal/application/eventhandler"
	"github.com/osis-hub/program-hub/internal/application/query"
	"github.com/osis-hub/program-hub/internal/domain/prerequisite"
	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/infrastructure/messaging"
	"github.com/osis-hub/program-hub/internal/infrastructure/persistence/memory"
	"github.com/osis-hub/program-hub/internal/infrastructure/persistence/postgres"
	"github.com/osis-hub/program-hub/internal/infrastructure/persistence/redis"
	"github.com/osis-hub/program-hub/internal/infrastructure/rules"
	"github.com/osis-hub/program-hub/pkg/logger"
	"github.com/osis-hub/program-hub/pkg/timeutil"
)

// Commands groups the write use cases.
type Commands struct {
	AttachNode            *command.AttachNodeHandler
	DetachNode            *command.DetachNodeHandler
	MoveNode              *command.MoveNodeHandler
	UpdateLink            *command.UpdateLinkHandler
	SetPrerequisite       *command.SetPrerequisiteHandler
	CreateStandardVersion *command.CreateStandardVersionHandler
	CreateSpecificVersion *command.CreateSpecificVersionHandler
	UpdateVersion         *command.UpdateVersionHandler
	ExtendEndYear         *command.ExtendEndYearHandler
	DeleteVersion         *command.DeleteVersionHandler
	PostponeVersion       *command.PostponeVersionHandler
}

// Queries groups the read use cases.
type Queries struct {
	GetTree         *query.GetTreeHandler
	GetPrerequisite *query.GetPrerequisiteHandler
	Adjacency       *query.AdjacencyHandler
	SearchTrees     *query.SearchTreesFromChildrenHandler
	Versions        *query.VersionHandler
}

// App is the assembled service.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Store         command.VersionStore
	Prerequisites prerequisite.Repository
	Links         programtree.LinkStore
	Rules         *rules.Loader
	Bus           *messaging.InMemoryEventBus

	// Database and Cache are nil when not configured.
	Database *postgres.Connection
	Cache    *redis.Cache

	Commands Commands
	Queries  Queries

	closers []func()
}

// Options overrides parts of the assembly, mostly for tests.
type Options struct {
	// Clock drives the postponement horizon. Nil uses the wall clock.
	Clock timeutil.Clock
}

// New connects the configured backends and wires every handler. Close
// releases what New acquired.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (a *App, err error) {
	if log == nil {
		log = logger.Default()
	}
	a = &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.openCache(); err != nil {
		return nil, err
	}
	if err := a.loadRules(); err != nil {
		return nil, err
	}

	sl := log.Slog()
	a.Bus = messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: sl.With("component", "event_bus")})
	a.closers = append(a.closers, func() { _ = a.Bus.Close() })

	if invalidator, ok := a.Links.(eventhandler.TraversalInvalidator); ok {
		if err := eventhandler.NewOnTreeChangedHandler(invalidator, 5*time.Second, sl).Register(a.Bus); err != nil {
			return nil, fmt.Errorf("register cache invalidation: %w", err)
		}
	}
	if err := eventhandler.NewAuditLogger(sl).Register(a.Bus); err != nil {
		return nil, fmt.Errorf("register audit logger: %w", err)
	}

	a.wire(opts)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.Config.StorageDriver {
	case config.StorageMemory:
		st := memory.NewStore()
		a.Store = command.VersionStore{
			TreeStore: command.TreeStore{
				Tx:    st,
				Trees: memory.NewProgramTreeRepository(st),
				Nodes: memory.NewNodeRepository(st),
			},
			Versions: memory.NewTreeVersionRepository(st),
		}
		a.Prerequisites = memory.NewPrerequisiteRepository(st)
		a.Links = memory.NewLinkStore(st)
		a.Log.Warn("using in-memory storage, data is lost on exit")
		return nil

	case config.StoragePostgres:
		pc := a.Config.Postgres
		conn, err := postgres.NewConnection(ctx, postgres.Config{
			URL:             pc.URL,
			Host:            pc.Host,
			Port:            pc.Port,
			Database:        pc.Database,
			User:            pc.User,
			Password:        pc.Password,
			SSLMode:         pc.SSLMode,
			MaxConns:        int32(pc.MaxConns),
			MinConns:        int32(pc.MinConns),
			MaxConnLifetime: pc.ConnMaxLifetime,
			MaxConnIdleTime: pc.ConnMaxIdleTime,
			ConnectTimeout:  10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		a.Database = conn
		a.closers = append(a.closers, conn.Close)

		if pc.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
		}

		a.Store = command.VersionStore{
			TreeStore: command.TreeStore{
				Tx:    conn,
				Trees: postgres.NewProgramTreeRepository(conn),
				Nodes: postgres.NewNodeRepository(conn),
			},
			Versions: postgres.NewTreeVersionRepository(conn),
		}
		a.Prerequisites = postgres.NewPrerequisiteRepository(conn)
		a.Links = postgres.NewLinkStore(conn)
		a.Log.Info("database connection established")
		return nil
	}
	return fmt.Errorf("unknown storage driver %q", a.Config.StorageDriver)
}

// openCache decorates the link store with the Redis traversal cache. An
// unreachable Redis disables caching instead of failing startup.
func (a *App) openCache() error {
	rc := a.Config.Redis
	if !rc.Enabled {
		return nil
	}
	cfg := redis.DefaultConfig()
	cfg.Host = rc.Host
	cfg.Port = rc.Port
	cfg.Password = rc.Password
	cfg.DB = rc.DB
	if rc.PoolSize > 0 {
		cfg.PoolSize = rc.PoolSize
	}

	cache, err := redis.NewCache(cfg)
	if err != nil {
		a.Log.Warn("redis unavailable, traversal caching disabled", logger.Err(err))
		return nil
	}
	a.Cache = cache
	a.closers = append(a.closers, func() { _ = cache.Close() })
	a.Links = redis.NewCachedLinkStore(a.Links, cache, rc.AdjacencyTTL, a.Log).
		WithBreaker(redis.NewCacheBreaker(a.Log))
	a.Log.Info("redis traversal cache enabled", logger.String("addr", cfg.Addr()))
	return nil
}

func (a *App) loadRules() error {
	loader, err := rules.NewLoader(a.Config.Rules.Path, a.Log)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	a.Rules = loader
	if !a.Config.Rules.Watch {
		return nil
	}
	stop, err := loader.Watch()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, stop)
	return nil
}

func (a *App) wire(opts Options) {
	log := a.Log
	postpone := command.NewPostponeVersionHandler(a.Store, a.Config.Postponement.MaxYears, opts.Clock, a.Bus, log)

	a.Commands = Commands{
		AttachNode:            command.NewAttachNodeHandler(a.Store.TreeStore, a.Rules, a.Bus, log),
		DetachNode:            command.NewDetachNodeHandler(a.Store.TreeStore, a.Rules, a.Bus, log),
		MoveNode:              command.NewMoveNodeHandler(a.Store.TreeStore, a.Rules, a.Bus, log),
		UpdateLink:            command.NewUpdateLinkHandler(a.Store.TreeStore, a.Bus, log),
		SetPrerequisite:       command.NewSetPrerequisiteHandler(a.Store.TreeStore, a.Bus, log),
		CreateStandardVersion: command.NewCreateStandardVersionHandler(a.Store, a.Rules, a.Rules, a.Bus, log),
		CreateSpecificVersion: command.NewCreateSpecificVersionHandler(a.Store, a.Bus, log),
		UpdateVersion:         command.NewUpdateVersionHandler(a.Store, log),
		ExtendEndYear:         command.NewExtendEndYearHandler(a.Store, postpone, log),
		DeleteVersion:         command.NewDeleteVersionHandler(a.Store, a.Bus, log),
		PostponeVersion:       postpone,
	}

	a.Queries = Queries{
		GetTree:         query.NewGetTreeHandler(a.Store.Trees, log),
		GetPrerequisite: query.NewGetPrerequisiteHandler(a.Store.Trees, a.Prerequisites, log),
		Adjacency:       query.NewAdjacencyHandler(a.Links, log),
		SearchTrees:     query.NewSearchTreesFromChildrenHandler(a.Store.Trees, log),
		Versions:        query.NewVersionHandler(a.Store.Versions, log),
	}
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

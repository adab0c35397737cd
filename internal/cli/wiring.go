package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ecolearn-gamification/internal/app"
	"ecolearn-gamification/internal/badge"
	"ecolearn-gamification/internal/config"
	"ecolearn-gamification/internal/infra/memory"
	pgstore "ecolearn-gamification/internal/infra/postgres"
	redisstore "ecolearn-gamification/internal/infra/redis"
	"ecolearn-gamification/internal/leaderboard"
	"ecolearn-gamification/internal/ledger"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"
)

// stack holds every long-lived component of a running engine.
type stack struct {
	service    *app.SubmissionService
	index      *leaderboard.Index
	reconciler *leaderboard.Reconciler
	ledger     *ledger.Ledger

	closers []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openBun(url string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func buildStack(ctx context.Context, cfg config.Config, log *zap.Logger) (*stack, error) {
	s := &stack{}
	fail := func(err error) (*stack, error) {
		s.Close()
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, func() { _ = redisClient.Close() })
	}

	var pool *pgxpool.Pool
	var db *bun.DB
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		s.closers = append(s.closers, pool.Close)
		db = openBun(cfg.Postgres.URL)
		s.closers = append(s.closers, func() { _ = db.Close() })
	}

	var store ledger.DocumentStore
	var counter app.Counter
	switch cfg.Ledger.Store {
	case "", "memory":
		store, counter = memory.NewDocumentStore(), memory.NewCounter()
	case "redis":
		if redisClient == nil {
			return fail(fmt.Errorf("ledger store redis requires redis.addr"))
		}
		store, counter = redisstore.NewDocumentStore(redisClient), redisstore.NewCounter(redisClient)
	case "postgres":
		if db == nil {
			return fail(fmt.Errorf("ledger store postgres requires postgres.url"))
		}
		store, counter = pgstore.NewDocumentStore(db), pgstore.NewCounter(db)
	default:
		return fail(fmt.Errorf("unknown ledger store %q", cfg.Ledger.Store))
	}

	var loader memory.CatalogLoader = memory.NewStaticCatalogLoader(memory.SampleQuizzes(), memory.SampleChallenges())
	if pool != nil {
		loader = pgstore.NewCatalogLoader(pool)
	}
	catalogTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var catalog app.Catalog
	if redisClient != nil {
		catalog = redisstore.NewCatalogRepository(redisClient, loader, catalogTTL)
	} else {
		catalog = memory.NewCatalogRepository(loader, catalogTTL)
	}

	ledgerCfg := ledger.DefaultConfig()
	if cfg.Ledger.MaxAttempts > 0 {
		ledgerCfg.MaxAttempts = cfg.Ledger.MaxAttempts
	}
	ledgerCfg.InitialBackoff = config.TTLDuration(cfg.Ledger.InitialBackoff, ledgerCfg.InitialBackoff)
	ledgerCfg.MaxBackoff = config.TTLDuration(cfg.Ledger.MaxBackoff, ledgerCfg.MaxBackoff)
	s.ledger = ledger.New(store, ledgerCfg, log.Named("ledger"))

	rules, err := badge.Load(cfg.Badges.RulesPath)
	if err != nil {
		return fail(err)
	}

	s.index = leaderboard.NewIndex()
	interval := config.TTLDuration(cfg.Leaderboard.ReconcileInterval, time.Minute)
	s.reconciler = leaderboard.NewReconciler(s.index, s.ledger, interval, cfg.Leaderboard.QueueSize, log.Named("reconciler"))

	s.service = app.NewSubmissionService(app.Dependencies{
		Catalog:    catalog,
		Ledger:     s.ledger,
		Badges:     badge.NewEngine(rules),
		Ranking:    s.index,
		Reconciler: s.reconciler,
		Counter:    counter,
		Logger:     log.Named("submissions"),
	})
	s.reconciler.OnUser(func(ctx context.Context, userID string) error {
		_, err := s.service.ReevaluateBadges(ctx, userID)
		return err
	})

	log.Info("engine wired",
		zap.String("ledger_store", cfg.Ledger.Store),
		zap.Bool("redis", redisClient != nil),
		zap.Bool("postgres", pool != nil),
		zap.Int("badge_rules", len(rules)))
	return s, nil
}

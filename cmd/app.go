package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablebook/config"
	"tablebook/database"
	bookingRepo "tablebook/database/repository/booking"
	tenantRepo "tablebook/database/repository/tenant"
	"tablebook/services/availability"
	"tablebook/services/booking"
	"tablebook/services/conversation"
	"tablebook/services/events"
	"tablebook/services/locks"
	"tablebook/utils"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// app holds every wired dependency of a running process.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	mongoDB  *mongo.Database
	pgPool   *pgxpool.Pool
	bookings bookingRepo.BookingRepository
	tenants  tenantRepo.TenantRepository

	manager      *booking.BookingManager
	conversation *conversation.Service
	sweeper      *conversation.Sweeper
	health       map[string]utils.Pinger

	closers []func(context.Context) error
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	utils.InitializeLogger(cfg.Env, cfg.LogLevel)
	logger := utils.GetLogger()
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// newStorage connects the booking and tenant stores only. migrate needs nothing more.
func newStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, health: map[string]utils.Pinger{}}

	needMongo := cfg.BookingStore == "mongo" || (cfg.BookingStore != "memory" && cfg.TenantsFile == "")
	if needMongo {
		client, err := database.ConnectMongo(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Disconnect)
		a.mongoDB = client.Database(cfg.MongoDatabase)
		a.health["mongo"] = utils.PingFunc(func(ctx context.Context) error { return client.Ping(ctx, nil) })
	}

	switch cfg.BookingStore {
	case "mongo":
		a.bookings = bookingRepo.NewMongoBookingRepo(a.mongoDB)
	case "postgres":
		pool, err := database.ConnectPostgres(ctx, cfg.PostgresURL, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.pgPool = pool
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		a.health["postgres"] = utils.PingFunc(pool.Ping)
		a.bookings = bookingRepo.NewPostgresBookingRepo(pool)
	default:
		a.bookings = bookingRepo.NewMemoryBookingRepo()
	}

	if cfg.TenantsFile != "" {
		tenants, err := tenantRepo.LoadTenantsFile(cfg.TenantsFile, cfg.DefaultTimezone)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.tenants = tenantRepo.NewMemoryTenantRepo(cfg.DefaultTimezone, tenants...)
	} else if a.mongoDB != nil {
		a.tenants = tenantRepo.NewMongoTenantRepo(a.mongoDB, cfg.DefaultTimezone)
	} else {
		a.Close(ctx)
		return nil, errors.New("no tenant source: set TENANTS_FILE or use a MongoDB-backed store")
	}
	return a, nil
}

// newApp wires the booking core and the conversation layer on top of storage.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a, err := newStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) redis(ctx context.Context, name string, db int) (*redis.Client, error) {
	client, err := utils.NewRedisClient(ctx, utils.RedisOptions{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword, DB: db})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	a.health["redis:"+name] = utils.RedisPinger(client)
	return client, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	single := cfg.BookingStore == "memory"

	var (
		cache      availability.GridCache = availability.NewMemoryGridCache(cfg.AvailabilityCacheTTL)
		states     conversation.StateStore
		thresholds conversation.ThresholdProvider = conversation.StaticThreshold(cfg.MinConfidence)
	)
	if single {
		states = conversation.NewMemoryStateStore(cfg.ConversationTTL(), nil)
	} else {
		cacheClient, err := a.redis(ctx, "cache", cfg.RedisCacheDB)
		if err != nil {
			return err
		}
		cache = availability.NewRedisGridCache(cacheClient, cfg.AvailabilityCacheTTL, logger)

		convClient, err := a.redis(ctx, "conversation", cfg.RedisConversationDB)
		if err != nil {
			return err
		}
		store := conversation.NewRedisStateStore(convClient, cfg.ConversationTTL(), logger)
		store.Strict = !config.IsProduction()
		states = store
		if cfg.AdaptiveThreshold {
			thresholds = conversation.NewAdaptiveThreshold(convClient, logger, nil)
		}
	}

	var locker locks.Locker
	switch cfg.LockBackend {
	case "redis":
		lockClient, err := a.redis(ctx, "lock", cfg.RedisLockDB)
		if err != nil {
			return err
		}
		locker = locks.NewRedisLocker(lockClient, cfg.LockTTL, logger)
	case "postgres":
		locker = locks.NewPostgresLocker(a.pgPool, logger)
	default:
		locker = locks.NewKeyedMutex()
	}

	publisher, err := a.publisher(ctx)
	if err != nil {
		return err
	}

	engine := availability.NewEngine(a.bookings, cache, logger, nil)
	a.manager = booking.NewBookingManager(a.tenants, a.bookings, engine, locker, publisher, logger, nil)
	machine := conversation.NewMachine(cfg.ConfirmTimeout(), cfg.MinConfidence)
	a.conversation = conversation.NewService(states, machine, a.manager, thresholds, logger, nil)
	a.sweeper = conversation.NewSweeper(states, machine, nil, cfg.ConfirmTimeout(), cfg.SweepRatePerSec, logger, nil)
	return nil
}

func (a *app) publisher(ctx context.Context) (events.Publisher, error) {
	if a.cfg.AMQPURL == "" {
		return events.NewLogPublisher(a.logger), nil
	}
	conn, err := events.DialWithRetry(ctx, a.cfg.AMQPURL, 5, time.Second, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect event broker: %w", err)
	}
	publisher, err := events.NewAMQPPublisher(conn, a.cfg.AMQPExchange, a.logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return publisher.Close() })
	return publisher, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown: close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

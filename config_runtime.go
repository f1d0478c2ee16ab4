package portalauth

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	memorycache "github.com/criticalmanufacturing/portalauth/pkg/cache/memory"
	rediscache "github.com/criticalmanufacturing/portalauth/pkg/cache/redis"
	"github.com/criticalmanufacturing/portalauth/pkg/storage/postgres"
)

type CacheBackend string

const (
	CacheBackendNone   CacheBackend = "none"
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

type AuditBackend string

const (
	AuditBackendNone     AuditBackend = "none"
	AuditBackendPostgres AuditBackend = "postgres"
)

type RuntimeConfig struct {
	Cache CacheConfig
	Audit AuditConfig
}

type CacheConfig struct {
	Backend CacheBackend
	Memory  MemoryCacheConfig
	Redis   RedisCacheConfig
}

type MemoryCacheConfig struct{}

type RedisCacheConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

type AuditConfig struct {
	Backend  AuditBackend
	Postgres PostgresConfig
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c.withDefaults()
	config.Logger = resolveLogger(config.Logger)

	closeCache, config, err := initializeCache(config)
	if err != nil {
		return nil, Config{}, err
	}

	closeAudit, config, err := initializeAudit(ctx, config)
	if err != nil {
		_ = closeCache()
		return nil, Config{}, err
	}

	return joinClosers(closeCache, closeAudit), config, nil
}

func initializeCache(config Config) (func() error, Config, error) {
	backend := config.Runtime.Cache.Backend
	if backend == "" {
		// Caching is the point of this client; opting out takes an explicit
		// "none".
		backend = CacheBackendMemory
	}

	switch backend {
	case CacheBackendNone:
		return noopCloser, config, nil
	case CacheBackendMemory:
		return initializeMemoryCache(config)
	case CacheBackendRedis:
		return initializeRedisCache(config)
	default:
		return nil, Config{}, fmt.Errorf("portalauth config: unsupported runtime.cache.backend %q", backend)
	}
}

func initializeMemoryCache(config Config) (func() error, Config, error) {
	adapter := memorycache.NewAdapter()

	if config.CacheStore.Principal == nil {
		config.CacheStore.Principal = adapter
	}
	if config.CacheStore.Failure == nil {
		config.CacheStore.Failure = adapter
	}

	config.Logger.V(1).Info("initialized memory cache backend")
	return noopCloser, config, nil
}

func initializeRedisCache(config Config) (func() error, Config, error) {
	redisConfig := config.Runtime.Cache.Redis
	if redisConfig.Address == "" {
		return nil, Config{}, fmt.Errorf("portalauth config: runtime.cache.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}

	adapter := rediscache.NewAdapter(rediscache.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
	})

	if config.CacheStore.Principal == nil {
		config.CacheStore.Principal = adapter
	}
	if config.CacheStore.Failure == nil {
		config.CacheStore.Failure = adapter
	}

	config.Runtime.Cache.Redis = redisConfig
	config.Logger.V(1).Info("initialized redis cache backend",
		"address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter.Close, config, nil
}

func initializeAudit(ctx context.Context, config Config) (func() error, Config, error) {
	backend := config.Runtime.Audit.Backend
	if backend == "" {
		backend = AuditBackendNone
	}

	switch backend {
	case AuditBackendNone:
		return noopCloser, config, nil
	case AuditBackendPostgres:
		return initializePostgresAudit(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("portalauth config: unsupported runtime.audit.backend %q", backend)
	}
}

func initializePostgresAudit(ctx context.Context, config Config) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pgConfig := config.Runtime.Audit.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, fmt.Errorf("portalauth config: runtime.audit.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, fmt.Errorf("portalauth config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("portalauth config: failed to ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("portalauth config: failed to initialize postgres adapter: %w", err)
	}

	if config.AuditStore == nil {
		config.AuditStore = adapter
	}

	closeResource := func() error {
		return stderrors.Join(adapter.Close(), db.Close())
	}

	config.Runtime.Audit.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres audit backend",
		"driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns)
	return closeResource, config, nil
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}

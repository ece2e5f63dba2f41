package main

import (
	"context"
	"fmt"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/metrics"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/persistence/sqlite"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

// postgresConfig переводит настройки окружения в конфигурацию пула.
func postgresConfig(cfg config.DatabaseConfig) postgres.Config {
	pg := postgres.DefaultConfig()
	pg.URL = cfg.URL
	if cfg.MaxOpenConns > 0 {
		pg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	if cfg.QueryTimeout > 0 {
		pg.QueryTimeout = cfg.QueryTimeout
	}
	return pg
}

// openStore открывает хранилище выбранного драйвера и, если разрешено,
// применяет миграции.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (progression.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		conn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("migrations applied", logger.Int("count", applied))
		}
		log.Info("connected to PostgreSQL")
		return postgres.NewStore(conn), nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:         cfg.Database.SQLitePath,
			QueryTimeout: cfg.Database.QueryTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if cfg.Database.AutoMigrate || cfg.Database.SQLitePath == sqlite.MemoryPath {
			applied, err := store.Migrate(ctx)
			if err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("migrations applied", logger.Int("count", applied))
		}
		log.Info("opened SQLite database", logger.String("path", cfg.Database.SQLitePath))
		return store, nil

	default:
		log.Warn("using in-memory store, progress is lost on restart")
		return memory.NewStore(), nil
	}
}

// openProgressCache подключает Redis. Кэш необязателен: при ошибке
// движок работает напрямую с хранилищем.
func openProgressCache(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *logger.Logger) (*redis.Cache, *redis.ProgressCache) {
	if cfg.Redis.Disabled || !cfg.Features.IsEnabled(config.FeatureScoreCache, nil) {
		log.Info("score cache disabled")
		return nil, nil
	}

	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	if cfg.Redis.Host != "" {
		rc.Host = cfg.Redis.Host
	}
	if cfg.Redis.Port > 0 {
		rc.Port = cfg.Redis.Port
	}
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.MinIdleConns > 0 {
		rc.MinIdleConns = cfg.Redis.MinIdleConns
	}
	if cfg.Redis.DialTimeout > 0 {
		rc.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.Redis.WriteTimeout
	}

	cache, err := redis.NewCache(ctx, rc)
	if err != nil {
		log.Warn("redis unavailable, continuing without score cache", logger.Err(err))
		return nil, nil
	}
	log.Info("connected to Redis")
	return cache, redis.NewProgressCache(cache, cfg.Redis.CacheTTL, m, log)
}

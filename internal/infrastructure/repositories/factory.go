package repositories

import (
	"context"

	"zonecast/internal/core/ports"
	"zonecast/internal/infrastructure/reliability"
	"zonecast/internal/infrastructure/repositories/memory"
	redisrepo "zonecast/internal/infrastructure/repositories/redis"
	"zonecast/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to redis when enabled, falling back to
// memory repositories when the connection cannot be established.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateRosterRepository returns the redis repository behind a circuit
// breaker when redis is in use, a plain memory repository otherwise.
func (f *RepositoryFactory) CreateRosterRepository() ports.RosterRepository {
	if f.useRedis && f.redisClient != nil {
		return reliability.NewGuardedRosterRepository(redisrepo.NewRedisRosterRepository(f.redisClient), f.logger)
	}
	return memory.NewMemoryRosterRepository()
}

func (f *RepositoryFactory) CreateMediaStateRepository() ports.MediaStateRepository {
	if f.useRedis && f.redisClient != nil {
		return reliability.NewGuardedMediaStateRepository(redisrepo.NewRedisMediaStateRepository(f.redisClient), f.logger)
	}
	return memory.NewMemoryMediaStateRepository()
}

// RedisClient exposes the shared client for components that need raw
// pub/sub access. Nil when running on memory repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if f.useRedis {
		return f.redisClient
	}
	return nil
}

// Close closes the redis connection if used.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks redis connection health.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

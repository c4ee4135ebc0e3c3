package airdrop

import (
	"fmt"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/config"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence"
	badgerStore "github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence/badger"
	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence/memory"
	redisStore "github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence/redis"
	"go.uber.org/zap"
)

// NewArtifactStore opens the store selected by cfg.PersistenceType.
// It returns nil, nil for PersistenceTypeNone.
func NewArtifactStore(cfg *config.AirdropConfig, logger *zap.Logger) (persistence.IArtifactStore, error) {
	var (
		store persistence.IArtifactStore
		err   error
	)

	switch cfg.PersistenceType {
	case config.PersistenceTypeNone, "":
		return nil, nil
	case config.PersistenceTypeMemory:
		store = memory.NewMemoryStore(logger)
	case config.PersistenceTypeBadger:
		store, err = badgerStore.NewBadgerStore(cfg.BadgerPath, logger)
	case config.PersistenceTypeRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis persistence selected without redis config")
		}
		store, err = redisStore.NewRedisStore(&redisStore.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported persistence type %q", cfg.PersistenceType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s artifact store: %w", cfg.PersistenceType, err)
	}

	if err := store.HealthCheck(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%s artifact store failed health check: %w", cfg.PersistenceType, err)
	}
	return store, nil
}

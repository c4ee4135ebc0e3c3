package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixTree        = "airdrop:tree:"
	keyPrefixRoot        = "airdrop:root:"
	keyLatestTree        = "airdrop:latest:tree"
	keySchemaVersion     = "airdrop:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Redis has no native prefix iteration, so record IDs are tracked in a set
	keySetTrees = "airdrop:trees:index"

	operationTimeout = 10 * time.Second
)

var errClosed = errors.New("artifact store is closed")

// RedisStore is an IArtifactStore backed by Redis, suited to deployments where
// several tooling hosts share one set of published trees.
type RedisStore struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "prod:" gives "prod:airdrop:tree:<id>".
	KeyPrefix string
}

// NewRedisStore connects to Redis and initializes the schema version.
func NewRedisStore(cfg *RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rs := &RedisStore{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rs.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis artifact store initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rs, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisStore) prefixKey(key string) string {
	return r.keyPrefix + key
}

func (r *RedisStore) treeKey(id string) string {
	return r.prefixKey(keyPrefixTree + id)
}

func (r *RedisStore) rootKey(root string) string {
	return r.prefixKey(keyPrefixRoot + persistence.NormalizeRoot(root))
}

// initSchema initializes or validates the schema version
func (r *RedisStore) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if errors.Is(err, redis.Nil) {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

func (r *RedisStore) get(ctx context.Context, id string) (*persistence.TreeRecord, error) {
	data, err := r.client.Get(ctx, r.treeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return persistence.UnmarshalTreeRecord(data)
}

// SaveTree persists a tree record, its id index entry and its root index entry.
func (r *RedisStore) SaveTree(record *persistence.TreeRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return errClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	data, err := persistence.MarshalTreeRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal TreeRecord: %w", err)
	}

	previous, err := r.get(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("failed to read existing TreeRecord: %w", err)
	}

	pipe := r.client.TxPipeline()
	if previous != nil {
		pipe.SRem(ctx, r.rootKey(previous.Root), previous.ID)
	}
	pipe.Set(ctx, r.treeKey(record.ID), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetTrees), record.ID)
	pipe.SAdd(ctx, r.rootKey(record.Root), record.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save TreeRecord: %w", err)
	}
	return nil
}

// LoadTree retrieves a tree record by ID
func (r *RedisStore) LoadTree(id string) (*persistence.TreeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	record, err := r.get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load TreeRecord: %w", err)
	}
	return record, nil
}

// LoadTreeByRoot retrieves the newest record committing to root
func (r *RedisStore) LoadTreeByRoot(root string) (*persistence.TreeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	ids, err := r.client.SMembers(ctx, r.rootKey(root)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read root index: %w", err)
	}

	records, err := r.fetch(ctx, ids, r.rootKey(root))
	if err != nil {
		return nil, err
	}

	var best *persistence.TreeRecord
	for _, record := range records {
		if best == nil || record.CreatedAt > best.CreatedAt ||
			(record.CreatedAt == best.CreatedAt && record.ID > best.ID) {
			best = record
		}
	}
	return best, nil
}

// fetch loads records by id with MGET, pruning ids whose record has vanished from indexKey.
func (r *RedisStore) fetch(ctx context.Context, ids []string, indexKey string) ([]*persistence.TreeRecord, error) {
	if len(ids) == 0 {
		return []*persistence.TreeRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.treeKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch TreeRecords: %w", err)
	}

	records := make([]*persistence.TreeRecord, 0, len(values))
	for i, val := range values {
		if val == nil {
			r.client.SRem(ctx, indexKey, ids[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for TreeRecord", "key", keys[i])
			continue
		}

		record, err := persistence.UnmarshalTreeRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal TreeRecord, skipping", "key", keys[i], "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// ListTrees returns all records sorted by creation time
func (r *RedisStore) ListTrees() ([]*persistence.TreeRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	indexKey := r.prefixKey(keySetTrees)
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list TreeRecord ids: %w", err)
	}

	records, err := r.fetch(ctx, ids, indexKey)
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt < records[j].CreatedAt
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// DeleteTree removes a tree record and its index entries
func (r *RedisStore) DeleteTree(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return errClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	record, err := r.get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read TreeRecord: %w", err)
	}

	pipe := r.client.TxPipeline()
	if record != nil {
		pipe.SRem(ctx, r.rootKey(record.Root), id)
	}
	pipe.Del(ctx, r.treeKey(id))
	pipe.SRem(ctx, r.prefixKey(keySetTrees), id)

	_, err = pipe.Exec(ctx)
	return err
}

// SetLatestTree stores the current tree ID
func (r *RedisStore) SetLatestTree(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return errClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if id == "" {
		return r.client.Del(ctx, r.prefixKey(keyLatestTree)).Err()
	}
	return r.client.Set(ctx, r.prefixKey(keyLatestTree), id, 0).Err()
}

// GetLatestTree returns the current tree ID
func (r *RedisStore) GetLatestTree() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", errClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	id, err := r.client.Get(ctx, r.prefixKey(keyLatestTree)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest tree: %w", err)
	}
	return id, nil
}

// Close shuts down the store
func (r *RedisStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis artifact store closed")
	return nil
}

// HealthCheck pings Redis and checks the schema version is present
func (r *RedisStore) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return errClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}
	return nil
}

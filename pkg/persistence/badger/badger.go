package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixTree        = "tree:"
	keyPrefixRoot        = "root:"
	keyLatestTree        = "latest:tree"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

var errClosed = errors.New("artifact store is closed")

// BadgerStore is a disk-backed IArtifactStore using Badger.
// Each record is stored under tree:<id>; root:<root>:<id> keys index records by root.
type BadgerStore struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerStore opens (or creates) a Badger database at dataPath.
// SyncWrites is enabled for durability and a background goroutine runs value log GC.
func NewBadgerStore(dataPath string, logger *zap.Logger) (*BadgerStore, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger.Named("badger")}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bs := &BadgerStore{
		db:     db,
		logger: logger,
	}

	if err := bs.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bs.gcCancel = cancel
	bs.gcWg.Add(1)
	go bs.runGC(ctx)

	logger.Sugar().Infow("Badger artifact store initialized", "path", absPath)

	return bs, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerStore) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

// runGC runs periodic value log garbage collection in the background
func (b *BadgerStore) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func treeKey(id string) []byte {
	return []byte(keyPrefixTree + id)
}

func rootKey(root, id string) []byte {
	return []byte(keyPrefixRoot + root + ":" + id)
}

func rootPrefix(root string) []byte {
	return []byte(keyPrefixRoot + root + ":")
}

// getRecord reads and decodes one record inside a transaction. Returns nil if missing.
func getRecord(txn *badgerdb.Txn, id string) (*persistence.TreeRecord, error) {
	item, err := txn.Get(treeKey(id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var data []byte
	if err := item.Value(func(val []byte) error {
		data = append([]byte{}, val...)
		return nil
	}); err != nil {
		return nil, err
	}
	return persistence.UnmarshalTreeRecord(data)
}

// SaveTree persists a tree record and its root index entry in one transaction.
func (b *BadgerStore) SaveTree(record *persistence.TreeRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errClosed
	}

	data, err := persistence.MarshalTreeRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal TreeRecord: %w", err)
	}

	root := persistence.NormalizeRoot(record.Root)
	return b.db.Update(func(txn *badgerdb.Txn) error {
		previous, err := getRecord(txn, record.ID)
		if err != nil {
			return fmt.Errorf("failed to read existing TreeRecord: %w", err)
		}
		if previous != nil {
			if err := txn.Delete(rootKey(persistence.NormalizeRoot(previous.Root), previous.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set(treeKey(record.ID), data); err != nil {
			return err
		}
		return txn.Set(rootKey(root, record.ID), []byte(record.ID))
	})
}

// LoadTree retrieves a tree record by ID
func (b *BadgerStore) LoadTree(id string) (*persistence.TreeRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errClosed
	}

	var record *persistence.TreeRecord
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		record, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load TreeRecord: %w", err)
	}
	return record, nil
}

// LoadTreeByRoot retrieves the newest record committing to root
func (b *BadgerStore) LoadTreeByRoot(root string) (*persistence.TreeRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errClosed
	}

	var best *persistence.TreeRecord
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = rootPrefix(persistence.NormalizeRoot(root))

		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read root index: %w", err)
			}
		}

		for _, id := range ids {
			record, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			if record == nil {
				continue
			}
			if best == nil || record.CreatedAt > best.CreatedAt ||
				(record.CreatedAt == best.CreatedAt && record.ID > best.ID) {
				best = record
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load TreeRecord by root: %w", err)
	}
	return best, nil
}

// ListTrees returns all records sorted by creation time
func (b *BadgerStore) ListTrees() ([]*persistence.TreeRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errClosed
	}

	records := []*persistence.TreeRecord{}

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixTree)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			record, err := persistence.UnmarshalTreeRecord(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal TreeRecord, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list TreeRecords: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt < records[j].CreatedAt
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// DeleteTree removes a tree record and its root index entry
func (b *BadgerStore) DeleteTree(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		record, err := getRecord(txn, id)
		if err != nil {
			return fmt.Errorf("failed to read TreeRecord: %w", err)
		}
		if record == nil {
			return nil
		}
		if err := txn.Delete(rootKey(persistence.NormalizeRoot(record.Root), id)); err != nil {
			return err
		}
		return txn.Delete(treeKey(id))
	})
}

// SetLatestTree stores the current tree ID
func (b *BadgerStore) SetLatestTree(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		if id == "" {
			return txn.Delete([]byte(keyLatestTree))
		}
		return txn.Set([]byte(keyLatestTree), []byte(id))
	})
}

// GetLatestTree returns the current tree ID
func (b *BadgerStore) GetLatestTree() (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", errClosed
	}

	var id string
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyLatestTree))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to get latest tree: %w", err)
	}
	return id, nil
}

// Close shuts down the store
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger artifact store closed")
	return nil
}

// HealthCheck verifies the database is readable and carries a schema version
func (b *BadgerStore) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}

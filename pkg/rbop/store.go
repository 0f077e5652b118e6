package rbop

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// Database Key Namespace
// ======================
//
// BackgroundOperations live under a single "op:" prefix, keyed by their
// 16-byte id. There is exactly one data type in this store, so unlike a
// full metadata store there is no need for the richer namespace scheme a
// general-purpose repository would use — one prefix is enough to keep
// the keyspace self-documenting and to leave room for future, unrelated
// key families in the same database file.
const keyPrefix = "op:"

func opKey(id OperationID) []byte {
	return append([]byte(keyPrefix), id[:]...)
}

// DurableStore is a crash-safe mapping from OperationID to
// BackgroundOperation. After Put+Flush returns, the mapping survives a
// process kill; after Delete+Flush returns, the mapping is gone.
// Enumeration order on Keys is not guaranteed to match insertion order —
// consumers must tolerate any permutation on recovery.
type DurableStore struct {
	db *badger.DB
}

// StoreConfig configures the embedded database backing a DurableStore.
type StoreConfig struct {
	// DBPath is the directory the embedded database lives under,
	// conventionally "<dot-gvfs-root>/rbop/".
	DBPath string

	// BlockCacheSizeMB and IndexCacheSizeMB follow the same knobs the
	// metadata store exposes; the workload here is much smaller (one
	// small record per pending filesystem change), so modest defaults
	// are used when zero.
	BlockCacheSizeMB int64
	IndexCacheSizeMB int64
}

// OpenDurableStore opens (creating if necessary) the embedded database
// at cfg.DBPath.
func OpenDurableStore(cfg StoreConfig) (*DurableStore, error) {
	opts := badger.DefaultOptions(cfg.DBPath)
	opts = opts.WithLoggingLevel(badger.WARNING)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 16
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 16
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable queue store at %s: %w", cfg.DBPath, err)
	}

	return &DurableStore{db: db}, nil
}

// Put persists op under its id. The caller must call Flush to obtain the
// durability guarantee described on DurableStore.
func (s *DurableStore) Put(op BackgroundOperation) error {
	value, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode background operation %s: %w", op.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(opKey(op.ID), value)
	})
	if err != nil {
		return fmt.Errorf("failed to persist background operation %s: %w", op.ID, err)
	}
	return nil
}

// Delete removes id from the store. The caller must call Flush to
// obtain the durability guarantee described on DurableStore.
func (s *DurableStore) Delete(id OperationID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(opKey(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete background operation %s: %w", id, err)
	}
	return nil
}

// Get returns the operation stored under id, or ok=false if absent.
func (s *DurableStore) Get(id OperationID) (op BackgroundOperation, ok bool, err error) {
	txnErr := s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(opKey(id))
		if getErr == badger.ErrKeyNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}

		ok = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &op)
		})
	})
	if txnErr != nil {
		return BackgroundOperation{}, false, fmt.Errorf("failed to read background operation %s: %w", id, txnErr)
	}
	return op, ok, nil
}

// Keys enumerates every pending operation currently persisted, in no
// particular order. Used at Processor.Start to replay the durable store
// into the in-memory queue after a crash or restart.
func (s *DurableStore) Keys() ([]BackgroundOperation, error) {
	var ops []BackgroundOperation

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var op BackgroundOperation
				if err := json.Unmarshal(val, &op); err != nil {
					return err
				}
				ops = append(ops, op)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate durable queue: %w", err)
	}
	return ops, nil
}

// Flush is a no-op hook. Every Put and Delete commits its transaction to
// BadgerDB's write-ahead log before returning, which survives a process
// kill; the default options used here do not fsync on commit, and Flush
// does not force one either. It is kept for interface symmetry with
// Put/Delete and to give implementations with deferred writes somewhere
// to plug in without changing call sites.
func (s *DurableStore) Flush() error {
	return nil
}

// Close releases the underlying database handle. Safe to call once,
// typically at process shutdown after the consumer has joined.
func (s *DurableStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close durable queue store: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/lj-archiver/pkg/log"
	"github.com/Sriram-PR/lj-archiver/pkg/models"
	"github.com/Sriram-PR/lj-archiver/pkg/utils"
)

const (
	postKeyPrefix  = "post:"     // Prefix for post keys in DB
	assetKeyPrefix = "asset:"    // Prefix for asset URL keys in DB
	stateDBDir     = "state_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the StateStore interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count, maintained on writes
}

// NewBadgerStore opens the state database for one journal. When reset is true
// any existing state for that journal is removed first.
func NewBadgerStore(stateDir, journal string, reset bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(journal)+"_"+stateDBDir)

	if reset {
		logger.Warnf("Reset requested. REMOVING existing state directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing keys: %v", err)
	} else {
		store.keyCount.Store(int64(count))
	}

	logger.WithFields(logrus.Fields{"path": dbPath, "keys": count}).Debug("State database opened")
	return store, nil
}

// countKeys performs a one-time full key scan at open.
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Asset downloads record their results concurrently, and conflicting MVCC
// transactions resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// getJSON loads and decodes the value at key into dst.
// Returns false when the key does not exist or holds an undecodable value.
func (s *BadgerStore) getJSON(key []byte, dst any) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				s.log.Warnf("Key '%s' found with empty value, treating as 'not_found'.", string(key))
				return nil
			}
			if errJSON := json.Unmarshal(val, dst); errJSON != nil {
				s.log.Warnf("Failed to unmarshal entry for key '%s': %v. Treating as 'not_found'.", string(key), errJSON)
				return nil
			}
			found = true
			return nil
		})
	})
	return found, err
}

// putJSON encodes value and stores it at key
func (s *BadgerStore) putJSON(key []byte, value any) error {
	if s.db == nil {
		return fmt.Errorf("%w: state DB not initialized", utils.ErrDatabase)
	}
	data, errJSON := json.Marshal(value)
	if errJSON != nil {
		return fmt.Errorf("%w: JSON marshal for key '%s': %w", utils.ErrParsing, string(key), errJSON)
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(key, data))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: failed setting key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// CheckPostStatus implements the PostStore interface
func (s *BadgerStore) CheckPostStatus(postKey string) (models.PostStatus, *models.PostDBEntry, error) {
	var entry models.PostDBEntry
	found, err := s.getJSON([]byte(postKeyPrefix+postKey), &entry)
	if err != nil {
		s.log.Errorf("DB View error in CheckPostStatus for '%s': %v", postKey, err)
		return models.PostStatusDBError, nil, err
	}
	if !found {
		return models.PostStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// UpdatePostStatus implements the PostStore interface
func (s *BadgerStore) UpdatePostStatus(postKey string, entry *models.PostDBEntry) error {
	if err := s.putJSON([]byte(postKeyPrefix+postKey), entry); err != nil {
		return err
	}
	s.log.Debugf("Updated post status for '%s' to '%s'", postKey, entry.Status)
	return nil
}

// ListPostsByStatus implements the PostStore interface
func (s *BadgerStore) ListPostsByStatus(ctx context.Context, status models.PostStatus) ([]string, error) {
	var keys []string
	prefix := []byte(postKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			errValue := item.Value(func(val []byte) error {
				var entry models.PostDBEntry
				if errJSON := json.Unmarshal(val, &entry); errJSON != nil {
					s.log.Warnf("Skipping undecodable post entry '%s': %v", key, errJSON)
					return nil
				}
				if entry.Status == status {
					keys = append(keys, key)
				}
				return nil
			})
			if errValue != nil {
				return errValue
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: scanning posts: %w", utils.ErrDatabase, err)
	}
	return keys, err
}

// CheckAssetStatus implements the AssetStore interface
func (s *BadgerStore) CheckAssetStatus(normalizedURL string) (models.AssetStatus, *models.AssetDBEntry, error) {
	var entry models.AssetDBEntry
	found, err := s.getJSON([]byte(assetKeyPrefix+normalizedURL), &entry)
	if err != nil {
		s.log.Errorf("DB View error in CheckAssetStatus for '%s': %v", normalizedURL, err)
		return models.AssetStatusDBError, nil, err
	}
	if !found {
		return models.AssetStatusNotFound, nil, nil
	}
	return entry.Status, &entry, nil
}

// UpdateAssetStatus implements the AssetStore interface
func (s *BadgerStore) UpdateAssetStatus(normalizedURL string, entry *models.AssetDBEntry) error {
	return s.putJSON([]byte(assetKeyPrefix+normalizedURL), entry)
}

// KeyCount implements the StoreAdmin interface
func (s *BadgerStore) KeyCount() int {
	return int(s.keyCount.Load())
}

// RunGC runs BadgerDB's value log garbage collection periodically until ctx is done
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				// Rewrite while at least half of a value log file is reclaimable
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing state DB: %v", err)
		return fmt.Errorf("%w: closing state DB: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("State DB closed.")
	return nil
}

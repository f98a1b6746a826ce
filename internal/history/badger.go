// ABOUTME: BadgerDB history backend with a time-ordered outcome log
// ABOUTME: Keeps a per-target pointer to the newest outcome and a bloom prefilter

package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// Key prefixes.
const (
	outcomePrefix = "outcome:"
	targetPrefix  = "target:"
)

// BadgerConfig holds configuration for the Badger store.
type BadgerConfig struct {
	// Path to the database directory. Required unless InMemory is true.
	Path string

	// InMemory runs the database in memory (for testing and one-shot CLI use).
	InMemory bool

	SyncWrites bool

	// ExpectedTargets sizes the bloom prefilter.
	ExpectedTargets uint

	Logger *slog.Logger
}

// BadgerStore stores outcomes in BadgerDB.
//
// Layout:
//
//	outcome:<unix-nanos, zero padded>:<id>  -> JSON ScanOutcome
//	target:<kind>:<value>                   -> newest outcome key
type BadgerStore struct {
	db      *badger.DB
	targets *targetFilter
}

// NewBadgerStore opens the store and warms the target prefilter.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger history path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	if cfg.SyncWrites {
		opts = opts.WithSyncWrites(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With(slog.String("component", "history.badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerStore{db: db, targets: newTargetFilter(cfg.ExpectedTargets)}
	if err := s.warmFilter(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) warmFilter() error {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(targetPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), targetPrefix))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load target index: %w", err)
	}
	s.targets.Rebuild(keys)
	return nil
}

func outcomeKey(o *types.ScanOutcome) []byte {
	return fmt.Appendf(nil, "%s%020d:%s", outcomePrefix, o.Timestamp.UnixNano(), o.ID)
}

// SaveScanOutcome stores the outcome and advances the target pointer when
// the outcome is newer than the one it references.
func (s *BadgerStore) SaveScanOutcome(ctx context.Context, outcome *types.ScanOutcome) error {
	if err := validateOutcome(outcome); err != nil {
		return err
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	key := outcomeKey(outcome)
	idx := []byte(targetPrefix + outcome.TargetKey())

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("failed to set outcome: %w", err)
		}

		item, err := txn.Get(idx)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("failed to read target index: %w", err)
		default:
			current, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read target index: %w", err)
			}
			if bytes.Compare(current, key) > 0 {
				return nil
			}
		}
		return txn.Set(idx, key)
	})
	if err != nil {
		return err
	}

	s.targets.Add(outcome.TargetKey())
	return nil
}

// ListOutcomes returns up to limit outcomes, newest first.
func (s *BadgerStore) ListOutcomes(ctx context.Context, limit int) ([]*types.ScanOutcome, error) {
	limit = normalizeLimit(limit)
	var outcomes []*types.ScanOutcome

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(outcomePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(outcomePrefix + "\xff")); it.Valid() && len(outcomes) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var o types.ScanOutcome
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &o)
			}); err != nil {
				return fmt.Errorf("failed to decode outcome %s: %w", it.Item().Key(), err)
			}
			outcomes = append(outcomes, &o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// LookupTarget returns the newest outcome for target, or nil if none exists.
func (s *BadgerStore) LookupTarget(ctx context.Context, target types.ScanTarget) (*types.ScanOutcome, error) {
	if !s.targets.MayContain(target.Key()) {
		return nil, nil
	}

	var outcome *types.ScanOutcome
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(targetPrefix + target.Key()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read target index: %w", err)
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(key)
		if err != nil {
			return fmt.Errorf("failed to read outcome %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			outcome = &types.ScanOutcome{}
			return json.Unmarshal(val, outcome)
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Count returns the number of stored outcomes.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(outcomePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// badgerLogger routes badger's internal logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

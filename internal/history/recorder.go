// ABOUTME: History recorder contract and backend factory
// ABOUTME: Persists one ScanOutcome per polling session in Badger, Redis or SQLite

package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// Backend names accepted by Open.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultListLimit caps ListOutcomes when the caller passes a non-positive limit.
const DefaultListLimit = 50

// ErrInvalidOutcome is returned when saving an outcome without an ID or target.
var ErrInvalidOutcome = errors.New("invalid scan outcome")

// Recorder persists scan outcomes.
type Recorder interface {
	// SaveScanOutcome stores an outcome. Outcomes are never updated.
	SaveScanOutcome(ctx context.Context, outcome *types.ScanOutcome) error

	// ListOutcomes returns up to limit outcomes, newest first.
	ListOutcomes(ctx context.Context, limit int) ([]*types.ScanOutcome, error)

	// LookupTarget returns the newest outcome for target, or nil if none exists.
	LookupTarget(ctx context.Context, target types.ScanTarget) (*types.ScanOutcome, error)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of badger, redis, sqlite or memory.
	Backend string

	// Path is the Badger directory or the SQLite database file.
	Path string

	Redis RedisConfig

	// ExpectedTargets sizes the Badger target prefilter.
	ExpectedTargets uint

	Logger *slog.Logger
}

// Open creates the configured recorder.
func Open(ctx context.Context, cfg Config) (Recorder, error) {
	var (
		rec Recorder
		err error
	)
	switch cfg.Backend {
	case BackendBadger, "":
		rec, err = asRecorder(NewBadgerStore(BadgerConfig{
			Path:            cfg.Path,
			ExpectedTargets: cfg.ExpectedTargets,
			Logger:          cfg.Logger,
		}))
	case BackendMemory:
		rec, err = asRecorder(NewBadgerStore(BadgerConfig{
			InMemory:        true,
			ExpectedTargets: cfg.ExpectedTargets,
			Logger:          cfg.Logger,
		}))
	case BackendRedis:
		rec, err = asRecorder(NewRedisStore(ctx, cfg.Redis))
	case BackendSQLite:
		rec, err = asRecorder(NewSQLiteStore(ctx, cfg.Path))
	default:
		err = fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s history: %w", cfg.Backend, err)
	}
	return rec, nil
}

// asRecorder keeps a typed nil store from becoming a non-nil Recorder.
func asRecorder[R Recorder](r R, err error) (Recorder, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

func validateOutcome(o *types.ScanOutcome) error {
	switch {
	case o == nil:
		return fmt.Errorf("%w: nil", ErrInvalidOutcome)
	case o.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidOutcome)
	case o.Target == "" || !o.ScanType.IsValid():
		return fmt.Errorf("%w: missing target", ErrInvalidOutcome)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

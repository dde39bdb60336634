package storage

import (
	"context"
	"fmt"
	"sync"

	"kufar_watch/models"
)

// Store is the persistence boundary for subscribers, their watched sources
// and filters, the price ledger, pass bookkeeping and the command queue.
// Every method is one atomic unit.
type Store interface {
	RegisterSubscriber(ctx context.Context, owner, chatID int64) error
	GetSubscriber(ctx context.Context, owner int64) (*models.Subscriber, error)
	ListSubscribers(ctx context.Context) ([]models.Subscriber, error)

	AddSource(ctx context.Context, owner int64, url string) (*models.WatchedSource, error)
	GetSource(ctx context.Context, id int64) (*models.WatchedSource, error)
	ListSources(ctx context.Context, owner int64) ([]models.WatchedSource, error)
	DeleteAllSources(ctx context.Context, owner int64) (int64, error)

	GetFilter(ctx context.Context, owner int64) (*models.FilterSpec, error)
	UpsertFilter(ctx context.Context, f *models.FilterSpec) error

	// LastPrice returns the most recent observation's price; ok is false
	// when the ad has never been observed for owner.
	LastPrice(ctx context.Context, owner int64, externalID string) (price int, ok bool, err error)
	// RecordIfChanged appends obs unless the latest observation for
	// (owner, external id) already has the same price. It reports whether a
	// row was written.
	RecordIfChanged(ctx context.Context, obs *models.PriceObservation) (bool, error)
	// CommitPass records the pass's observations and raises the source
	// watermark in a single transaction. The watermark never decreases.
	CommitPass(ctx context.Context, c *models.PassCommit) error

	CreateRun(ctx context.Context, run *models.PassRun) error
	UpdateRun(ctx context.Context, run *models.PassRun) error
	Log(ctx context.Context, runID string, level models.LogLevel, message string, owner int64) error
	RecentRuns(ctx context.Context, limit int) ([]models.PassRun, error)
	// RecentLogs filters by level when level is non-nil.
	RecentLogs(ctx context.Context, limit int, level *models.LogLevel) ([]models.PassLog, error)

	EnqueueCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) error
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error

	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// StoreError wraps any database failure. The operation it names did not
// take effect.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// KeyLock serializes work per (owner, source). Entries are dropped once no
// goroutine holds or waits on them.
type KeyLock struct {
	mu    sync.Mutex
	locks map[lockKey]*keyEntry
}

type lockKey struct {
	owner  int64
	source int64
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{locks: make(map[lockKey]*keyEntry)}
}

// Lock blocks until the (owner, source) key is free and returns its unlock
// function.
func (k *KeyLock) Lock(owner, source int64) func() {
	key := lockKey{owner, source}

	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

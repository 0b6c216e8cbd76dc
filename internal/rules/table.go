package rules

import (
	"context"
	"sync"
	"time"

	"rdstrack/internal/logger"
)

// Table keeps an in-memory snapshot of the enabled rules so each resolution
// reads them in bulk without touching the database. It reloads itself after
// every write made through its Store. Writes from other processes are picked
// up by Refresh.
type Table struct {
	store *Store
	log   *logger.Logger

	mu      sync.RWMutex
	set     Ruleset
	version int64
}

// NewTable loads the current rules and subscribes to later changes.
func NewTable(ctx context.Context, store *Store, log *logger.Logger) (*Table, error) {
	t := &Table{store: store, log: log}
	if err := t.Reload(ctx); err != nil {
		return nil, err
	}
	store.Watch(func() {
		if err := t.Reload(context.Background()); err != nil {
			t.log.Error("reload rules: %v", err)
		}
	})
	return t, nil
}

// StaticTable builds a table from a fixed rule list, with no backing store.
func StaticTable(all []Rule) *Table {
	return &Table{set: Split(all), log: logger.Discard()}
}

// Reload re-reads the rules from the store.
func (t *Table) Reload(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	version, err := t.store.Version(ctx)
	if err != nil {
		return err
	}
	set, err := t.store.Ruleset(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.set = set
	t.version = version
	t.mu.Unlock()
	t.log.Debug("loaded %d immediate and %d fallback rules", len(set.Immediate), len(set.Fallback))
	return nil
}

// Refresh reloads the rules if the database changed since the last load.
// It reports whether a reload happened.
func (t *Table) Refresh(ctx context.Context) (bool, error) {
	if t.store == nil {
		return false, nil
	}
	version, err := t.store.Version(ctx)
	if err != nil {
		return false, err
	}
	t.mu.RLock()
	same := version == t.version
	t.mu.RUnlock()
	if same {
		return false, nil
	}
	return true, t.Reload(ctx)
}

// StartRefresh calls Refresh every interval until ctx is done.
func (t *Table) StartRefresh(ctx context.Context, interval time.Duration) {
	if t.store == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
					t.log.Error("refresh rules: %v", err)
				}
			}
		}
	}()
}

// Snapshot returns the current rule set. The slices must not be modified.
func (t *Table) Snapshot() Ruleset {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.set
}

// Apply rewrites input with the current snapshot.
func (t *Table) Apply(input string, frequency float64) string {
	return t.Snapshot().Apply(input, frequency)
}

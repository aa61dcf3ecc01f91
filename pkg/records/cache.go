package records

import (
	"context"
	"regexp"
	"sync"

	"localdns/pkg/logging"
)

// Source is the slice of the store contract the cache consumes.
type Source interface {
	ActiveRecords(ctx context.Context) ([]Record, error)
}

// entry is a snapshot element with its pattern compiled once at reload time.
// A nil re means the pattern failed to compile and the entry never matches.
type entry struct {
	rec      Record
	re       *regexp.Regexp
	wildcard bool
}

// Cache is an in-memory mirror of the store's active records. The snapshot
// is replaced wholesale on Reload; the lock guards only the slice-header
// swap, so lookups scan a consistent snapshot without holding the lock and
// a reload never waits behind an in-flight scan.
type Cache struct {
	mu       sync.RWMutex
	snapshot []entry

	source Source
	logger *logging.Logger
}

// NewCache constructs a cache and performs one synchronous reload. It fails
// only if that initial reload fails.
func NewCache(ctx context.Context, source Source, logger *logging.Logger) (*Cache, error) {
	if logger == nil {
		logger = logging.NewDefault()
	}
	c := &Cache{
		source: source,
		logger: logger,
	}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload fetches all active records from the store and atomically replaces
// the snapshot. On store failure the previous snapshot is retained and the
// error is returned.
func (c *Cache) Reload(ctx context.Context) error {
	recs, err := c.source.ActiveRecords(ctx)
	if err != nil {
		c.logger.Error("Record cache reload failed", "error", err)
		return err
	}

	snapshot := make([]entry, 0, len(recs))
	for _, rec := range recs {
		e := entry{rec: rec, wildcard: rec.IsWildcard()}
		re, compileErr := CompilePattern(rec.DomainPattern)
		if compileErr != nil {
			c.logger.Warn("Record pattern failed to compile, record will never match",
				"id", rec.ID,
				"pattern", rec.DomainPattern,
				"error", compileErr)
		} else {
			e.re = re
		}
		snapshot = append(snapshot, e)
	}

	c.mu.Lock()
	c.snapshot = snapshot
	c.mu.Unlock()

	c.logger.Info("Record cache reloaded", "records", len(snapshot))
	return nil
}

// FindMatching scans the current snapshot for a record matching the query
// name and type. An exact-pattern match short-circuits the scan; otherwise
// the first wildcard-pattern match in snapshot order is returned. Snapshot
// order is storage order, so overlapping wildcards resolve by record
// creation order.
func (c *Cache) FindMatching(queryName string, rtype Type) (Record, bool) {
	c.mu.RLock()
	snapshot := c.snapshot
	c.mu.RUnlock()

	var wildcard *entry
	for i := range snapshot {
		e := &snapshot[i]
		if e.rec.Type != rtype || !e.rec.Active || e.re == nil {
			continue
		}
		if !e.re.MatchString(queryName) {
			continue
		}
		if !e.wildcard {
			return e.rec, true
		}
		if wildcard == nil {
			wildcard = e
		}
	}

	if wildcard != nil {
		return wildcard.rec, true
	}
	return Record{}, false
}

// Len returns the number of records in the current snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshot)
}

// Package denylist implements the administrative blocklist consulted at
// the server front before a question reaches the engine. Reads run through
// a bloom → cache → store pipeline; updates swap the whole snapshot.
package denylist

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-resolved/internal/dns/common/log"
	"github.com/haukened/rr-resolved/internal/dns/common/utils"
	"github.com/haukened/rr-resolved/internal/dns/services/resolver"
)

const (
	decisionCacheSize = 4096
	bloomFPRate       = 0.001
)

var namesBucket = []byte("names")

// Repo answers "is this name blocked" for exact entries and their
// registrable-domain (apex) form. On internal errors it prefers allow.
type Repo struct {
	mu        sync.RWMutex
	db        *bolt.DB
	filter    *bloom.BloomFilter
	decisions *lru.Cache[string, bool]
	logger    log.Logger
}

// Open opens (or creates) the index database at dbPath.
func Open(dbPath string, logger log.Logger) (*Repo, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open denylist db: %w", err)
	}
	decisions, err := lru.New[string, bool](decisionCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	r := &Repo{
		db:        db,
		decisions: decisions,
		logger:    logger,
	}
	if err := r.rebuildFilter(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Rebuild atomically replaces the stored names with the provided set and
// rebuilds the bloom filter sized for it.
func (r *Repo) Rebuild(names []string) error {
	canonical := make([]string, 0, len(names))
	for _, n := range names {
		canonical = append(canonical, utils.CanonicalDNSName(n))
	}

	err := r.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(namesBucket) != nil {
			if err := tx.DeleteBucket(namesBucket); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(namesBucket)
		if err != nil {
			return err
		}
		for _, n := range canonical {
			if err := b.Put([]byte(n), []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild denylist store: %w", err)
	}

	filter := bloom.NewWithEstimates(uint(max(len(canonical), 1)), bloomFPRate)
	for _, n := range canonical {
		filter.AddString(n)
	}

	r.mu.Lock()
	r.filter = filter
	r.decisions.Purge()
	r.mu.Unlock()

	r.logger.Info(map[string]any{"names": len(canonical)}, "denylist rebuilt")
	return nil
}

// Blocked reports whether the name, or its apex domain, is denylisted.
func (r *Repo) Blocked(name string) bool {
	cn := utils.CanonicalDNSName(name)
	if r.blockedExact(cn) {
		return true
	}
	if apex := utils.ApexDomain(cn); apex != cn {
		return r.blockedExact(apex)
	}
	return false
}

func (r *Repo) blockedExact(cn string) bool {
	r.mu.RLock()
	filter := r.filter
	r.mu.RUnlock()

	// definitively absent per bloom: early allow without touching the store
	if filter != nil && !filter.TestString(cn) {
		return false
	}
	if d, ok := r.decisions.Get(cn); ok {
		return d
	}

	var found bool
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(namesBucket)
		if b == nil {
			return nil
		}
		found = b.Get([]byte(cn)) != nil
		return nil
	})
	if err != nil {
		r.logger.Warn(map[string]any{"name": cn, "error": err.Error()}, "denylist store read failed, allowing")
		return false
	}
	r.decisions.Add(cn, found)
	return found
}

// Len returns the number of stored names.
func (r *Repo) Len() int {
	var n int
	_ = r.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(namesBucket); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

// Close releases the underlying database.
func (r *Repo) Close() error {
	return r.db.Close()
}

// rebuildFilter sizes a bloom filter from whatever the store already
// holds, so a reopened database filters correctly without a Rebuild.
func (r *Repo) rebuildFilter() error {
	var names []string
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(namesBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return err
	}
	filter := bloom.NewWithEstimates(uint(max(len(names), 1)), bloomFPRate)
	for _, n := range names {
		filter.AddString(n)
	}
	r.mu.Lock()
	r.filter = filter
	r.mu.Unlock()
	return nil
}

var _ resolver.Denylist = (*Repo)(nil)

// Package cache remembers which range timeline serves a calendar day. Origin
// markers and their timeline links are never deleted, so an entry stays
// valid for as long as the store it was learned from.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrKeyNotFound is returned when a day is not cached
	ErrKeyNotFound = errors.New("key not found in cache")
)

const dayPrefix = "day:"

// DayCache maps canonical origins to range timeline identifiers.
type DayCache interface {
	// Get returns the timeline recorded for origin
	Get(origin string) (string, error)
	// Set records the timeline for origin
	Set(origin, timelineID string) error
	// Close releases the cache
	Close() error
}

// BadgerCache implements DayCache using BadgerDB
type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerCache opens a BadgerDB-backed day cache at path. An empty path
// keeps the database in memory. A zero ttl keeps entries forever.
func NewBadgerCache(path string, ttl time.Duration) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerCache{
		db:  db,
		ttl: ttl,
	}, nil
}

func (c *BadgerCache) Set(origin, timelineID string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(dayPrefix+origin), []byte(timelineID))
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

func (c *BadgerCache) Get(origin string) (string, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dayPrefix + origin))
		if err != nil {
			return err
		}

		val, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", ErrKeyNotFound
		}
		return "", err
	}

	return string(val), nil
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

// MemoryCache is a map-backed DayCache without expiry.
type MemoryCache struct {
	mu   sync.RWMutex
	days map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{days: make(map[string]string)}
}

func (c *MemoryCache) Get(origin string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.days[origin]
	if !ok {
		return "", ErrKeyNotFound
	}
	return id, nil
}

func (c *MemoryCache) Set(origin, timelineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.days[origin] = timelineID
	return nil
}

func (c *MemoryCache) Close() error {
	return nil
}

// Package cache stores finished translations in badger so a line that keeps
// reappearing on screen is only paid for once.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	apperrors "github.com/GriffinCanCode/subvoice/internal/errors"
)

const DefaultTTL = 7 * 24 * time.Hour

// Entry is one cached translation.
type Entry struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Cache struct {
	db *badger.DB
}

// Open opens the cache at path. An empty path keeps it in memory.
func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.Internal, "open cache %q", path)
	}
	return &Cache{db: db}, nil
}

// GenerateKey hashes the parts that determine a translation.
func GenerateKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Get returns the entry for key. Read errors count as a miss.
func (c *Cache) Get(key string) (*Entry, bool) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Debug("cache read failed", "error", err)
		}
		return nil, false
	}
	return &entry, true
}

// Set stores entry under key for ttl; ttl <= 0 keeps it forever.
func (c *Cache) Set(key string, entry *Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "encode cache entry")
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (c *Cache) Close() error {
	return c.db.Close()
}

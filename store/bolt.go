package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/chazu/glosso/pkg/bytecode"
)

// Bucket names for BoltDB.
var (
	// bucketModules stores zstd-framed serialized modules keyed by hash.
	bucketModules = []byte("modules")

	// bucketEntries stores CBOR entry records keyed by hash.
	bucketEntries = []byte("entries")

	// bucketNames maps module names to hashes.
	bucketNames = []byte("names")
)

// boltEntry is the stored form of Entry.
type boltEntry struct {
	Name         string `cbor:"1,keyasint,omitempty"`
	Instructions int    `cbor:"2,keyasint"`
	Size         int    `cbor:"3,keyasint"`
	Stored       int64  `cbor:"4,keyasint"` // unix nanoseconds
}

func (be boltEntry) entry(h bytecode.Hash) Entry {
	return Entry{
		Hash:         h,
		Name:         be.Name,
		Instructions: be.Instructions,
		Size:         be.Size,
		Stored:       time.Unix(0, be.Stored).UTC(),
	}
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	path   string
	mu     sync.RWMutex
	closed bool
}

// OpenBolt creates or opens a module store at path.
func OpenBolt(path string) (*BoltStore, error) {
	// Ensure directory exists.
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &BoltStore{db: db, path: path}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	log.Debugf("opened module store %s", path)
	return s, nil
}

// initBuckets creates all required buckets.
func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketModules, bucketEntries, bucketNames} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Path returns the database file path.
func (s *BoltStore) Path() string { return s.path }

func (s *BoltStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Put stores m.
func (s *BoltStore) Put(name string, m *bytecode.Module) (Entry, error) {
	if s.isClosed() {
		return Entry{}, ErrClosed
	}

	data := m.Serialize()
	e := newEntry(name, m, data)
	framed, err := bytecode.Compress(data)
	if err != nil {
		return Entry{}, fmt.Errorf("compress module: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		names := tx.Bucket(bucketNames)

		rec := boltEntry{Name: name, Instructions: e.Instructions, Size: e.Size, Stored: e.Stored.UnixNano()}
		if raw := entries.Get(e.Hash[:]); raw != nil {
			var old boltEntry
			if err := cbor.Unmarshal(raw, &old); err != nil {
				return fmt.Errorf("%w: entry %s: %v", ErrCorrupt, e.Hash, err)
			}
			rec.Stored = old.Stored
			if name == "" {
				rec.Name = old.Name
			}
		}

		if name != "" {
			if prev := names.Get([]byte(name)); prev != nil && !bytes.Equal(prev, e.Hash[:]) {
				if err := clearName(entries, prev, name); err != nil {
					return err
				}
			}
			if err := names.Put([]byte(name), e.Hash[:]); err != nil {
				return err
			}
		}

		encoded, err := cbor.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
		if err := entries.Put(e.Hash[:], encoded); err != nil {
			return err
		}
		e = rec.entry(e.Hash)
		return tx.Bucket(bucketModules).Put(e.Hash[:], framed)
	})
	if err != nil {
		return Entry{}, err
	}
	log.Debugf("stored %s (%q, %d bytes)", e.Hash.Short(), e.Name, e.Size)
	return e, nil
}

// clearName drops name from the entry stored under key.
func clearName(entries *bolt.Bucket, key []byte, name string) error {
	raw := entries.Get(key)
	if raw == nil {
		return nil
	}
	var rec boltEntry
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("%w: entry: %v", ErrCorrupt, err)
	}
	if rec.Name != name {
		return nil
	}
	rec.Name = ""
	encoded, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return entries.Put(key, encoded)
}

// Get returns the module with hash h, verifying it against h.
func (s *BoltStore) Get(h bytecode.Hash) (*bytecode.Module, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var framed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketModules).Get(h[:])
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, h)
		}
		// Values are only valid inside the transaction.
		framed = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := bytecode.Unwrap(framed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, h, err)
	}
	if bytecode.HashBytes(data) != h {
		return nil, fmt.Errorf("%w: %s: hash mismatch", ErrCorrupt, h)
	}
	return bytecode.Deserialize(data)
}

// Has reports whether h is stored.
func (s *BoltStore) Has(h bytecode.Hash) bool {
	if s.isClosed() {
		return false
	}
	exists := false
	s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketModules).Get(h[:]) != nil
		return nil
	})
	return exists
}

// Resolve maps a hash string or name to a stored hash.
func (s *BoltStore) Resolve(ref string) (bytecode.Hash, error) {
	if s.isClosed() {
		return bytecode.Hash{}, ErrClosed
	}

	var h bytecode.Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketNames).Get([]byte(ref)); v != nil {
			copy(h[:], v)
			return nil
		}
		parsed, err := bytecode.ParseHash(ref)
		if err == nil && tx.Bucket(bucketModules).Get(parsed[:]) != nil {
			h = parsed
			return nil
		}
		return fmt.Errorf("%w: %q", ErrNotFound, ref)
	})
	return h, err
}

// List returns every entry.
func (s *BoltStore) List() ([]Entry, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var rec boltEntry
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: entry: %v", ErrCorrupt, err)
			}
			var h bytecode.Hash
			copy(h[:], k)
			entries = append(entries, rec.entry(h))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	return entries, nil
}

// Delete removes h and any name pointing at it.
func (s *BoltStore) Delete(h bytecode.Hash) error {
	if s.isClosed() {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		modules := tx.Bucket(bucketModules)
		if modules.Get(h[:]) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, h)
		}
		if err := modules.Delete(h[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bucketEntries).Delete(h[:]); err != nil {
			return err
		}

		names := tx.Bucket(bucketNames)
		var stale [][]byte
		if err := names.ForEach(func(k, v []byte) error {
			if bytes.Equal(v, h[:]) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := names.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.db.Close()
}

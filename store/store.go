// Package store keeps assembled modules addressed by their content hash.
//
// Two backends implement Store: MemoryStore for tests and the server's
// scratch space, and BoltStore, a bbolt file that persists across runs.
// Both index modules by bytecode.Hash and optionally by a human name; a
// later Put under the same name moves the name to the new hash.
package store

import (
	"errors"
	"sort"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/glosso/pkg/bytecode"
)

var log = commonlog.GetLogger("glosso.store")

var (
	// ErrNotFound is returned when no module matches a hash or name.
	ErrNotFound = errors.New("module not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrCorrupt is returned when stored bytes no longer match their hash.
	ErrCorrupt = errors.New("stored module is corrupt")
)

// Entry describes one stored module.
type Entry struct {
	Hash         bytecode.Hash
	Name         string
	Instructions int
	Size         int // serialized bytes, uncompressed
	Stored       time.Time
}

// Store is a content-addressed module repository. Implementations are safe
// for concurrent use.
type Store interface {
	// Put stores m under its hash and, if name is not empty, under name.
	// Storing the same module again only updates the name.
	Put(name string, m *bytecode.Module) (Entry, error)

	// Get returns the module with hash h.
	Get(h bytecode.Hash) (*bytecode.Module, error)

	// Has reports whether a module with hash h is stored.
	Has(h bytecode.Hash) bool

	// Resolve maps a base58 hash or a module name to a stored hash.
	Resolve(ref string) (bytecode.Hash, error)

	// List returns every entry, ordered by name then hash.
	List() ([]Entry, error)

	// Delete removes the module with hash h and any name pointing at it.
	Delete(h bytecode.Hash) error

	Close() error
}

// newEntry builds the entry for a module about to be stored.
func newEntry(name string, m *bytecode.Module, data []byte) Entry {
	return Entry{
		Hash:         bytecode.HashBytes(data),
		Name:         name,
		Instructions: len(m.Code),
		Size:         len(data),
		Stored:       time.Now().UTC(),
	}
}

// sortEntries orders entries by name, then hash.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Hash.String() < entries[j].Hash.String()
	})
}

package store

import (
	"fmt"
	"sync"

	"github.com/chazu/glosso/pkg/bytecode"
)

// MemoryStore is an in-process Store. Modules are kept in serialized form
// so callers cannot mutate stored code through a returned pointer.
type MemoryStore struct {
	mu      sync.RWMutex
	modules map[bytecode.Hash][]byte
	entries map[bytecode.Hash]Entry
	names   map[string]bytecode.Hash
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		modules: make(map[bytecode.Hash][]byte),
		entries: make(map[bytecode.Hash]Entry),
		names:   make(map[string]bytecode.Hash),
	}
}

// Put stores m.
func (s *MemoryStore) Put(name string, m *bytecode.Module) (Entry, error) {
	data := m.Serialize()
	e := newEntry(name, m, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrClosed
	}

	if old, ok := s.entries[e.Hash]; ok {
		e.Stored = old.Stored
		if name == "" {
			e.Name = old.Name
		}
	}
	if name != "" {
		if prev, ok := s.names[name]; ok && prev != e.Hash {
			s.clearName(prev, name)
		}
		s.names[name] = e.Hash
	}
	s.modules[e.Hash] = data
	s.entries[e.Hash] = e
	return e, nil
}

// clearName drops name from the entry for h.
func (s *MemoryStore) clearName(h bytecode.Hash, name string) {
	if e, ok := s.entries[h]; ok && e.Name == name {
		e.Name = ""
		s.entries[h] = e
	}
}

// Get returns the module with hash h.
func (s *MemoryStore) Get(h bytecode.Hash) (*bytecode.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.modules[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	return bytecode.Deserialize(data)
}

// Has reports whether h is stored.
func (s *MemoryStore) Has(h bytecode.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.modules[h]
	return ok && !s.closed
}

// Resolve maps a hash string or name to a stored hash.
func (s *MemoryStore) Resolve(ref string) (bytecode.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return bytecode.Hash{}, ErrClosed
	}
	if h, ok := s.names[ref]; ok {
		return h, nil
	}
	if h, err := bytecode.ParseHash(ref); err == nil {
		if _, ok := s.modules[h]; ok {
			return h, nil
		}
	}
	return bytecode.Hash{}, fmt.Errorf("%w: %q", ErrNotFound, ref)
}

// List returns every entry.
func (s *MemoryStore) List() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

// Delete removes h.
func (s *MemoryStore) Delete(h bytecode.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.modules[h]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	delete(s.modules, h)
	delete(s.entries, h)
	for name, target := range s.names {
		if target == h {
			delete(s.names, name)
		}
	}
	return nil
}

// Close releases the store. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.modules = nil
	s.entries = nil
	s.names = nil
	s.mu.Unlock()
	return nil
}

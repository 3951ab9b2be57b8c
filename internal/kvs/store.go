package kvs

import (
	"errors"
	"fmt"
	"sync"
)

// MaxStringSize is the maximum length in bytes of a key or a value.
const MaxStringSize = 40

var (
	// ErrInvalidKey is returned for keys that are empty, too long or do not
	// start with a letter or digit.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidValue is returned for values longer than MaxStringSize.
	ErrInvalidValue = errors.New("invalid value")
	// ErrClosed is returned by operations on a store that was closed.
	ErrClosed = errors.New("store is closed")
)

// Entry is one key/value pair of a snapshot.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (e Entry) String() string {
	return fmt.Sprintf("(%s, %s)", e.Key, e.Value)
}

// Store is the key-value store shared by every worker.
// A single mutex guards the whole table and is held for one key operation at a time.
type Store struct {
	mu     sync.Mutex
	table  table
	closed bool
}

func New() *Store {
	return &Store{}
}

// Write inserts key or overwrites its value.
func (s *Store) Write(key, value string) error {
	idx, ok := bucketIndex(key)
	if !ok || len(key) > MaxStringSize {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if len(value) > MaxStringSize {
		return fmt.Errorf("%w: value for %q exceeds %d bytes", ErrInvalidValue, key, MaxStringSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.table.put(idx, key, value)
	return nil
}

// Read returns the value of key and whether it was present.
func (s *Store) Read(key string) (string, bool) {
	idx, ok := bucketIndex(key)
	if !ok {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false
	}
	return s.table.get(idx, key)
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	idx, ok := bucketIndex(key)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.table.remove(idx, key)
}

// Snapshot returns every live entry in bucket order, read under one lock
// acquisition so the result is a consistent point-in-time view.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	return s.table.entries()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.size
}

// Close releases the table. It returns ErrClosed if called twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.table.clear()
	s.closed = true
	return nil
}

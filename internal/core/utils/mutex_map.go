package utils

import (
	"errors"
	"fmt"
	"sync"
)

var ErrTooManyKeys = errors.New("mutex map is full")

type keyLock struct {
	mu      sync.Mutex
	holders int
}

// MutexMap serializes work per key. Entries are created on first Lock and removed once the
// last holder or waiter unlocks, so the map only holds keys that are in use.
type MutexMap struct {
	edit    sync.Mutex
	locks   map[string]*keyLock
	maxSize int
}

func NewMutexMap(maxSize int) *MutexMap {
	return &MutexMap{
		locks:   make(map[string]*keyLock),
		maxSize: maxSize,
	}
}

// Lock blocks until the key is free. It fails without blocking if the key is new and maxSize
// distinct keys are already in use.
func (m *MutexMap) Lock(key string) error {
	m.edit.Lock()
	entry := m.locks[key]
	if entry == nil {
		if len(m.locks) >= m.maxSize {
			m.edit.Unlock()
			return fmt.Errorf("%w: %d keys in use", ErrTooManyKeys, m.maxSize)
		}
		entry = &keyLock{}
		m.locks[key] = entry
	}
	entry.holders++
	m.edit.Unlock()

	entry.mu.Lock()
	return nil
}

func (m *MutexMap) Unlock(key string) error {
	m.edit.Lock()
	defer m.edit.Unlock()

	entry := m.locks[key]
	if entry == nil {
		return fmt.Errorf("key %s not found", key)
	}

	entry.mu.Unlock()
	entry.holders--
	if entry.holders == 0 {
		delete(m.locks, key)
	}
	return nil
}

// Len is the number of keys currently locked or waited on.
func (m *MutexMap) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.locks)
}

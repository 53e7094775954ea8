package kv

import (
	"errors"
	"sync"
)

// ErrUnavailable is returned by a disabled Memory backend.
var ErrUnavailable = errors.New("storage unavailable")

// ErrQuotaExceeded is returned when a write would exceed the byte quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Memory is an in-process Storage with optional fault injection.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]string
	disabled bool
	quota    int
	failSet  error
	failGet  error
	failRm   error
}

// NewMemory returns an empty, enabled in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// SetDisabled makes every operation fail with ErrUnavailable.
func (m *Memory) SetDisabled(disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = disabled
}

// SetQuota limits the total size of keys and values in bytes. Zero disables
// the limit.
func (m *Memory) SetQuota(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = bytes
}

// FailOn injects errors for individual operations. A nil error clears it.
func (m *Memory) FailOn(get, set, remove error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet, m.failSet, m.failRm = get, set, remove
}

// Get implements Storage.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disabled {
		return "", false, ErrUnavailable
	}
	if m.failGet != nil {
		return "", false, m.failGet
	}
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements Storage.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrUnavailable
	}
	if m.failSet != nil {
		return m.failSet
	}
	if m.quota > 0 {
		size := len(key) + len(value)
		for k, v := range m.data {
			if k != key {
				size += len(k) + len(v)
			}
		}
		if size > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.data[key] = value
	return nil
}

// Remove implements Storage.
func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrUnavailable
	}
	if m.failRm != nil {
		return m.failRm
	}
	delete(m.data, key)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Raw returns the stored value without fault injection, for inspection.
func (m *Memory) Raw(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

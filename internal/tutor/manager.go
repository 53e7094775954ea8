package tutor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gustawsonb-collab/gadugator/internal/kv"
	"golang.org/x/sync/singleflight"
)

// StorageFunc returns the storage backend of a device.
type StorageFunc func(deviceID string) kv.Storage

// Manager holds the live session of every active device.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	group    singleflight.Group

	storageFor StorageFunc
	deps       Deps
	opts       Options
}

// NewManager creates a session manager.
func NewManager(storageFor StorageFunc, deps Deps, opts Options) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		storageFor: storageFor,
		deps:       deps.withDefaults(),
		opts:       opts.withDefaults(),
	}
}

// Get returns the session of deviceID, hydrating it on first use. Concurrent
// first requests for the same device share one hydration.
func (m *Manager) Get(ctx context.Context, deviceID string) (*Session, error) {
	if s := m.Lookup(deviceID); s != nil {
		return s, nil
	}

	v, err, _ := m.group.Do(deviceID, func() (any, error) {
		if s := m.Lookup(deviceID); s != nil {
			return s, nil
		}
		var storage kv.Storage
		if m.storageFor != nil {
			storage = m.storageFor(deviceID)
		}
		s := NewSession(deviceID, storage, m.deps, m.opts)

		m.mu.Lock()
		m.sessions[deviceID] = s
		m.mu.Unlock()

		m.deps.Metrics.SessionOpened(ctx)
		slog.Info("Tutor session registered", "device_id", deviceID)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Lookup returns the live session of deviceID, or nil.
func (m *Manager) Lookup(deviceID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[deviceID]
}

// Remove closes and forgets the session of deviceID.
func (m *Manager) Remove(deviceID string) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	if ok {
		delete(m.sessions, deviceID)
	}
	m.mu.Unlock()

	if ok {
		s.Close()
		m.deps.Metrics.SessionClosed(context.Background())
		slog.Info("Tutor session closed", "device_id", deviceID)
	}
}

// EvictIdle closes sessions inactive for at least idle that are not busy. It
// returns the evicted device ids. State stays in storage and is hydrated
// again on the next request.
func (m *Manager) EvictIdle(idle time.Duration) []string {
	now := m.opts.Clock()

	m.mu.RLock()
	var candidates []string
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) >= idle && !s.Busy() {
			candidates = append(candidates, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range candidates {
		m.Remove(id)
	}
	return candidates
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Remove(id)
	}
}

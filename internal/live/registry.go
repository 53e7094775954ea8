// Package live serves the WebSocket channel of a device session: text
// frames carry commands and events, binary frames carry recorded audio in
// and synthesized speech out.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Registry tracks the open connections of every device. A device may have
// several tabs open.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a connection for a device.
func (m *Registry) Register(deviceID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[deviceID]; !exists {
		m.active[deviceID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := m.active[deviceID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	m.active[deviceID][connID] = conn
	slog.Info("Live connection registered", "device_id", deviceID, "conn_id", connID)
}

// Unregister removes a connection if it is still the registered one.
func (m *Registry) Unregister(deviceID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[deviceID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, deviceID)
			}
			slog.Info("Live connection unregistered", "device_id", deviceID, "conn_id", connID)
		}
	}
}

// CloseAll closes every connection.
func (m *Registry) CloseAll() {
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]map[string]*websocket.Conn)
	m.mu.Unlock()

	for _, conns := range active {
		for _, conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}

// Len returns the number of open connections.
func (m *Registry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, conns := range m.active {
		n += len(conns)
	}
	return n
}

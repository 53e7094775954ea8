// Package kv provides the best-effort key-value capability that backs all
// per-device state (transcript, preferences, usage, settings).
package kv

import (
	"fmt"
	"log/slog"
)

// Storage is a string key-value backend. Implementations may fail on any
// operation; callers that must never observe failures wrap them with Safe.
type Storage interface {
	// Get returns the value stored under key and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores value under key.
	Set(key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// Safe is a fault-tolerant adapter around a possibly absent Storage.
// Every failure (error or panic) degrades to a default and is logged.
type Safe struct {
	backend Storage
	logger  *slog.Logger
}

// NewSafe wraps backend. A nil backend behaves like an unavailable store.
func NewSafe(backend Storage, logger *slog.Logger) *Safe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Safe{backend: backend, logger: logger}
}

// Get returns the stored value, or ("", false) when the key is missing or
// the backend failed.
func (s *Safe) Get(key string) (value string, ok bool) {
	if s == nil || s.backend == nil {
		return "", false
	}
	err := s.guard("get", key, func() error {
		var err error
		value, ok, err = s.backend.Get(key)
		return err
	})
	if err != nil {
		return "", false
	}
	return value, ok
}

// Set stores value and reports whether the write succeeded.
func (s *Safe) Set(key, value string) bool {
	if s == nil || s.backend == nil {
		return false
	}
	return s.guard("set", key, func() error {
		return s.backend.Set(key, value)
	}) == nil
}

// Remove deletes key and reports whether the backend accepted it.
func (s *Safe) Remove(key string) bool {
	if s == nil || s.backend == nil {
		return false
	}
	return s.guard("remove", key, func() error {
		return s.backend.Remove(key)
	}) == nil
}

func (s *Safe) guard(op, key string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("storage %s panicked: %v", op, r)
			s.logger.Warn("Storage operation panicked", "op", op, "key", key, "error", err)
		}
	}()
	if err = fn(); err != nil {
		s.logger.Debug("Storage operation failed", "op", op, "key", key, "error", err)
	}
	return err
}

// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/gustawsonb-collab/gadugator/internal/domain"
)

// Repository persists the device registry and per-device key-value state.
type Repository interface {
	// GetDevice retrieves a device by id. It returns (nil, nil) when unknown.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// UpsertDevice creates or updates a device record.
	UpsertDevice(ctx context.Context, device *domain.Device) error

	// TouchDevice updates the last_seen_at timestamp for a device.
	TouchDevice(ctx context.Context, deviceID string, lastSeen time.Time) error

	// GetValue reads one key of a device. ok is false when the key is absent.
	GetValue(ctx context.Context, deviceID, key string) (value string, ok bool, err error)

	// PutValue writes one key of a device.
	PutValue(ctx context.Context, deviceID, key, value string) error

	// DeleteValue removes one key of a device.
	DeleteValue(ctx context.Context, deviceID, key string) error

	// DeleteStaleDevices removes devices (and their state) not seen since
	// olderThan ago. It returns the number of devices removed.
	DeleteStaleDevices(ctx context.Context, olderThan time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

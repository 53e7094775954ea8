package store

import (
	"context"
	"time"

	"github.com/gustawsonb-collab/gadugator/internal/shared"
)

// DefaultOpTimeout bounds a single DeviceStorage operation.
const DefaultOpTimeout = 2 * time.Second

// DeviceStorage exposes the state of one device as a kv.Storage.
type DeviceStorage struct {
	repo     Repository
	deviceID string
	timeout  time.Duration
	retry    shared.RetryPolicy
}

// NewDeviceStorage scopes repo to deviceID.
func NewDeviceStorage(repo Repository, deviceID string, timeout time.Duration) *DeviceStorage {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return &DeviceStorage{
		repo:     repo,
		deviceID: deviceID,
		timeout:  timeout,
		retry:    shared.DefaultRetryPolicy,
	}
}

// Get implements kv.Storage.
func (d *DeviceStorage) Get(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := d.run("get", func(ctx context.Context) error {
		var err error
		value, ok, err = d.repo.GetValue(ctx, d.deviceID, key)
		return err
	})
	return value, ok, err
}

// Set implements kv.Storage.
func (d *DeviceStorage) Set(key, value string) error {
	return d.run("set", func(ctx context.Context) error {
		return d.repo.PutValue(ctx, d.deviceID, key, value)
	})
}

// Remove implements kv.Storage.
func (d *DeviceStorage) Remove(key string) error {
	return d.run("remove", func(ctx context.Context) error {
		return d.repo.DeleteValue(ctx, d.deviceID, key)
	})
}

func (d *DeviceStorage) run(op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return shared.RetryOnConflict(ctx, d.retry, "device storage "+op, fn)
}

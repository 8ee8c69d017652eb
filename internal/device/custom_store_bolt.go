package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketCustomDevices = []byte("custom_devices")

// BoltCustomDeviceStore implements CustomDeviceStore in a bbolt file, for
// installations that run without the SQLite database.
type BoltCustomDeviceStore struct {
	db *bolt.DB
}

// NewBoltCustomDeviceStore opens or creates the bbolt file at path.
func NewBoltCustomDeviceStore(path string) (*BoltCustomDeviceStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCustomDevices)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltCustomDeviceStore{db: db}, nil
}

// Close releases the file lock.
func (s *BoltCustomDeviceStore) Close() error {
	return s.db.Close()
}

// List returns every stored device ordered by creation time.
func (s *BoltCustomDeviceStore) List(_ context.Context) ([]CustomDevice, error) {
	var devices []CustomDevice
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomDevices)
		if b == nil {
			return nil
		}
		devices = make([]CustomDevice, 0, b.Stats().KeyN)
		return b.ForEach(func(_, v []byte) error {
			var d CustomDevice
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			devices = append(devices, d)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing custom devices: %w", err)
	}

	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].CreatedAt.Equal(devices[j].CreatedAt) {
			return devices[i].ID < devices[j].ID
		}
		return devices[i].CreatedAt.Before(devices[j].CreatedAt)
	})
	return devices, nil
}

// Save inserts a device.
func (s *BoltCustomDeviceStore) Save(_ context.Context, d CustomDevice) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketCustomDevices)
		}
		if b.Get([]byte(d.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put([]byte(d.ID), data)
	})
}

// Delete removes a device.
func (s *BoltCustomDeviceStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomDevices)
		if b == nil || b.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return b.Delete([]byte(id))
	})
}

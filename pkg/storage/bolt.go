package storage

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var (
	instancesBucket = []byte("instances")
	settingsBucket  = []byte("settings")
)

// BoltStorage implements Storage interface using BoltDB
type BoltStorage struct {
	db      *bolt.DB
	dataDir string
}

// NewBoltStorage creates a new BoltDB-backed storage
func NewBoltStorage(path string, dataDir string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{instancesBucket, settingsBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStorage{db: db, dataDir: dataDir}, nil
}

// Close closes the database
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// DataDir returns the data directory
func (s *BoltStorage) DataDir() string {
	return s.dataDir
}

// Instance operations

// CreateInstance stores a new instance
func (s *BoltStorage) CreateInstance(inst *InstanceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(instancesBucket)
		data, err := msgpack.Marshal(inst)
		if err != nil {
			return err
		}
		return b.Put([]byte(inst.ID), data)
	})
}

// GetInstance retrieves an instance by ID
func (s *BoltStorage) GetInstance(id string) (*InstanceRecord, error) {
	var inst InstanceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(instancesBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("instance not found: %s", id)
		}
		return msgpack.Unmarshal(data, &inst)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// GetInstanceByName retrieves an instance by name
func (s *BoltStorage) GetInstanceByName(name string) (*InstanceRecord, error) {
	var inst *InstanceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(instancesBucket)
		return b.ForEach(func(k, v []byte) error {
			var i InstanceRecord
			if err := msgpack.Unmarshal(v, &i); err != nil {
				return err
			}
			if i.Name == name {
				inst = &i
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("instance not found: %s", name)
	}
	return inst, nil
}

// ListInstances returns all instances
func (s *BoltStorage) ListInstances() []*InstanceRecord {
	var instances []*InstanceRecord
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(instancesBucket)
		return b.ForEach(func(k, v []byte) error {
			var inst InstanceRecord
			if err := msgpack.Unmarshal(v, &inst); err != nil {
				return err
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	return instances
}

// UpdateInstance updates an existing instance
func (s *BoltStorage) UpdateInstance(inst *InstanceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(instancesBucket)
		if b.Get([]byte(inst.ID)) == nil {
			return fmt.Errorf("instance not found: %s", inst.ID)
		}
		data, err := msgpack.Marshal(inst)
		if err != nil {
			return err
		}
		return b.Put([]byte(inst.ID), data)
	})
}

// DeleteInstance removes an instance
func (s *BoltStorage) DeleteInstance(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(instancesBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("instance not found: %s", id)
		}
		return b.Delete([]byte(id))
	})
}

// Settings operations

// GetSetting retrieves a setting value
func (s *BoltStorage) GetSetting(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("setting not found: %s", key)
		}
		value = string(data)
		return nil
	})
	return value, err
}

// SetSetting stores a setting value
func (s *BoltStorage) SetSetting(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		return b.Put([]byte(key), []byte(value))
	})
}

package invoice

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const snapshotBucket = "snapshots"

// Snapshot is the combined persisted record for one processed invoice:
// the structured result, the raw per-region results, a processing
// timestamp and the source path.
type Snapshot struct {
	Structured     *StructuredInvoice `json:"structured_data"`
	RawResults     RegionResults      `json:"raw_results"`
	ProcessingTime string             `json:"processing_time"`
	SourceImage    string             `json:"source_image"`
}

// SnapshotStore defines the interface for persisting processing snapshots.
type SnapshotStore interface {
	// SaveSnapshot persists a snapshot under the given key.
	SaveSnapshot(key string, snapshot *Snapshot) error

	// GetSnapshot retrieves a snapshot by key.
	GetSnapshot(key string) (*Snapshot, error)

	// ListKeys returns the keys of all snapshots with the given prefix.
	ListKeys(prefix string) ([]string, error)

	// Close closes the store.
	Close() error
}

// BoltSnapshots implements SnapshotStore using BoltDB.
type BoltSnapshots struct {
	db *bbolt.DB
}

// NewBoltSnapshots creates a new BoltSnapshots instance.
func NewBoltSnapshots(path string) (*BoltSnapshots, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltSnapshots{db: db}, nil
}

// SaveSnapshot persists a snapshot under the given key.
func (b *BoltSnapshots) SaveSnapshot(key string, snapshot *Snapshot) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshaling snapshot: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
}

// GetSnapshot retrieves a snapshot by key.
func (b *BoltSnapshots) GetSnapshot(key string) (*Snapshot, error) {
	var snapshot *Snapshot
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		data := bucket.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("snapshot not found: %s", key)
		}
		return json.Unmarshal(data, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ListKeys returns the keys of all snapshots with the given prefix.
func (b *BoltSnapshots) ListKeys(prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		return bucket.ForEach(func(k, v []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes the database connection.
func (b *BoltSnapshots) Close() error {
	return b.db.Close()
}

package checkpoint

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/CodingButter/agent-supervisor/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketAgents = []byte("agents")

// Record is the durable snapshot of one agent's last-known lifecycle
// state. pkg/supervisor writes it at spawn, on an unexpected exit and on
// kill; other transitions are not written.
type Record struct {
	Config      types.AgentConfig  `json:"config"`
	State       types.StateRecord  `json:"state"`
	CheckpointedAt time.Time       `json:"checkpointedAt"`
}

// Store is a BoltDB-backed, agent-id-keyed checkpoint ledger.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the checkpoint database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "checkpoint.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAgents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the record for cfg.ID.
func (s *Store) Save(cfg types.AgentConfig, state types.StateRecord) error {
	rec := Record{Config: cfg, State: state, CheckpointedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Put([]byte(cfg.ID), data)
	})
}

// Load returns the last checkpointed record for id, if any.
func (s *Store) Load(id string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgents).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// List returns every checkpointed record, in no particular order.
func (s *Store) List() ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("checkpoint: unmarshal record %s: %w", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// Delete removes the checkpoint for id. Deleting an id that is not
// present is not an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Delete([]byte(id))
	})
}

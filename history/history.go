// Package history records every instance status transition the watcher
// observes, revisioned etcd-style: an append-only bbolt log keyed by
// revision plus an in-memory btree index for current-state lookups. It
// exists for inspection ("what happened to this instance") and is
// optional: a nil *Store drops everything, and the registry never reads
// from it.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/vahti/types"
)

// Bucket names in bbolt
var (
	bucketTransitions = []byte("transitions")
	bucketMeta        = []byte("meta")
)

var keyCurrentRevision = []byte("current_revision")

// Store is the revisioned transition log.
type Store struct {
	mu sync.RWMutex

	// In-memory index for fast current-state lookups
	index *btree.BTreeG[*InstanceState]

	// On-disk log
	db *bbolt.DB

	currentRev int64
	dir        string
}

// InstanceState tracks an instance's latest known state in the index.
type InstanceState struct {
	Name         string
	Status       types.InstanceStatus
	FirstSeenRev int64
	LastSeenRev  int64
	RemovedRev   int64
	Exists       bool
}

// Transition is one logged status change.
type Transition struct {
	Revision    int64                `json:"revision"`
	Name        string               `json:"name"`
	Status      types.InstanceStatus `json:"status,omitempty"`
	OperationID string               `json:"operation_id,omitempty"`
	Removed     bool                 `json:"removed,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

// Open creates or reopens a history store in dir.
func Open(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "vahti.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketTransitions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{
		index: btree.NewG[*InstanceState](32, func(a, b *InstanceState) bool {
			return a.Name < b.Name
		}),
		db:  db,
		dir: dir,
	}

	store.loadRevision()
	if err := store.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	return store, nil
}

// Close closes the store
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordTransition logs that an instance reached a status, optionally
// attributed to an operation id. Returns the new revision.
func (s *Store) RecordTransition(name string, status types.InstanceStatus, operationID string) (int64, error) {
	if s == nil {
		return 0, nil
	}
	return s.record(Transition{Name: name, Status: status, OperationID: operationID})
}

// RecordRemoval logs that an instance disappeared.
func (s *Store) RecordRemoval(name string) (int64, error) {
	if s == nil {
		return 0, nil
	}
	return s.record(Transition{Name: name, Removed: true})
}

// RecordBatch logs the status of many instances under one revision.
// Used for the initial snapshot.
func (s *Store) RecordBatch(instances []types.Instance) (int64, error) {
	if s == nil || len(instances) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentRev++
	rev := s.currentRev
	now := time.Now()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTransitions)
		for _, inst := range instances {
			tr := Transition{Revision: rev, Name: inst.Name, Status: inst.Status, Timestamp: now}
			value, err := json.Marshal(tr)
			if err != nil {
				return err
			}
			if err := bucket.Put(makeTransitionKey(rev, inst.Name), value); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(rev))
	})
	if err != nil {
		return 0, err
	}

	for _, inst := range instances {
		s.updateIndex(Transition{Revision: rev, Name: inst.Name, Status: inst.Status})
	}
	return rev, nil
}

func (s *Store) record(tr Transition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentRev++
	tr.Revision = s.currentRev
	tr.Timestamp = time.Now()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(tr)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransitions).Put(makeTransitionKey(tr.Revision, tr.Name), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyCurrentRevision, int64ToBytes(tr.Revision))
	})
	if err != nil {
		return 0, err
	}

	s.updateIndex(tr)
	return tr.Revision, nil
}

// State returns the latest indexed state for an instance.
func (s *Store) State(name string) (*InstanceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, found := s.index.Get(&InstanceState{Name: name})
	if !found {
		return nil, fmt.Errorf("instance %s not found in history", name)
	}

	out := *existing
	return &out, nil
}

// All returns the latest indexed state of every instance ever seen.
func (s *Store) All() []*InstanceState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*InstanceState
	s.index.Ascend(func(state *InstanceState) bool {
		out := *state
		results = append(results, &out)
		return true
	})
	return results
}

// Timeline returns every logged transition for an instance, oldest first.
func (s *Store) Timeline(name string) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var timeline []Transition
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketTransitions).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			_, keyName := parseTransitionKey(k)
			if keyName != name {
				continue
			}
			var tr Transition
			if err := json.Unmarshal(v, &tr); err != nil {
				return err
			}
			timeline = append(timeline, tr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return timeline, nil
}

// CurrentRevision returns the current revision number
func (s *Store) CurrentRevision() int64 {
	if s == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Compact removes transitions older than the last keepRevisions revisions.
func (s *Store) Compact(keepRevisions int64) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.currentRev - keepRevisions
	if cutoff <= 0 {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTransitions)
		c := bucket.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			rev, _ := parseTransitionKey(k)
			if rev < cutoff {
				toDelete = append(toDelete, k)
			}
		}
		for _, key := range toDelete {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Helper functions

func (s *Store) updateIndex(tr Transition) {
	existing, found := s.index.Get(&InstanceState{Name: tr.Name})
	if !found {
		existing = &InstanceState{
			Name:         tr.Name,
			FirstSeenRev: tr.Revision,
		}
	}

	existing.LastSeenRev = tr.Revision
	if tr.Removed {
		existing.Exists = false
		existing.RemovedRev = tr.Revision
	} else {
		existing.Exists = true
		existing.Status = tr.Status
	}

	s.index.ReplaceOrInsert(existing)
}

func (s *Store) loadRevision() {
	_ = s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return nil
		}
		if data := bucket.Get(keyCurrentRevision); data != nil {
			s.currentRev = bytesToInt64(data)
		}
		return nil
	})
}

// rebuildIndex replays the transition log, oldest revision first, so the
// index survives restarts.
func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketTransitions).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var tr Transition
			if err := json.Unmarshal(v, &tr); err != nil {
				return err
			}
			s.updateIndex(tr)
		}
		return nil
	})
}

func makeTransitionKey(rev int64, name string) []byte {
	return []byte(fmt.Sprintf("%016d:%s", rev, name))
}

func parseTransitionKey(key []byte) (int64, string) {
	k := string(key)
	idx := strings.IndexByte(k, ':')
	if idx < 0 {
		return 0, k
	}
	rev, _ := strconv.ParseInt(k[:idx], 10, 64)
	return rev, k[idx+1:]
}

func int64ToBytes(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)) // #nosec G115 -- revisions never go negative
	return buf
}

func bytesToInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b)) // #nosec G115
}

// Package bolt persists parameter snapshots in a single bbolt file.
package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/davidbz/hostmeter/internal/domain"
	"github.com/davidbz/hostmeter/internal/observability"
	"github.com/davidbz/hostmeter/internal/store"
)

var (
	// bucketSnapshots maps a sequence number to an encoded snapshot.
	bucketSnapshots = []byte("snapshots")
	// bucketRunIndex maps a run id to its sequence number.
	bucketRunIndex = []byte("run_index")
)

// Store implements domain.ParamsStore on bbolt. Snapshots are keyed by an
// increasing sequence so cursor order is save order.
type Store struct {
	db *bolt.DB
}

var _ domain.ParamsStore = (*Store)(nil)

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSnapshots, bucketRunIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("init buckets: %w", err), db.Close())
	}

	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func sequenceKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

// Save appends snap.
func (s *Store) Save(ctx context.Context, snap *domain.ParamsSnapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}

	data, err := store.Encode(snap)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		snapshots := tx.Bucket(bucketSnapshots)
		seq, err := snapshots.NextSequence()
		if err != nil {
			return err
		}
		key := sequenceKey(seq)
		if err := snapshots.Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(bucketRunIndex).Put([]byte(snap.RunID.String()), key)
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	observability.FromContext(ctx).Debug("snapshot saved",
		observability.String("run_id", snap.RunID.String()),
		observability.Int("bytes", len(data)))
	return nil
}

// Latest returns the last saved snapshot.
func (s *Store) Latest(_ context.Context) (*domain.ParamsSnapshot, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucketSnapshots).Cursor().Last()
		if v == nil {
			return domain.ErrSnapshotNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store.Decode(data)
}

// Get returns the snapshot saved under runID.
func (s *Store) Get(_ context.Context, runID string) (*domain.ParamsSnapshot, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketRunIndex).Get([]byte(runID))
		if key == nil {
			return fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, runID)
		}
		v := tx.Bucket(bucketSnapshots).Get(key)
		if v == nil {
			return fmt.Errorf("%w: dangling index for %s", domain.ErrSnapshotNotFound, runID)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store.Decode(data)
}

// List returns the run ids in save order.
func (s *Store) List(_ context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, v []byte) error {
			snap, err := store.Decode(v)
			if err != nil {
				return err
			}
			ids = append(ids, snap.RunID.String())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

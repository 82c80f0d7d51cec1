package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"articlerec/repository"

	bolt "go.etcd.io/bbolt"
)

var runsBucket = []byte("runs")

var _ repository.RunLedger = (*RunLedger)(nil)

// RunLedger keeps vectorization run records keyed by start time, so a
// cursor walk returns them in chronological order.
type RunLedger struct {
	db *bolt.DB
}

func Open(path string) (*RunLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for BoltDB: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &RunLedger{db: db}, nil
}

func (l *RunLedger) Record(ctx context.Context, run *repository.RunRecord) error {
	val, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("ledger: encode run %s: %w", run.RunID, err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).Put(runKey(run), val)
	})
}

// Recent returns up to n runs, newest first.
func (l *RunLedger) Recent(ctx context.Context, n int) ([]repository.RunRecord, error) {
	var runs []repository.RunRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)
		runs = make([]repository.RunRecord, 0, min(max(n, 0), b.Stats().KeyN))
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(runs) < n; k, v = c.Prev() {
			var run repository.RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("ledger: decode %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (l *RunLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// fixed-width UTC timestamps sort lexically
func runKey(run *repository.RunRecord) []byte {
	ts := run.StartedAt.UTC().Format("2006-01-02T15:04:05.000000000Z")
	return []byte(ts + "/" + run.RunID)
}

package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kbqa/kbqa/engine/domain"
)

// BoltFile is the database file created inside the vector store directory.
const BoltFile = "vectors.db"

// BoltStore keeps one collection per bucket in a single bbolt file and
// answers queries with an exact cosine scan.
type BoltStore struct {
	db     *bbolt.DB
	name   string
	bucket []byte
}

// OpenBolt opens (or creates) dir/vectors.db and the named collection bucket.
// bbolt holds an exclusive file lock, so only one process may open the
// directory at a time.
func OpenBolt(dir, name string) (*BoltStore, error) {
	if name == "" {
		return nil, domain.Configurationf("semantic.bolt", "collection name is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("semantic: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, BoltFile)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("semantic: open %s: %w", path, err)
	}
	s := &BoltStore{db: db, name: name, bucket: []byte(name)}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("semantic: create collection %s: %w", name, err)
	}
	return s, nil
}

// Name implements Collection.
func (s *BoltStore) Name() string { return s.name }

// Close releases the file lock.
func (s *BoltStore) Close() error { return s.db.Close() }

// Upsert writes every record in one transaction. Existing ids are replaced.
func (s *BoltStore) Upsert(ctx context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := validateRecords("semantic.upsert", records); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		for _, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode %s: %w", r.ID, err)
			}
			if err := b.Put([]byte(r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d records: %w", len(records), err)
	}
	return nil
}

type scored struct {
	id  string
	ctx domain.Context
}

// Query scans the bucket and returns the k nearest records.
func (s *BoltStore) Query(ctx context.Context, embedding []float32, k int) ([]domain.Context, error) {
	if err := checkK("semantic.query", k); err != nil {
		return nil, err
	}
	var hits []scored
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(key, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r domain.ChunkRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			d, err := cosineDistance(embedding, r.Embedding)
			if err != nil {
				return domain.Configurationf("semantic.query", "record %s: %v", r.ID, err)
			}
			hits = append(hits, scored{id: r.ID, ctx: domain.Context{Text: r.Text, Metadata: r.Metadata, Distance: d}})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: query: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].ctx.Distance != hits[j].ctx.Distance {
			return hits[i].ctx.Distance < hits[j].ctx.Distance
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]domain.Context, len(hits))
	for i, h := range hits {
		out[i] = h.ctx
	}
	return out, nil
}

// Peek returns the first limit records in key order.
func (s *BoltStore) Peek(ctx context.Context, limit int) ([]domain.ChunkRecord, error) {
	if limit < 1 {
		return nil, nil
	}
	var out []domain.ChunkRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.First(); k != nil && len(out) < limit; k, v = c.Next() {
			var r domain.ChunkRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			r.Embedding = nil
			out = append(out, r)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: peek: %w", err)
	}
	return out, nil
}

// Count returns the number of keys in the bucket.
func (s *BoltStore) Count(_ context.Context) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return n, nil
}

// Reset drops and recreates the collection bucket.
func (s *BoltStore) Reset(_ context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("semantic: reset %s: %w", s.name, err)
	}
	return nil
}

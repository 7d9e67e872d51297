package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/cadence/pkg/lifecycle"
	"github.com/cuemby/cadence/pkg/replay"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketModels      = []byte("models")
	bucketVersions    = []byte("versions")
	bucketExperiences = []byte("experiences")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketModels, bucketVersions, bucketExperiences} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Model operations

func (s *BoltStore) SaveModel(rec ModelRecord) error {
	if rec.Kind == "" || rec.Active == nil {
		return fmt.Errorf("failed to save model: kind and active version are required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode model %s: %w", rec.Kind, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketModels).Put([]byte(rec.Kind), data)
	})
}

func (s *BoltStore) GetModel(kind string) (ModelRecord, error) {
	var rec ModelRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketModels).Get([]byte(kind))
		if data == nil {
			return fmt.Errorf("model %s: %w", kind, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

func (s *BoltStore) ListModels() ([]ModelRecord, error) {
	var recs []ModelRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketModels).ForEach(func(k, v []byte) error {
			var rec ModelRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode model %s: %w", k, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

// Version history operations. Each kind has a nested bucket keyed by a
// big-endian sequence number, so iteration order is insertion order.

func seqKey(n uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n)
	return key
}

func (s *BoltStore) AppendVersion(v *lifecycle.ModelVersion) error {
	if v == nil || v.Kind == "" {
		return fmt.Errorf("failed to append version: kind is required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode version %s: %w", v.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketVersions).CreateBucketIfNotExists([]byte(v.Kind))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

func (s *BoltStore) ListVersions(kind string) ([]*lifecycle.ModelVersion, error) {
	var versions []*lifecycle.ModelVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions).Bucket([]byte(kind))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var mv lifecycle.ModelVersion
			if err := json.Unmarshal(v, &mv); err != nil {
				return fmt.Errorf("failed to decode version: %w", err)
			}
			versions = append(versions, &mv)
			return nil
		})
	})
	return versions, err
}

// PruneVersions keeps the newest keep versions of kind and returns how
// many were removed.
func (s *BoltStore) PruneVersions(kind string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions).Bucket([]byte(kind))
		if b == nil {
			return nil
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		if len(keys) <= keep {
			return nil
		}
		for _, k := range keys[:len(keys)-keep] {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Experience operations

func (s *BoltStore) SaveExperiences(name string, exps []replay.Experience) error {
	if exps == nil {
		exps = []replay.Experience{}
	}
	data, err := json.Marshal(exps)
	if err != nil {
		return fmt.Errorf("failed to encode experiences %s: %w", name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExperiences).Put([]byte(name), data)
	})
}

func (s *BoltStore) LoadExperiences(name string) ([]replay.Experience, error) {
	var exps []replay.Experience
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketExperiences).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("experiences %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &exps)
	})
	return exps, err
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

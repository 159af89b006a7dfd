package slo

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/cuemby/controlplane/pkg/apperrors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSlos         = []byte("slos")
	bucketCalculations = []byte("slo_calculations")
)

// BoltRepository is a SloRepository backed by a bbolt file, one bucket for
// SLO definitions and one for append-only calculation history, reusing the
// bucket-per-entity JSON-marshal-by-ID layout used by the execution store.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (creating if absent) a bbolt database under dataDir.
func NewBoltRepository(dataDir string) (*BoltRepository, error) {
	dbPath := filepath.Join(dataDir, "slo.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.StorageUnavailable, "open slo db", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSlos, bucketCalculations} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.StorageUnavailable, "create slo buckets", err)
	}
	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) Close() error { return r.db.Close() }

func (r *BoltRepository) Insert(s *Slo) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSlos), s.ID, s)
	})
}

func (r *BoltRepository) Update(s *Slo) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSlos)
		if !exists(b, s.ID) {
			return apperrors.ErrNotFound
		}
		return putJSON(b, s.ID, s)
	})
}

func (r *BoltRepository) Get(id string) (*Slo, error) {
	var s Slo
	err := r.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketSlos), id, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BoltRepository) List(serviceName string) ([]*Slo, error) {
	var out []*Slo
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSlos).ForEach(func(_, v []byte) error {
			var s Slo
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if serviceName == "" || s.ServiceName == serviceName {
				out = append(out, &s)
			}
			return nil
		})
	})
	return out, err
}

func (r *BoltRepository) ListByStatus(status Status) ([]*Slo, error) {
	var out []*Slo
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSlos).ForEach(func(_, v []byte) error {
			var s Slo
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if s.Status == status {
				out = append(out, &s)
			}
			return nil
		})
	})
	return out, err
}

func (r *BoltRepository) InsertCalculation(c *Calculation) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return appendCalculation(tx.Bucket(bucketCalculations), c)
	})
}

func (r *BoltRepository) ListCalculations(sloID string, start, end time.Time) ([]*Calculation, error) {
	var all []Calculation
	err := r.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketCalculations), sloID, &all)
	})
	if err != nil && apperrors.KindOf(err) != apperrors.NotFound {
		return nil, err
	}
	var out []*Calculation
	for i := range all {
		if !all[i].ComputedAt.Before(start) && !all[i].ComputedAt.After(end) {
			cp := all[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *BoltRepository) RecentCalculations(sloID string, since time.Time) ([]*Calculation, error) {
	var all []Calculation
	err := r.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketCalculations), sloID, &all)
	})
	if err != nil && apperrors.KindOf(err) != apperrors.NotFound {
		return nil, err
	}
	var out []*Calculation
	for i := range all {
		if all[i].ComputedAt.After(since) {
			cp := all[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *BoltRepository) DeleteOlderThan(cutoff time.Time) (int, error) {
	deleted := 0
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCalculations)
		return b.ForEach(func(k, v []byte) error {
			var all []Calculation
			if err := json.Unmarshal(v, &all); err != nil {
				return err
			}
			remaining := all[:0]
			for _, c := range all {
				if c.ComputedAt.Before(cutoff) {
					deleted++
					continue
				}
				remaining = append(remaining, c)
			}
			return putJSON(b, string(k), remaining)
		})
	})
	return deleted, err
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "marshal slo record", err)
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return apperrors.ErrNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Wrap(apperrors.Internal, "unmarshal slo record", err)
	}
	return nil
}

func exists(b *bolt.Bucket, key string) bool {
	return b.Get([]byte(key)) != nil
}

func appendCalculation(b *bolt.Bucket, c *Calculation) error {
	var entries []Calculation
	data := b.Get([]byte(c.SloID))
	if data != nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			return apperrors.Wrap(apperrors.Internal, "unmarshal slo calculations", err)
		}
	}
	entries = append(entries, *c)
	out, err := json.Marshal(entries)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "marshal slo calculations", err)
	}
	return b.Put([]byte(c.SloID), out)
}

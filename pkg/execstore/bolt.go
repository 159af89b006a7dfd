package execstore

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/cuemby/controlplane/pkg/apperrors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketExecutions = []byte("executions")
	bucketLogs       = []byte("execution_logs")
	bucketProgress   = []byte("execution_progress")
)

// BoltRepository is an ExecutionRepository backed by a bbolt file, one
// bucket per entity and JSON-marshal-by-ID values within each bucket.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (creating if absent) a bbolt database under dataDir.
func NewBoltRepository(dataDir string) (*BoltRepository, error) {
	dbPath := filepath.Join(dataDir, "execstore.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.StorageUnavailable, "open execstore db", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketExecutions, bucketLogs, bucketProgress} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.StorageUnavailable, "create execstore buckets", err)
	}

	return &BoltRepository{db: db}, nil
}

func (s *BoltRepository) Close() error {
	return s.db.Close()
}

func (s *BoltRepository) Insert(exec *Execution) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketExecutions), exec.ExecutionID, exec)
	})
}

func (s *BoltRepository) Get(id string) (*Execution, error) {
	var exec Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketExecutions), id, &exec)
	})
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *BoltRepository) List(filter Filter, srt Sort, page Page) (PageResult, error) {
	var all []*Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
			var e Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if filter.matches(&e) {
				all = append(all, &e)
			}
			return nil
		})
	})
	if err != nil {
		return PageResult{}, apperrors.Wrap(apperrors.StorageUnavailable, "list executions", err)
	}

	less := sortLess(srt, all)
	sortStable(all, less)

	limit := page.Limit
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	start := decodeCursor(page.Cursor)
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	result := PageResult{Executions: all[start:end]}
	if end < len(all) {
		result.NextCursor = encodeCursor(end)
	}
	return result, nil
}

// UpdateStatus transitions status and, when logLine is set, appends it in
// the same bbolt transaction so the pair commits atomically per the
// collaborator contract's "transactions required" clause.
func (s *BoltRepository) UpdateStatus(id string, status Status, output map[string]any, errMsg string, logLine *LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(bucketExecutions)
		var exec Execution
		if err := getJSON(eb, id, &exec); err != nil {
			return err
		}
		if status == StatusQueued && exec.Status == StatusRunning {
			exec.Attempts++
		}
		exec.Status = status
		exec.UpdatedAt = time.Now()
		if output != nil {
			exec.Output = output
		}
		if errMsg != "" {
			exec.Error = errMsg
		}
		if status.Terminal() {
			now := exec.UpdatedAt
			exec.CompletedAt = &now
			exec.LeaseOwner = ""
			exec.LeaseExpires = nil
		}
		if err := putJSON(eb, id, &exec); err != nil {
			return err
		}
		if logLine != nil {
			entry := *logLine
			entry.ExecutionID = id
			return appendLog(tx.Bucket(bucketLogs), id, entry)
		}
		return nil
	})
}

func (s *BoltRepository) AppendLog(id string, entry LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx.Bucket(bucketExecutions), id) {
			return errNotFound
		}
		entry.ExecutionID = id
		return appendLog(tx.Bucket(bucketLogs), id, entry)
	})
}

func (s *BoltRepository) ListLogs(id string, limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketLogs), id, &entries)
	})
	if err != nil && apperrors.KindOf(err) != apperrors.NotFound {
		return nil, err
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (s *BoltRepository) UpsertProgress(id string, progress Progress) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if !exists(tx.Bucket(bucketExecutions), id) {
			return errNotFound
		}
		pb := tx.Bucket(bucketProgress)
		var existing Progress
		if err := getJSON(pb, id, &existing); err == nil {
			if existing.UpdatedAt.After(progress.UpdatedAt) {
				return nil
			}
		}
		progress.ExecutionID = id
		return putJSON(pb, id, &progress)
	})
}

func (s *BoltRepository) GetProgress(id string) (*Progress, error) {
	var p Progress
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketProgress), id, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltRepository) AcquireLease(id, owner string, ttl time.Duration, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(bucketExecutions)
		var exec Execution
		if err := getJSON(eb, id, &exec); err != nil {
			return err
		}
		if exec.LeaseOwner != "" && exec.LeaseOwner != owner && exec.LeaseExpires != nil && exec.LeaseExpires.After(now) {
			return errLeaseConflict
		}
		exec.LeaseOwner = owner
		expiry := now.Add(ttl)
		exec.LeaseExpires = &expiry
		return putJSON(eb, id, &exec)
	})
}

func (s *BoltRepository) RenewLease(id, owner string, ttl time.Duration, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(bucketExecutions)
		var exec Execution
		if err := getJSON(eb, id, &exec); err != nil {
			return err
		}
		if exec.LeaseOwner != owner {
			return errLeaseConflict
		}
		expiry := now.Add(ttl)
		exec.LeaseExpires = &expiry
		return putJSON(eb, id, &exec)
	})
}

func (s *BoltRepository) ReleaseLease(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(bucketExecutions)
		var exec Execution
		if err := getJSON(eb, id, &exec); err != nil {
			return err
		}
		exec.LeaseOwner = ""
		exec.LeaseExpires = nil
		return putJSON(eb, id, &exec)
	})
}

func (s *BoltRepository) ExpiredLeases(now time.Time) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
			var e Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.LeaseOwner != "" && e.LeaseExpires != nil && e.LeaseExpires.Before(now) && !e.Status.Terminal() {
				ids = append(ids, e.ExecutionID)
			}
			return nil
		})
	})
	return ids, err
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "marshal execstore record", err)
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return errNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Wrap(apperrors.Internal, "unmarshal execstore record", err)
	}
	return nil
}

func exists(b *bolt.Bucket, key string) bool {
	return b.Get([]byte(key)) != nil
}

func appendLog(b *bolt.Bucket, id string, entry LogEntry) error {
	var entries []LogEntry
	data := b.Get([]byte(id))
	if data != nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			return apperrors.Wrap(apperrors.Internal, "unmarshal execution log", err)
		}
	}
	entries = append(entries, entry)
	return putJSON(b, id, entries)
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// ErrTaskNotFound is returned when a task is not found in the state store.
	ErrTaskNotFound = errors.New("task not found")
	// ErrSubmissionNotFound is returned when a submission is not in the ledger.
	ErrSubmissionNotFound = errors.New("submission not found")
)

var (
	tasksBucket       = []byte("tasks")
	submissionsBucket = []byte("submissions")
)

// FileState represents the current state of one file copy within a task.
type FileState string

const (
	StatePending    FileState = "Pending"
	StateInProgress FileState = "InProgress"
	StateCompleted  FileState = "Completed"
	StateFailed     FileState = "Failed"
)

// Done reports whether the file copy has finished, successfully or not.
func (s FileState) Done() bool {
	return s == StateCompleted || s == StateFailed
}

// TaskState is the backend-visible status of a task. The values are the
// status strings reported by QueryBulk.
type TaskState string

const (
	TaskActive    TaskState = "ACTIVE"
	TaskSucceeded TaskState = "SUCCEEDED"
	TaskFailed    TaskState = "FAILED"
)

// FileRecord is one file of a task.
type FileRecord struct {
	SourceEndpoint   string    `json:"source_endpoint"`
	SourcePath       string    `json:"source_path"`
	DestEndpoint     string    `json:"dest_endpoint"`
	DestinationPath  string    `json:"destination_path"`
	State            FileState `json:"state"`
	BytesTransferred int64     `json:"bytes_transferred"`
	TotalBytes       int64     `json:"total_bytes"`
	Checksum         uint64    `json:"checksum,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// TaskRecord is a backend task: one submission of one or more files.
type TaskRecord struct {
	ID        string       `json:"id"`
	Label     string       `json:"label,omitempty"`
	State     TaskState    `json:"state"`
	Files     []FileRecord `json:"files"`
	Error     string       `json:"error,omitempty"`
	Submitted time.Time    `json:"submitted"`
	Completed time.Time    `json:"completed,omitempty"`
}

// SubmissionRecord maps an external id to the requests submitted under it.
type SubmissionRecord struct {
	ExternalID string    `json:"external_id"`
	Tool       string    `json:"tool"`
	RequestIDs []string  `json:"request_ids"`
	State      string    `json:"state"`
	Terminal   bool      `json:"terminal"`
	Submitted  time.Time `json:"submitted"`
	Updated    time.Time `json:"updated"`
}

// TaskStore persists backend tasks.
type TaskStore interface {
	SaveTask(task *TaskRecord) error
	GetTask(id string) (*TaskRecord, error)
	UpdateTask(id string, fn func(*TaskRecord) error) (*TaskRecord, error)
	ListTasks(state TaskState) ([]*TaskRecord, error)
}

// Ledger records which requests were submitted under which external id.
type Ledger interface {
	SaveSubmission(rec *SubmissionRecord) error
	GetSubmission(externalID string) (*SubmissionRecord, error)
	ListSubmissions(pendingOnly bool) ([]*SubmissionRecord, error)
}

// Store is the full state store.
type Store interface {
	TaskStore
	Ledger
	Close() error
}

// BoltStore is a Store implementation backed by bbolt.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore creates a new BoltStore at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{tasksBucket, submissionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func put(tx *bbolt.Tx, bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", bucket, err)
	}
	if err := tx.Bucket(bucket).Put([]byte(key), data); err != nil {
		return fmt.Errorf("failed to put %s record: %w", bucket, err)
	}
	return nil
}

func get(tx *bbolt.Tx, bucket []byte, key string, v any, notFound error) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return notFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s record: %w", bucket, err)
	}
	return nil
}

// SaveTask saves a task to the state store.
func (s *BoltStore) SaveTask(task *TaskRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, tasksBucket, task.ID, task)
	})
}

// GetTask retrieves a task from the state store.
func (s *BoltStore) GetTask(id string) (*TaskRecord, error) {
	var task TaskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, tasksBucket, id, &task, ErrTaskNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask applies fn to the stored task inside a single write transaction
// and returns the saved result. Concurrent updates of one task are serialized
// by bbolt's single writer.
func (s *BoltStore) UpdateTask(id string, fn func(*TaskRecord) error) (*TaskRecord, error) {
	var task TaskRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := get(tx, tasksBucket, id, &task, ErrTaskNotFound); err != nil {
			return err
		}
		if err := fn(&task); err != nil {
			return err
		}
		return put(tx, tasksBucket, id, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns all tasks in the given state, or every task when state is
// empty, in id order.
func (s *BoltStore) ListTasks(state TaskState) ([]*TaskRecord, error) {
	var tasks []*TaskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(tasksBucket).ForEach(func(k, v []byte) error {
			var task TaskRecord
			if err := json.Unmarshal(v, &task); err != nil {
				return fmt.Errorf("failed to unmarshal task %s: %w", k, err)
			}
			if state == "" || task.State == state {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// SaveSubmission inserts or replaces a ledger entry.
func (s *BoltStore) SaveSubmission(rec *SubmissionRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, submissionsBucket, rec.ExternalID, rec)
	})
}

// GetSubmission retrieves a ledger entry by external id.
func (s *BoltStore) GetSubmission(externalID string) (*SubmissionRecord, error) {
	var rec SubmissionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return get(tx, submissionsBucket, externalID, &rec, ErrSubmissionNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSubmissions returns ledger entries in external id order. With
// pendingOnly set, entries that reached a terminal state are left out.
func (s *BoltStore) ListSubmissions(pendingOnly bool) ([]*SubmissionRecord, error) {
	var recs []*SubmissionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(submissionsBucket).ForEach(func(k, v []byte) error {
			var rec SubmissionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal submission %s: %w", k, err)
			}
			if !pendingOnly || !rec.Terminal {
				recs = append(recs, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Close closes the underlying store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

package engine

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/franksops/gotransfer/store"
)

// ErrFileIndex is returned when a file index is outside the task record.
var ErrFileIndex = errors.New("file index out of range")

// CheckpointConfig defines the criteria for when to save a file's progress
type CheckpointConfig struct {
	// BytesInterval triggers a save after this many bytes have been transferred
	BytesInterval int64
	// TimeInterval triggers a save after this much time has passed
	TimeInterval time.Duration
}

// DefaultCheckpointConfig provides reasonable defaults for checkpointing
var DefaultCheckpointConfig = CheckpointConfig{
	BytesInterval: 10 * 1024 * 1024, // 10 MB
	TimeInterval:  5 * time.Second,
}

// TaskTracker wraps a task store to drive per-file state and settle the
// overall task state once every file has finished.
type TaskTracker struct {
	store  store.TaskStore
	config CheckpointConfig
	now    func() time.Time
}

// NewTaskTracker creates a new TaskTracker
func NewTaskTracker(store store.TaskStore, config CheckpointConfig) *TaskTracker {
	return &TaskTracker{
		store:  store,
		config: config,
		now:    time.Now,
	}
}

func (tt *TaskTracker) updateFile(taskID string, index int, fn func(*store.FileRecord)) (*store.TaskRecord, error) {
	return tt.store.UpdateTask(taskID, func(task *store.TaskRecord) error {
		if index < 0 || index >= len(task.Files) {
			return fmt.Errorf("%w: task %s has %d files, got %d", ErrFileIndex, taskID, len(task.Files), index)
		}
		fn(&task.Files[index])
		tt.settle(task)
		return nil
	})
}

// settle moves an active task to its final state once all files are done.
// A single failed file fails the task.
func (tt *TaskTracker) settle(task *store.TaskRecord) {
	if task.State != store.TaskActive {
		return
	}

	var errs *multierror.Error
	for _, f := range task.Files {
		if !f.State.Done() {
			return
		}
		if f.State == store.StateFailed {
			errs = multierror.Append(errs, fmt.Errorf("%s: %s", f.SourcePath, f.Error))
		}
	}

	task.Completed = tt.now().UTC()
	if err := errs.ErrorOrNil(); err != nil {
		task.State = store.TaskFailed
		task.Error = err.Error()
		return
	}
	task.State = store.TaskSucceeded
}

// MarkInProgress updates a file's state to InProgress
func (tt *TaskTracker) MarkInProgress(taskID string, index int) error {
	_, err := tt.updateFile(taskID, index, func(f *store.FileRecord) {
		f.State = store.StateInProgress
		f.Error = ""
	})
	return err
}

// MarkCompleted records a finished copy and its checksum.
func (tt *TaskTracker) MarkCompleted(taskID string, index int, bytes int64, checksum uint64) (*store.TaskRecord, error) {
	return tt.updateFile(taskID, index, func(f *store.FileRecord) {
		f.State = store.StateCompleted
		f.BytesTransferred = bytes
		f.TotalBytes = bytes
		f.Checksum = checksum
	})
}

// MarkFailed updates a file's state to Failed with an error message
func (tt *TaskTracker) MarkFailed(taskID string, index int, cause error) (*store.TaskRecord, error) {
	return tt.updateFile(taskID, index, func(f *store.FileRecord) {
		f.State = store.StateFailed
		if cause != nil {
			f.Error = cause.Error()
		}
	})
}

// TrackedWriter wraps an io.Writer to track bytes written and checkpoint progress
type TrackedWriter struct {
	io.Writer
	tracker *TaskTracker
	taskID  string
	index   int

	mu              sync.Mutex
	bytesWritten    int64
	lastCheckpoint  int64
	lastCheckpointT time.Time
}

// NewTrackedWriter creates a new TrackedWriter for one file of a task.
func (tt *TaskTracker) NewTrackedWriter(w io.Writer, taskID string, index int) *TrackedWriter {
	return &TrackedWriter{
		Writer:          w,
		tracker:         tt,
		taskID:          taskID,
		index:           index,
		lastCheckpointT: tt.now(),
	}
}

// Write implements io.Writer and checkpoints progress
func (tw *TrackedWriter) Write(p []byte) (int, error) {
	n, err := tw.Writer.Write(p)
	if n > 0 {
		tw.mu.Lock()
		tw.bytesWritten += int64(n)

		needsCheckpoint := false
		if tw.bytesWritten-tw.lastCheckpoint >= tw.tracker.config.BytesInterval {
			needsCheckpoint = true
		} else if tw.tracker.now().Sub(tw.lastCheckpointT) >= tw.tracker.config.TimeInterval {
			needsCheckpoint = true
		}

		currentBytes := tw.bytesWritten
		tw.mu.Unlock()

		if needsCheckpoint {
			tw.checkpoint(currentBytes)
		}
	}
	return n, err
}

func (tw *TrackedWriter) checkpoint(bytes int64) {
	// A failed checkpoint only loses progress reporting, the copy goes on.
	_, err := tw.tracker.updateFile(tw.taskID, tw.index, func(f *store.FileRecord) {
		f.BytesTransferred = bytes
	})
	if err != nil {
		log.Debugf("checkpoint of %s file %d: %v", tw.taskID, tw.index, err)
		return
	}

	tw.mu.Lock()
	tw.lastCheckpoint = bytes
	tw.lastCheckpointT = tw.tracker.now()
	tw.mu.Unlock()
}

// BytesWritten returns the total number of bytes written
func (tw *TrackedWriter) BytesWritten() int64 {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.bytesWritten
}

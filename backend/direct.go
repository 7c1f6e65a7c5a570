package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/franksops/gotransfer/engine"
	"github.com/franksops/gotransfer/provider"
	"github.com/franksops/gotransfer/store"
	"github.com/franksops/gotransfer/tool"
	"github.com/franksops/gotransfer/transfer"
)

var log = logging.Logger("backend")

const taskQueueSize = 1000

var (
	// ErrRecursiveUnsupported is returned for recursive submissions.
	ErrRecursiveUnsupported = errors.New("recursive transfers are not supported")
	// ErrNotStarted is returned when submitting to a Direct backend that is
	// not running.
	ErrNotStarted = errors.New("direct backend not started")
	// ErrEmptySubmission is returned for a bulk submission without files.
	ErrEmptySubmission = errors.New("submission has no files")
)

var (
	_ tool.Backend = (*Memory)(nil)
	_ tool.Backend = (*Direct)(nil)
)

// Direct is a backend that performs the copies itself. Endpoint ids are
// resolved to storage providers, every submission is persisted as a task and
// its files are copied by a worker pool.
type Direct struct {
	store  store.TaskStore
	copier *engine.Copier
	tasks  engine.TaskChannel

	mu      sync.Mutex
	pool    *engine.WorkerPool
	feeders sync.WaitGroup
}

// NewDirect creates a Direct backend. Copies use buffers of bufferSize bytes
// and, with verify set, are read back and compared by CRC64.
func NewDirect(st store.TaskStore, endpoints engine.Endpoints, bufferSize int, verify bool) *Direct {
	tracker := engine.NewTaskTracker(st, engine.DefaultCheckpointConfig)
	return &Direct{
		store:  st,
		copier: engine.NewCopier(endpoints, tracker, bufferSize, verify),
		tasks:  make(engine.TaskChannel, taskQueueSize),
	}
}

// Start launches workers copy streams and requeues the unfinished files of
// tasks left ACTIVE by a previous run.
func (d *Direct) Start(ctx context.Context, workers int) error {
	d.mu.Lock()
	if d.pool != nil {
		d.mu.Unlock()
		return nil
	}
	d.pool = engine.NewWorkerPool(ctx, d.tasks, d.copier.Handle)
	d.pool.SetWorkerCount(workers)
	d.mu.Unlock()

	active, err := d.store.ListTasks(store.TaskActive)
	if err != nil {
		return fmt.Errorf("failed to list active tasks: %w", err)
	}
	for _, task := range active {
		log.Infof("resuming task %s", task.ID)
		d.enqueue(task)
	}
	return nil
}

// Stop cancels running copies and waits for the workers to exit. Interrupted
// files are resumed by the next Start.
func (d *Direct) Stop() {
	d.mu.Lock()
	pool := d.pool
	d.pool = nil
	d.mu.Unlock()

	if pool != nil {
		pool.Stop()
	}
	d.feeders.Wait()
}

// SetStreams changes the number of concurrent copies.
func (d *Direct) SetStreams(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.SetWorkerCount(n)
	}
}

func (d *Direct) SubmitSingle(ctx context.Context, sourceEndpoint, destEndpoint, sourcePath, destPath, label string, recursive bool) (transfer.ExternalID, error) {
	if recursive {
		return "", ErrRecursiveUnsupported
	}
	return d.submit(label, []store.FileRecord{{
		SourceEndpoint:  sourceEndpoint,
		SourcePath:      provider.ObjectPath(sourcePath),
		DestEndpoint:    destEndpoint,
		DestinationPath: provider.ObjectPath(destPath),
		State:           store.StatePending,
	}})
}

func (d *Direct) SubmitBulk(ctx context.Context, files []transfer.Descriptor, recursive bool) (transfer.ExternalID, error) {
	if recursive {
		return "", ErrRecursiveUnsupported
	}
	if len(files) == 0 {
		return "", ErrEmptySubmission
	}

	records := make([]store.FileRecord, 0, len(files))
	for _, f := range files {
		if len(f.Sources) == 0 || len(f.Destinations) == 0 {
			return "", fmt.Errorf("file %s:%s: %w", f.Metadata.Scope, f.Metadata.Name, transfer.ErrEmptyPath)
		}
		records = append(records, store.FileRecord{
			SourceEndpoint:  f.Metadata.SourceEndpointID,
			SourcePath:      provider.ObjectPath(f.Sources[0]),
			DestEndpoint:    f.Metadata.DestEndpointID,
			DestinationPath: provider.ObjectPath(f.Destinations[0]),
			State:           store.StatePending,
			TotalBytes:      f.Metadata.Filesize,
		})
	}
	return d.submit("", records)
}

func (d *Direct) submit(label string, files []store.FileRecord) (transfer.ExternalID, error) {
	d.mu.Lock()
	running := d.pool != nil
	d.mu.Unlock()
	if !running {
		return "", ErrNotStarted
	}

	task := &store.TaskRecord{
		ID:        uuid.NewString(),
		Label:     label,
		State:     store.TaskActive,
		Files:     files,
		Submitted: time.Now().UTC(),
	}
	if err := d.store.SaveTask(task); err != nil {
		return "", fmt.Errorf("failed to save task: %w", err)
	}

	log.Infof("task %s submitted with %d files", task.ID, len(files))
	d.enqueue(task)
	return transfer.ExternalID(task.ID), nil
}

// enqueue queues every unfinished file of task in the background. Queuing
// lasts as long as the pool does, not the submitting call: only Stop leaves
// files pending, and the next Start picks them up.
func (d *Direct) enqueue(task *store.TaskRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool := d.pool
	if pool == nil {
		return
	}

	d.feeders.Add(1)
	go func() {
		defer d.feeders.Done()
		for i, f := range task.Files {
			if f.State.Done() {
				continue
			}
			err := pool.Enqueue(context.Background(), engine.CopyTask{
				TaskID:          task.ID,
				Index:           i,
				SourceEndpoint:  f.SourceEndpoint,
				SourcePath:      f.SourcePath,
				DestEndpoint:    f.DestEndpoint,
				DestinationPath: f.DestinationPath,
			})
			if err != nil {
				log.Warnf("task %s: file %d not queued: %v", task.ID, i, err)
				return
			}
		}
	}()
}

// QueryBulk reports the state of every task in the map. An unknown task id
// fails the whole query.
func (d *Direct) QueryBulk(ctx context.Context, requestsByEID map[transfer.ExternalID][]transfer.RequestID) (map[transfer.ExternalID]string, error) {
	out := make(map[transfer.ExternalID]string, len(requestsByEID))
	for eid := range requestsByEID {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		task, err := d.store.GetTask(string(eid))
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", eid, err)
		}
		out[eid] = string(task.State)
	}
	return out, nil
}

// Task returns the stored record of a task.
func (d *Direct) Task(id transfer.ExternalID) (*store.TaskRecord, error) {
	return d.store.GetTask(string(id))
}

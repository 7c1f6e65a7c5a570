package backend

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/franksops/gotransfer/transfer"
)

// SingleCall records the arguments of one Memory.SubmitSingle call.
type SingleCall struct {
	SourceEndpoint string
	DestEndpoint   string
	SourcePath     string
	DestPath       string
	Label          string
	Recursive      bool
}

// Memory is a scripted in-process backend. Nothing is transferred: every
// submission gets a fresh task id reporting InitialStatus until SetStatus
// moves it.
type Memory struct {
	// InitialStatus is reported for new tasks. Empty means ACTIVE.
	InitialStatus string
	// SubmitErr, when set, is returned by every submission.
	SubmitErr error
	// QueryErr, when set, is returned by QueryBulk.
	QueryErr error

	mu       sync.Mutex
	statuses map[transfer.ExternalID]string
	singles  []SingleCall
	bulks    [][]transfer.Descriptor
	queries  int
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{statuses: make(map[transfer.ExternalID]string)}
}

func (m *Memory) newTask() transfer.ExternalID {
	id := transfer.ExternalID(uuid.NewString())
	status := m.InitialStatus
	if status == "" {
		status = transfer.BackendActive
	}
	m.statuses[id] = status
	return id
}

func (m *Memory) SubmitSingle(ctx context.Context, sourceEndpoint, destEndpoint, sourcePath, destPath, label string, recursive bool) (transfer.ExternalID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	m.singles = append(m.singles, SingleCall{
		SourceEndpoint: sourceEndpoint,
		DestEndpoint:   destEndpoint,
		SourcePath:     sourcePath,
		DestPath:       destPath,
		Label:          label,
		Recursive:      recursive,
	})
	id := m.newTask()
	log.Debugw("memory single submission", "task_id", id, "label", label)
	return id, nil
}

func (m *Memory) SubmitBulk(ctx context.Context, files []transfer.Descriptor, recursive bool) (transfer.ExternalID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	m.bulks = append(m.bulks, append([]transfer.Descriptor{}, files...))
	id := m.newTask()
	log.Debugw("memory bulk submission", "task_id", id, "files", len(files))
	return id, nil
}

// QueryBulk reports the current status of each known task. Unknown ids are
// left out of the result.
func (m *Memory) QueryBulk(ctx context.Context, requestsByEID map[transfer.ExternalID][]transfer.RequestID) (map[transfer.ExternalID]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries++
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	out := make(map[transfer.ExternalID]string, len(requestsByEID))
	for eid := range requestsByEID {
		if status, ok := m.statuses[eid]; ok {
			out[eid] = status
		}
	}
	return out, nil
}

// SetStatus scripts the status QueryBulk reports for id.
func (m *Memory) SetStatus(id transfer.ExternalID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
}

// Singles returns the recorded SubmitSingle calls.
func (m *Memory) Singles() []SingleCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SingleCall{}, m.singles...)
}

// Bulks returns the descriptors of every recorded SubmitBulk call.
func (m *Memory) Bulks() [][]transfer.Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]transfer.Descriptor{}, m.bulks...)
}

// Queries returns how many times QueryBulk was called.
func (m *Memory) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

package engine

// CopyTask is one file of a backend task, queued for a worker.
type CopyTask struct {
	// TaskID is the backend task the file belongs to.
	TaskID string

	// Index is the position of the file in the task record.
	Index int

	SourceEndpoint  string
	SourcePath      string
	DestEndpoint    string
	DestinationPath string
}

// TaskChannel is a channel used to queue and dispatch CopyTasks to workers
// in the worker pool.
type TaskChannel chan CopyTask

package engine

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"hash/crc64"
	"io"
	"sync"

	"github.com/franksops/gotransfer/provider"
)

// DefaultBufferSize is the default size of byte buffers allocated for copies.
const DefaultBufferSize = 1 * 1024 * 1024

var (
	// ErrSizeMismatch is returned when fewer or more bytes were copied than
	// the source reported.
	ErrSizeMismatch = errors.New("copied size does not match source")
	// ErrChecksumMismatch is returned when the destination does not read back
	// with the source checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

var crcTable = crc64.MakeTable(crc64.ISO)

// Endpoints resolves a backend endpoint id to the provider serving it.
type Endpoints interface {
	Endpoint(ctx context.Context, id string) (provider.Provider, error)
}

// Copier performs the file copies of backend tasks and reports their outcome
// to the tracker.
type Copier struct {
	endpoints Endpoints
	tracker   *TaskTracker
	verify    bool
	buffers   sync.Pool
}

// NewCopier creates a Copier. A bufferSize <= 0 selects DefaultBufferSize.
// With verify set, every destination is read back and compared to the
// source CRC64.
func NewCopier(endpoints Endpoints, tracker *TaskTracker, bufferSize int, verify bool) *Copier {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Copier{
		endpoints: endpoints,
		tracker:   tracker,
		verify:    verify,
		buffers: sync.Pool{
			New: func() any {
				b := make([]byte, bufferSize)
				return &b
			},
		},
	}
}

// Handle is a TaskHandler that copies one file and records the result.
func (c *Copier) Handle(ctx context.Context, task CopyTask) error {
	if err := c.tracker.MarkInProgress(task.TaskID, task.Index); err != nil {
		return fmt.Errorf("failed to mark file in progress: %w", err)
	}

	n, sum, err := c.copy(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down: leave the file in progress so it is resumed.
			return err
		}
		if _, markErr := c.tracker.MarkFailed(task.TaskID, task.Index, err); markErr != nil {
			return fmt.Errorf("failed to mark file failed: %w (copy error: %v)", markErr, err)
		}
		return err
	}

	if _, err := c.tracker.MarkCompleted(task.TaskID, task.Index, n, sum); err != nil {
		return fmt.Errorf("failed to mark file completed: %w", err)
	}
	return nil
}

func (c *Copier) copy(ctx context.Context, task CopyTask) (int64, uint64, error) {
	src, err := c.endpoints.Endpoint(ctx, task.SourceEndpoint)
	if err != nil {
		return 0, 0, err
	}
	dst, err := c.endpoints.Endpoint(ctx, task.DestEndpoint)
	if err != nil {
		return 0, 0, err
	}

	info, err := src.Stat(ctx, task.SourcePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat source: %w", err)
	}

	srcReader, err := src.OpenRead(ctx, task.SourcePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer srcReader.Close()

	dstWriter, err := dst.OpenWrite(ctx, task.DestinationPath, info)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open destination: %w", err)
	}

	hasher := crc64.New(crcTable)
	reader := io.TeeReader(srcReader, hasher)
	writer := c.tracker.NewTrackedWriter(dstWriter, task.TaskID, task.Index)

	buf := c.buffers.Get().(*[]byte)
	defer c.buffers.Put(buf)

	n, err := io.CopyBuffer(writer, reader, *buf)
	if err != nil {
		dstWriter.Close()
		return n, 0, fmt.Errorf("transfer failed: %w", err)
	}
	if err := dstWriter.Close(); err != nil {
		return n, 0, fmt.Errorf("failed to close destination: %w", err)
	}

	if n != info.Size() {
		return n, 0, fmt.Errorf("%w: copied %d of %d bytes", ErrSizeMismatch, n, info.Size())
	}

	sum := hasher.Sum64()
	if c.verify {
		if err := c.verifyDestination(ctx, dst, task.DestinationPath, sum, *buf); err != nil {
			return n, sum, err
		}
	}
	return n, sum, nil
}

func (c *Copier) verifyDestination(ctx context.Context, dst provider.Provider, path string, expected uint64, buf []byte) error {
	r, err := dst.OpenRead(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to reopen destination: %w", err)
	}
	defer r.Close()

	actual, err := checksum(r, buf)
	if err != nil {
		return fmt.Errorf("failed to read back destination: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("%w: source %016x, destination %016x", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func checksum(r io.Reader, buf []byte) (uint64, error) {
	var h hash.Hash64 = crc64.New(crcTable)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

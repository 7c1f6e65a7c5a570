package tool

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/franksops/gotransfer/rse"
	"github.com/franksops/gotransfer/transfer"
)

var log = logging.Logger("transfertool")

var (
	// ErrUnknownTool is returned by New for an unregistered name.
	ErrUnknownTool = errors.New("unknown transfer tool")
	// ErrMissingBackend is returned when Options has no Backend.
	ErrMissingBackend = errors.New("transfer tool requires a backend")
	// ErrMissingAttributes is returned when Options has no attribute store.
	ErrMissingAttributes = errors.New("transfer tool requires an attribute store")
)

// Backend is the remote transfer service. Implementations own the network
// calls; errors are passed to callers untouched.
type Backend interface {
	// SubmitSingle submits one file and returns the backend task id.
	SubmitSingle(ctx context.Context, sourceEndpoint, destEndpoint, sourcePath, destPath, label string, recursive bool) (transfer.ExternalID, error)

	// SubmitBulk submits many files as a single backend task.
	SubmitBulk(ctx context.Context, files []transfer.Descriptor, recursive bool) (transfer.ExternalID, error)

	// QueryBulk returns the backend status of every external id in the map.
	QueryBulk(ctx context.Context, requestsByEID map[transfer.ExternalID][]transfer.RequestID) (map[transfer.ExternalID]string, error)
}

// Submission ties a submitted job to the id the backend returned for it.
type Submission struct {
	Job        transfer.SubmissionJob
	ExternalID transfer.ExternalID
}

// Transfertool is the capability set shared by every transfer tool.
type Transfertool interface {
	Name() string
	ExternalHost() string
	Schemes() []string
	RequiredAttributes() []string

	Group(paths []transfer.Path) ([]transfer.SubmissionJob, error)
	Submit(ctx context.Context, jobs []transfer.SubmissionJob) ([]Submission, error)
	SubmitOne(ctx context.Context, hop transfer.Hop) (transfer.ExternalID, error)
	BulkQuery(ctx context.Context, requestsByEID map[transfer.ExternalID][]transfer.RequestID) (map[transfer.ExternalID]map[transfer.RequestID]transfer.StatusReport, error)
	BulkUpdate(ctx context.Context, reports map[transfer.ExternalID]map[transfer.RequestID]transfer.StatusReport) error
	Cancel(ctx context.Context, ids []transfer.ExternalID) error
	UpdatePriority(ctx context.Context, id transfer.ExternalID, priority int) error
}

// Options configures a transfer tool. Zero values select the tool's defaults.
type Options struct {
	ExternalHost string
	GroupPolicy  transfer.Policy
	GroupBulk    int
	// EndpointAttribute names the storage element attribute holding the
	// backend endpoint id. It is always part of the required attributes.
	EndpointAttribute  string
	RequiredAttributes []string
	Schemes            []string
	Backend            Backend
	Attributes         rse.AttributeStore
}

// Factory builds a transfer tool from options.
type Factory func(Options) (Transfertool, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a transfer tool available by name. It panics if the name is
// empty or already taken.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if name == "" || f == nil {
		panic("tool: Register called with empty name or nil factory")
	}
	if _, dup := registry[name]; dup {
		panic("tool: Register called twice for " + name)
	}
	registry[name] = f
}

// New builds the transfer tool registered under name.
func New(name string, opts Options) (Transfertool, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return f(opts)
}

// Names lists the registered transfer tools.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SupportsSchemes reports whether every URL of hop uses a scheme the tool
// accepts.
func SupportsSchemes(t Transfertool, hop transfer.Hop) bool {
	allowed := make(map[string]struct{}, len(t.Schemes()))
	for _, s := range t.Schemes() {
		allowed[s] = struct{}{}
	}

	urls := append(append([]string{}, hop.Sources...), hop.Dest)
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return false
		}
		if _, ok := allowed[u.Scheme]; !ok {
			return false
		}
	}
	return true
}

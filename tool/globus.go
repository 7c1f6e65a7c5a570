package tool

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/franksops/gotransfer/rse"
	"github.com/franksops/gotransfer/transfer"
)

const (
	// GlobusName is the registry name of the Globus transfer tool.
	GlobusName = "globus"

	defaultGlobusHost = "Globus Online Transfertool"
)

var (
	// ErrNotEligible is returned by SubmitOne when an endpoint lacks a
	// required attribute.
	ErrNotEligible = errors.New("transfer endpoints not eligible")
	// ErrNoSource is returned when a hop carries no source URL.
	ErrNoSource = errors.New("transfer has no source url")
)

// DefaultGlobusSchemes are the URL schemes the Globus tool accepts.
var DefaultGlobusSchemes = []string{"mock", "globus", "file"}

func init() {
	Register(GlobusName, func(opts Options) (Transfertool, error) {
		return NewGlobus(opts)
	})
}

// Globus submits transfers to a Globus style backend that addresses files by
// endpoint id and path. It has no multihop support.
type Globus struct {
	externalHost string
	policy       transfer.Policy
	bulk         int
	endpointAttr string
	required     []string
	schemes      []string
	backend      Backend
	attrs        rse.AttributeStore
}

var _ Transfertool = (*Globus)(nil)

// NewGlobus builds a Globus transfer tool.
func NewGlobus(opts Options) (*Globus, error) {
	if opts.Backend == nil {
		return nil, ErrMissingBackend
	}
	if opts.Attributes == nil {
		return nil, ErrMissingAttributes
	}

	g := &Globus{
		externalHost: opts.ExternalHost,
		policy:       opts.GroupPolicy,
		bulk:         opts.GroupBulk,
		endpointAttr: opts.EndpointAttribute,
		required:     append([]string{}, opts.RequiredAttributes...),
		schemes:      opts.Schemes,
		backend:      opts.Backend,
		attrs:        opts.Attributes,
	}
	if g.externalHost == "" {
		g.externalHost = defaultGlobusHost
	}
	if g.policy == "" {
		g.policy = transfer.DefaultPolicy
	}
	if g.bulk == 0 {
		g.bulk = transfer.DefaultBulkSize
	}
	if g.endpointAttr == "" {
		g.endpointAttr = rse.AttrEndpointID
	}
	if !slices.Contains(g.required, g.endpointAttr) {
		// The endpoint id is what the backend addresses files by.
		g.required = append([]string{g.endpointAttr}, g.required...)
	}
	if len(g.schemes) == 0 {
		g.schemes = DefaultGlobusSchemes
	}
	return g, nil
}

func (g *Globus) Name() string                 { return GlobusName }
func (g *Globus) ExternalHost() string         { return g.externalHost }
func (g *Globus) Schemes() []string            { return g.schemes }
func (g *Globus) RequiredAttributes() []string { return g.required }

// CanPerformTransfer reports whether both storage elements expose every
// required attribute.
func (g *Globus) CanPerformTransfer(src, dst string) bool {
	for _, key := range g.required {
		if _, ok := g.attrs.Attribute(src, key); !ok {
			return false
		}
		if _, ok := g.attrs.Attribute(dst, key); !ok {
			return false
		}
	}
	return true
}

// SelectPath returns the hops of path this tool would submit: the first hop
// when it is eligible, nothing otherwise.
func (g *Globus) SelectPath(path transfer.Path) ([]transfer.Hop, bool) {
	hop, err := path.First()
	if err != nil {
		return nil, false
	}
	if !g.CanPerformTransfer(hop.Src.RSE, hop.Dst.RSE) {
		log.Warnf("Source or destination %s not set. Skipping %s", g.endpointAttr, describeHop(hop))
		return nil, false
	}
	return []transfer.Hop{hop}, true
}

// Group batches paths according to the configured policy and bulk size.
func (g *Globus) Group(paths []transfer.Path) ([]transfer.SubmissionJob, error) {
	return transfer.Group(paths, g.policy, g.bulk)
}

// Submit sends every job as one bulk backend task. Transfers whose endpoints
// are not eligible are skipped with a warning and left out of the returned
// jobs, and jobs left empty are not sent. A backend error stops submission
// and is returned as is together with the jobs already submitted.
func (g *Globus) Submit(ctx context.Context, jobs []transfer.SubmissionJob) ([]Submission, error) {
	submissions := make([]Submission, 0, len(jobs))
	for _, job := range jobs {
		sent := transfer.SubmissionJob{JobParams: map[string]string{}}
		files := make([]transfer.Descriptor, 0, len(job.Transfers))
		for _, hop := range job.Transfers {
			if !g.CanPerformTransfer(hop.Src.RSE, hop.Dst.RSE) {
				log.Warnf("Source or destination %s not set. Skipping %s", g.endpointAttr, describeHop(hop))
				continue
			}
			sent.Transfers = append(sent.Transfers, hop)
			files = append(files, g.describe(hop))
		}
		if len(files) == 0 {
			log.Infof("no eligible transfers left in job of %d, not submitting", len(job.Transfers))
			continue
		}

		log.Debug("... Starting globus xfer ...")
		log.Debugw("submitting bulk transfer", "job_files", files)

		id, err := g.backend.SubmitBulk(ctx, files, false)
		if err != nil {
			return submissions, err
		}
		submissions = append(submissions, Submission{Job: sent, ExternalID: id})
	}
	return submissions, nil
}

// SubmitOne submits a single transfer using its request id as the job label.
func (g *Globus) SubmitOne(ctx context.Context, hop transfer.Hop) (transfer.ExternalID, error) {
	if !g.CanPerformTransfer(hop.Src.RSE, hop.Dst.RSE) {
		return "", fmt.Errorf("%w: %s", ErrNotEligible, describeHop(hop))
	}
	if len(hop.Sources) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoSource, describeHop(hop))
	}

	file := g.describe(hop)
	sourcePath := file.Sources[0]
	destPath := file.Destinations[0]
	log.Infof("source_path: %s", sourcePath)
	log.Infof("dest_path: %s", destPath)

	return g.backend.SubmitSingle(ctx,
		file.Metadata.SourceEndpointID,
		file.Metadata.DestEndpointID,
		sourcePath,
		destPath,
		string(file.Metadata.RequestID),
		false,
	)
}

// BulkQuery looks up every external id in one backend call and maps the
// status onto each request correlated with it. An id the backend no longer
// knows is reported SUBMITTED, so a forgotten task stays in flight forever.
func (g *Globus) BulkQuery(ctx context.Context, requestsByEID map[transfer.ExternalID][]transfer.RequestID) (map[transfer.ExternalID]map[transfer.RequestID]transfer.StatusReport, error) {
	statuses, err := g.backend.QueryBulk(ctx, requestsByEID)
	if err != nil {
		return nil, err
	}

	response := make(map[transfer.ExternalID]map[transfer.RequestID]transfer.StatusReport, len(requestsByEID))
	for eid, requests := range requestsByEID {
		status, ok := statuses[eid]
		if !ok {
			log.Warnf("backend returned no status for %s, treating as in flight", eid)
		} else if !transfer.KnownStatus(status) {
			log.Debugf("unrecognized status %q for %s, treating as in flight", status, eid)
		}

		reports := make(map[transfer.RequestID]transfer.StatusReport, len(requests))
		for _, rid := range requests {
			reports[rid] = transfer.MapStatus(rid, eid, status)
		}
		response[eid] = reports
	}
	return response, nil
}

// BulkUpdate is a no-op; the backend keeps no per-request state to update.
func (g *Globus) BulkUpdate(ctx context.Context, reports map[transfer.ExternalID]map[transfer.RequestID]transfer.StatusReport) error {
	return nil
}

// Cancel is not supported by this tool and does nothing.
func (g *Globus) Cancel(ctx context.Context, ids []transfer.ExternalID) error {
	return nil
}

// UpdatePriority is not supported by this tool and does nothing.
func (g *Globus) UpdatePriority(ctx context.Context, id transfer.ExternalID, priority int) error {
	return nil
}

func (g *Globus) describe(hop transfer.Hop) transfer.Descriptor {
	srcID, _ := g.attrs.Attribute(hop.Src.RSE, g.endpointAttr)
	dstID, _ := g.attrs.Attribute(hop.Dst.RSE, g.endpointAttr)

	return transfer.Descriptor{
		Sources:      append([]string{}, hop.Sources...),
		Destinations: []string{hop.Dest},
		Metadata: transfer.DescriptorMetadata{
			SrcRSE:           hop.Src.RSE,
			DstRSE:           hop.Dst.RSE,
			Scope:            hop.Request.Scope,
			Name:             hop.Request.Name,
			SourceEndpointID: srcID,
			DestEndpointID:   dstID,
			Filesize:         hop.Request.Bytes,
			RequestID:        hop.Request.ID,
		},
	}
}

func describeHop(hop transfer.Hop) string {
	return fmt.Sprintf("%s %s:%s %s -> %s", hop.Request.ID, hop.Request.Scope, hop.Request.Name, hop.Src.RSE, hop.Dst.RSE)
}

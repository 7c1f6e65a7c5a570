package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/franksops/gotransfer/rse"
	"github.com/franksops/gotransfer/transfer"
)

type singleCall struct {
	sourceEndpoint, destEndpoint, sourcePath, destPath, label string
	recursive                                                 bool
}

type fakeBackend struct {
	single   []singleCall
	bulk     [][]transfer.Descriptor
	queries  []map[transfer.ExternalID][]transfer.RequestID
	statuses map[transfer.ExternalID]string

	submitErr error
	failAfter int
	queryErr  error
}

func (f *fakeBackend) SubmitSingle(ctx context.Context, sourceEndpoint, destEndpoint, sourcePath, destPath, label string, recursive bool) (transfer.ExternalID, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.single = append(f.single, singleCall{sourceEndpoint, destEndpoint, sourcePath, destPath, label, recursive})
	return transfer.ExternalID(fmt.Sprintf("single-%d", len(f.single))), nil
}

func (f *fakeBackend) SubmitBulk(ctx context.Context, files []transfer.Descriptor, recursive bool) (transfer.ExternalID, error) {
	if f.submitErr != nil && len(f.bulk) >= f.failAfter {
		return "", f.submitErr
	}
	f.bulk = append(f.bulk, files)
	return transfer.ExternalID(fmt.Sprintf("task-%d", len(f.bulk))), nil
}

func (f *fakeBackend) QueryBulk(ctx context.Context, requestsByEID map[transfer.ExternalID][]transfer.RequestID) (map[transfer.ExternalID]string, error) {
	f.queries = append(f.queries, requestsByEID)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.statuses, nil
}

func testCatalog(t *testing.T) *rse.Catalog {
	t.Helper()
	c, err := rse.NewCatalog(
		rse.RSE{Name: "SITE_A", Attributes: map[string]string{rse.AttrEndpointID: "ep-a"}},
		rse.RSE{Name: "SITE_B", Attributes: map[string]string{rse.AttrEndpointID: "ep-b"}},
		rse.RSE{Name: "NO_EP", Attributes: map[string]string{"country": "ch"}},
	)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	return c
}

func newTestGlobus(t *testing.T, backend Backend, policy transfer.Policy, bulk int) *Globus {
	t.Helper()
	g, err := NewGlobus(Options{
		GroupPolicy: policy,
		GroupBulk:   bulk,
		Backend:     backend,
		Attributes:  testCatalog(t),
	})
	if err != nil {
		t.Fatalf("NewGlobus failed: %v", err)
	}
	return g
}

func hop(id, src, dst string) transfer.Hop {
	return transfer.Hop{
		Src:     transfer.Endpoint{RSE: src},
		Dst:     transfer.Endpoint{RSE: dst},
		Sources: []string{"globus://" + src + "/data/" + id},
		Dest:    "globus://" + dst + "/data/" + id,
		Request: transfer.RequestMeta{ID: transfer.RequestID(id), Scope: "user.jdoe", Name: "file-" + id, Bytes: 42},
	}
}

func TestNewGlobus_Defaults(t *testing.T) {
	g := newTestGlobus(t, &fakeBackend{}, "", 0)

	if g.ExternalHost() != "Globus Online Transfertool" {
		t.Errorf("unexpected external host %q", g.ExternalHost())
	}
	if g.policy != transfer.PolicySingle || g.bulk != transfer.DefaultBulkSize {
		t.Errorf("unexpected grouping defaults %s/%d", g.policy, g.bulk)
	}
	if len(g.RequiredAttributes()) != 1 || g.RequiredAttributes()[0] != rse.AttrEndpointID {
		t.Errorf("unexpected required attributes %v", g.RequiredAttributes())
	}
}

func TestNewGlobus_MissingCollaborators(t *testing.T) {
	if _, err := NewGlobus(Options{Attributes: testCatalog(t)}); !errors.Is(err, ErrMissingBackend) {
		t.Errorf("Expected ErrMissingBackend, got %v", err)
	}
	if _, err := NewGlobus(Options{Backend: &fakeBackend{}}); !errors.Is(err, ErrMissingAttributes) {
		t.Errorf("Expected ErrMissingAttributes, got %v", err)
	}
}

func TestGlobus_Submit(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGlobus(t, backend, transfer.PolicyBulk, 10)

	jobs, err := g.Group([]transfer.Path{
		{hop("r1", "SITE_A", "SITE_B")},
		{hop("r2", "SITE_B", "SITE_A"), hop("r2-second", "SITE_A", "SITE_B")},
	})
	if err != nil {
		t.Fatalf("Group failed: %v", err)
	}

	subs, err := g.Submit(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(subs) != 1 || subs[0].ExternalID != "task-1" {
		t.Fatalf("Expected one submission task-1, got %+v", subs)
	}
	if len(backend.bulk) != 1 || len(backend.bulk[0]) != 2 {
		t.Fatalf("Expected one bulk call with 2 files, got %v", backend.bulk)
	}

	d := backend.bulk[0][0]
	want := transfer.DescriptorMetadata{
		SrcRSE:           "SITE_A",
		DstRSE:           "SITE_B",
		Scope:            "user.jdoe",
		Name:             "file-r1",
		SourceEndpointID: "ep-a",
		DestEndpointID:   "ep-b",
		Filesize:         42,
		RequestID:        "r1",
	}
	if d.Metadata != want {
		t.Errorf("metadata = %+v; want %+v", d.Metadata, want)
	}
	if len(d.Sources) != 1 || d.Sources[0] != "globus://SITE_A/data/r1" {
		t.Errorf("unexpected sources %v", d.Sources)
	}
	if len(d.Destinations) != 1 || d.Destinations[0] != "globus://SITE_B/data/r1" {
		t.Errorf("unexpected destinations %v", d.Destinations)
	}

	// only the first hop of a multihop path is submitted
	if backend.bulk[0][1].Metadata.RequestID != "r2" {
		t.Errorf("expected first hop r2, got %s", backend.bulk[0][1].Metadata.RequestID)
	}
}

func TestGlobus_SubmitSkipsIneligible(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGlobus(t, backend, transfer.PolicyBulk, 2)

	jobs, err := g.Group([]transfer.Path{
		{hop("ok-1", "SITE_A", "SITE_B")},
		{hop("bad-src", "NO_EP", "SITE_B")},
		{hop("bad-dst", "SITE_A", "UNKNOWN")},
		{hop("bad-both", "NO_EP", "NO_EP")},
		{hop("ok-2", "SITE_B", "SITE_A")},
	})
	if err != nil {
		t.Fatalf("Group failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(jobs))
	}

	subs, err := g.Submit(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// the second job only held ineligible transfers and is never sent
	if len(subs) != 2 {
		t.Fatalf("Expected 2 submissions, got %d", len(subs))
	}
	want := []transfer.RequestID{"ok-1", "ok-2"}
	for i, sub := range subs {
		if len(sub.Job.Transfers) != 1 || sub.Job.Transfers[0].Request.ID != want[i] {
			t.Errorf("submission %d: expected only %s, got %+v", i, want[i], sub.Job.Transfers)
		}
		if sub.Job.JobParams == nil || len(sub.Job.JobParams) != 0 {
			t.Errorf("submission %d: expected empty non-nil job params, got %v", i, sub.Job.JobParams)
		}
	}

	for _, files := range backend.bulk {
		for _, f := range files {
			if f.Metadata.RequestID != "ok-1" && f.Metadata.RequestID != "ok-2" {
				t.Errorf("ineligible transfer %s was submitted", f.Metadata.RequestID)
			}
		}
	}
}

func TestGlobus_SubmitPropagatesBackendError(t *testing.T) {
	boom := errors.New("backend unavailable")
	backend := &fakeBackend{submitErr: boom, failAfter: 1}
	g := newTestGlobus(t, backend, transfer.PolicySingle, 1)

	jobs, err := g.Group([]transfer.Path{
		{hop("r1", "SITE_A", "SITE_B")},
		{hop("r2", "SITE_A", "SITE_B")},
		{hop("r3", "SITE_A", "SITE_B")},
	})
	if err != nil {
		t.Fatalf("Group failed: %v", err)
	}

	subs, err := g.Submit(context.Background(), jobs)
	if err != boom {
		t.Fatalf("Expected the backend error unchanged, got %v", err)
	}
	if len(subs) != 1 || subs[0].ExternalID != "task-1" {
		t.Errorf("Expected the first submission to be reported, got %+v", subs)
	}
}

func TestGlobus_SubmitOne(t *testing.T) {
	backend := &fakeBackend{}
	g := newTestGlobus(t, backend, "", 0)

	id, err := g.SubmitOne(context.Background(), hop("r1", "SITE_A", "SITE_B"))
	if err != nil {
		t.Fatalf("SubmitOne failed: %v", err)
	}
	if id != "single-1" {
		t.Errorf("Expected single-1, got %s", id)
	}

	want := singleCall{"ep-a", "ep-b", "globus://SITE_A/data/r1", "globus://SITE_B/data/r1", "r1", false}
	if len(backend.single) != 1 || backend.single[0] != want {
		t.Errorf("SubmitSingle call = %+v; want %+v", backend.single, want)
	}
}

func TestGlobus_SubmitOneErrors(t *testing.T) {
	boom := errors.New("boom")
	g := newTestGlobus(t, &fakeBackend{submitErr: boom}, "", 0)
	ctx := context.Background()

	if _, err := g.SubmitOne(ctx, hop("r1", "NO_EP", "SITE_B")); !errors.Is(err, ErrNotEligible) {
		t.Errorf("Expected ErrNotEligible, got %v", err)
	}

	noSource := hop("r2", "SITE_A", "SITE_B")
	noSource.Sources = nil
	if _, err := g.SubmitOne(ctx, noSource); !errors.Is(err, ErrNoSource) {
		t.Errorf("Expected ErrNoSource, got %v", err)
	}

	if _, err := g.SubmitOne(ctx, hop("r3", "SITE_A", "SITE_B")); err != boom {
		t.Errorf("Expected backend error unchanged, got %v", err)
	}
}

func TestGlobus_SelectPath(t *testing.T) {
	g := newTestGlobus(t, &fakeBackend{}, "", 0)

	hops, ok := g.SelectPath(transfer.Path{hop("r1", "SITE_A", "SITE_B"), hop("r1b", "SITE_B", "NO_EP")})
	if !ok || len(hops) != 1 || hops[0].Request.ID != "r1" {
		t.Errorf("Expected first hop r1, got %v %v", hops, ok)
	}

	if hops, ok := g.SelectPath(transfer.Path{hop("r2", "NO_EP", "SITE_B")}); ok || hops != nil {
		t.Errorf("Expected ineligible path to be skipped, got %v", hops)
	}
	if _, ok := g.SelectPath(nil); ok {
		t.Error("Expected empty path to be skipped")
	}
}

func TestGlobus_BulkQuery(t *testing.T) {
	backend := &fakeBackend{statuses: map[transfer.ExternalID]string{
		"E1": "SUCCEEDED",
		"E2": "FAILED",
	}}
	g := newTestGlobus(t, backend, "", 0)

	input := map[transfer.ExternalID][]transfer.RequestID{
		"E1": {"R1", "R2"},
		"E2": {"R3"},
	}
	got, err := g.BulkQuery(context.Background(), input)
	if err != nil {
		t.Fatalf("BulkQuery failed: %v", err)
	}

	want := map[transfer.ExternalID]map[transfer.RequestID]transfer.StatusReport{
		"E1": {
			"R1": {RequestID: "R1", State: transfer.StateDone, ExternalID: "E1"},
			"R2": {RequestID: "R2", State: transfer.StateDone, ExternalID: "E1"},
		},
		"E2": {
			"R3": {RequestID: "R3", State: transfer.StateFailed, ExternalID: "E2"},
		},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d external ids, got %d", len(want), len(got))
	}
	for eid, reports := range want {
		if len(got[eid]) != len(reports) {
			t.Errorf("%s: expected %d reports, got %d", eid, len(reports), len(got[eid]))
		}
		for rid, report := range reports {
			if got[eid][rid] != report {
				t.Errorf("%s/%s = %+v; want %+v", eid, rid, got[eid][rid], report)
			}
		}
	}

	if len(backend.queries) != 1 {
		t.Errorf("Expected exactly one backend query, got %d", len(backend.queries))
	}
}

func TestGlobus_BulkQueryInFlight(t *testing.T) {
	backend := &fakeBackend{statuses: map[transfer.ExternalID]string{
		"E1": "ACTIVE",
		"E2": "SOMETHING_NEW",
	}}
	g := newTestGlobus(t, backend, "", 0)

	got, err := g.BulkQuery(context.Background(), map[transfer.ExternalID][]transfer.RequestID{
		"E1": {"R1"},
		"E2": {"R2"},
		"E3": {"R3"}, // missing from the backend response
	})
	if err != nil {
		t.Fatalf("BulkQuery failed: %v", err)
	}

	for eid, reports := range got {
		for rid, report := range reports {
			if report.State != transfer.StateSubmitted {
				t.Errorf("%s/%s: expected SUBMITTED, got %s", eid, rid, report.State)
			}
			if report.ExternalID != "" {
				t.Errorf("%s/%s: expected no external id, got %s", eid, rid, report.ExternalID)
			}
		}
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 external ids, got %d", len(got))
	}
}

func TestGlobus_BulkQueryError(t *testing.T) {
	boom := errors.New("query failed")
	backend := &fakeBackend{queryErr: boom}
	g := newTestGlobus(t, backend, "", 0)

	got, err := g.BulkQuery(context.Background(), map[transfer.ExternalID][]transfer.RequestID{"E1": {"R1"}})
	if err != boom {
		t.Errorf("Expected backend error unchanged, got %v", err)
	}
	if got != nil {
		t.Errorf("Expected no partial result, got %v", got)
	}
}

func TestGlobus_NoOps(t *testing.T) {
	g := newTestGlobus(t, &fakeBackend{}, "", 0)
	ctx := context.Background()

	if err := g.Cancel(ctx, []transfer.ExternalID{"E1"}); err != nil {
		t.Errorf("Cancel: %v", err)
	}
	if err := g.UpdatePriority(ctx, "E1", 3); err != nil {
		t.Errorf("UpdatePriority: %v", err)
	}
	if err := g.BulkUpdate(ctx, nil); err != nil {
		t.Errorf("BulkUpdate: %v", err)
	}
}

func TestGlobus_CustomEndpointAttribute(t *testing.T) {
	catalog, err := rse.NewCatalog(
		rse.RSE{Name: "SITE_A", Attributes: map[string]string{"endpoint_id": "ep-a", rse.AttrEndpointID: "legacy-a"}},
		rse.RSE{Name: "SITE_B", Attributes: map[string]string{"endpoint_id": "ep-b"}},
		rse.RSE{Name: "OLD_ONLY", Attributes: map[string]string{rse.AttrEndpointID: "legacy-c"}},
	)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	backend := &fakeBackend{}
	g, err := NewGlobus(Options{
		EndpointAttribute:  "endpoint_id",
		RequiredAttributes: []string{"endpoint_id"},
		GroupPolicy:        transfer.PolicyBulk,
		GroupBulk:          10,
		Backend:            backend,
		Attributes:         catalog,
	})
	if err != nil {
		t.Fatalf("NewGlobus failed: %v", err)
	}
	if len(g.RequiredAttributes()) != 1 || g.RequiredAttributes()[0] != "endpoint_id" {
		t.Errorf("unexpected required attributes %v", g.RequiredAttributes())
	}

	jobs, err := g.Group([]transfer.Path{
		{hop("R1", "SITE_A", "SITE_B")},
		{hop("R2", "OLD_ONLY", "SITE_B")},
	})
	if err != nil {
		t.Fatalf("Group failed: %v", err)
	}
	subs, err := g.Submit(context.Background(), jobs)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(subs) != 1 || len(backend.bulk) != 1 || len(backend.bulk[0]) != 1 {
		t.Fatalf("Expected one submission of one file, got %+v", backend.bulk)
	}
	md := backend.bulk[0][0].Metadata
	if md.SourceEndpointID != "ep-a" || md.DestEndpointID != "ep-b" {
		t.Errorf("Expected ids from endpoint_id, got %q -> %q", md.SourceEndpointID, md.DestEndpointID)
	}

	if _, err := g.SubmitOne(context.Background(), hop("R3", "OLD_ONLY", "SITE_B")); !errors.Is(err, ErrNotEligible) {
		t.Errorf("Expected ErrNotEligible, got %v", err)
	}
}

func TestNewGlobus_EndpointAttributeAlwaysRequired(t *testing.T) {
	g, err := NewGlobus(Options{
		RequiredAttributes: []string{"country"},
		Backend:            &fakeBackend{},
		Attributes:         testCatalog(t),
	})
	if err != nil {
		t.Fatalf("NewGlobus failed: %v", err)
	}
	got := g.RequiredAttributes()
	if len(got) != 2 || got[0] != rse.AttrEndpointID || got[1] != "country" {
		t.Errorf("unexpected required attributes %v", got)
	}
	// NO_EP has a country but no endpoint id
	if g.CanPerformTransfer("NO_EP", "NO_EP") {
		t.Error("Expected NO_EP to be ineligible without an endpoint id")
	}
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/franksops/gotransfer/config"
	"github.com/franksops/gotransfer/rse"
	"github.com/franksops/gotransfer/transfer"
)

const requestsJSON = `[
  [{"src": {"rse": "SITE_A"}, "dst": {"rse": "SITE_B"}, "request": {"request_id": "R1", "scope": "data", "name": "f1", "bytes": 5}}],
  [{"src": {"rse": "SITE_A"}, "dst": {"rse": "SITE_B"}, "request": {"request_id": "R2", "scope": "data", "name": "f2", "bytes": 5}}],
  [{"src": {"rse": "SITE_A"}, "dst": {"rse": "NO_EP"}, "request": {"request_id": "R3", "scope": "data", "name": "f3"}}],
  [{"src": {"rse": "SITE_A"}, "dst": {"rse": "SITE_B"}, "sources": ["gsiftp://h/f4"], "dest": "gsiftp://h/f4", "request": {"request_id": "R4"}}]
]`

func testConfig(t *testing.T, backendName string) *config.Config {
	t.Helper()
	return &config.Config{
		Transfertool: "globus",
		Backend:      backendName,
		GroupPolicy:  "bulk",
		GroupBulk:    2,
		StateDir:     t.TempDir(),
		Streams:      2,
		PollInterval: 10 * time.Millisecond,
		RSEs: []config.RSEConfig{
			{
				Name:       "SITE_A",
				Attributes: map[string]string{rse.AttrEndpointID: "ep-a"},
				Protocol:   config.ProtocolConfig{Scheme: "file", Prefix: "/"},
			},
			{
				Name:       "SITE_B",
				Attributes: map[string]string{rse.AttrEndpointID: "ep-b"},
				Protocol:   config.ProtocolConfig{Scheme: "file", Prefix: "/"},
			},
			{
				Name:     "NO_EP",
				Protocol: config.ProtocolConfig{Scheme: "file", Prefix: "/"},
			},
		},
	}
}

func openTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := openApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openApp failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestFillURLs(t *testing.T) {
	a := openTestApp(t, testConfig(t, config.BackendMemory))

	paths, err := loadPaths(strings.NewReader(`[[{"src": {"rse": "SITE_A"}, "dst": {"rse": "SITE_B"}, "request": {"scope": "data", "name": "f1"}}]]`))
	if err != nil {
		t.Fatalf("loadPaths failed: %v", err)
	}
	if err := fillURLs(a.catalog, paths); err != nil {
		t.Fatalf("fillURLs failed: %v", err)
	}

	hop := paths[0][0]
	want := "file:///" + rse.DeterministicPath("data", "f1")
	if len(hop.Sources) != 1 || hop.Sources[0] != want {
		t.Errorf("Expected source %s, got %v", want, hop.Sources)
	}
	if hop.Dest != want {
		t.Errorf("Expected dest %s, got %s", want, hop.Dest)
	}
	if hop.Request.ID == "" {
		t.Error("Expected a generated request id")
	}

	unknown := []transfer.Path{{{Src: transfer.Endpoint{RSE: "NOWHERE"}, Dst: transfer.Endpoint{RSE: "SITE_B"}}}}
	if err := fillURLs(a.catalog, unknown); err == nil {
		t.Error("Expected error for unknown rse")
	}
}

func TestSubmitAndPoll_Memory(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.GroupBulk = 3
	a := openTestApp(t, cfg)

	paths, err := loadPaths(strings.NewReader(requestsJSON))
	if err != nil {
		t.Fatalf("loadPaths failed: %v", err)
	}
	if err := fillURLs(a.catalog, paths); err != nil {
		t.Fatalf("fillURLs failed: %v", err)
	}

	submissions, err := submitPaths(context.Background(), a, paths)
	if err != nil {
		t.Fatalf("submitPaths failed: %v", err)
	}
	// R4 is dropped by scheme. R3 shares the job with R1 and R2 but is not
	// eligible, so it must not reach the ledger.
	if len(submissions) != 1 {
		t.Fatalf("Expected 1 submission, got %d", len(submissions))
	}

	rec, err := a.store.GetSubmission(string(submissions[0].ExternalID))
	if err != nil {
		t.Fatalf("GetSubmission failed: %v", err)
	}
	if strings.Join(rec.RequestIDs, ",") != "R1,R2" {
		t.Errorf("Expected R1,R2 in the ledger, got %v", rec.RequestIDs)
	}

	statuses, err := pollLedger(context.Background(), a)
	if err != nil {
		t.Fatalf("pollLedger failed: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("Expected reports for R1 and R2, got %+v", statuses)
	}
	for _, s := range statuses {
		if s.Report.State != transfer.StateDone || s.Report.ExternalID != submissions[0].ExternalID {
			t.Errorf("Unexpected report %+v", s.Report)
		}
	}

	first, _ := a.store.GetSubmission(string(submissions[0].ExternalID))
	if !first.Terminal || first.State != string(transfer.StateDone) {
		t.Errorf("Expected ledger entry to be DONE, got %+v", first)
	}

	out := renderReports(statuses)
	if !strings.Contains(out, "R1") || !strings.Contains(out, "DONE") {
		t.Errorf("Unexpected table:\n%s", out)
	}
}

func TestSubmitAndWait_Direct(t *testing.T) {
	cfg := testConfig(t, config.BackendDirect)
	src, dst := t.TempDir(), t.TempDir()
	cfg.Endpoints = []config.EndpointConfig{
		{ID: "ep-a", Root: "file://" + src},
		{ID: "ep-b", Root: "file://" + dst},
	}
	for _, name := range []string{"f1", "f2"} {
		p := filepath.Join(src, rse.DeterministicPath("data", name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("hello"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	a := openTestApp(t, cfg)

	paths, _ := loadPaths(strings.NewReader(requestsJSON))
	if err := fillURLs(a.catalog, paths[:2]); err != nil {
		t.Fatalf("fillURLs failed: %v", err)
	}
	if _, err := submitPaths(context.Background(), a, paths[:2]); err != nil {
		t.Fatalf("submitPaths failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	if err := waitPending(ctx, a, &out); err != nil {
		t.Fatalf("waitPending failed: %v", err)
	}
	if !strings.Contains(out.String(), "R1") || !strings.Contains(out.String(), "DONE") {
		t.Errorf("Unexpected output %q", out.String())
	}

	got, err := os.ReadFile(filepath.Join(dst, rse.DeterministicPath("data", "f2")))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Unexpected content %q", got)
	}
}

func TestWatchPoller_KeepsFinishedRows(t *testing.T) {
	a := openTestApp(t, testConfig(t, config.BackendMemory))

	paths, _ := loadPaths(strings.NewReader(requestsJSON))
	if err := fillURLs(a.catalog, paths[:2]); err != nil {
		t.Fatalf("fillURLs failed: %v", err)
	}
	if _, err := submitPaths(context.Background(), a, paths[:2]); err != nil {
		t.Fatalf("submitPaths failed: %v", err)
	}

	poll := newWatchPoller(a)
	state, err := poll(context.Background())
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(state.Rows) != 2 || !state.Finished() {
		t.Fatalf("Expected two finished rows, got %+v", state)
	}

	// Nothing is pending anymore, the rows stay.
	state, err = poll(context.Background())
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(state.Rows) != 2 {
		t.Errorf("Expected rows to be kept, got %+v", state.Rows)
	}
}

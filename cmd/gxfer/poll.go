package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/franksops/gotransfer/transfer"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Query the status of pending submissions once",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd.Context(), cfg)
		cobra.CheckErr(err)
		defer a.Close()

		reports, err := pollLedger(cmd.Context(), a)
		cobra.CheckErr(err)

		if len(reports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no pending submissions")
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderReports(reports))
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

// ledgerStatus is the report of one request of a ledger entry. Submission is
// always set, unlike Report.ExternalID which is empty while in flight.
type ledgerStatus struct {
	Submission transfer.ExternalID
	Report     transfer.StatusReport
}

// pollLedger runs one bulk query over every pending ledger entry, stores the
// new states and returns the reports ordered by submission and request id.
func pollLedger(ctx context.Context, a *app) ([]ledgerStatus, error) {
	pending, err := a.store.ListSubmissions(true)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	requestsByEID := make(map[transfer.ExternalID][]transfer.RequestID, len(pending))
	for _, rec := range pending {
		ids := make([]transfer.RequestID, 0, len(rec.RequestIDs))
		for _, id := range rec.RequestIDs {
			ids = append(ids, transfer.RequestID(id))
		}
		requestsByEID[transfer.ExternalID(rec.ExternalID)] = ids
	}

	results, err := a.tool.BulkQuery(ctx, requestsByEID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var reports []ledgerStatus
	for _, rec := range pending {
		eid := transfer.ExternalID(rec.ExternalID)
		state := transfer.StateSubmitted
		for _, report := range results[eid] {
			reports = append(reports, ledgerStatus{Submission: eid, Report: report})
			state = report.State
		}
		rec.State = string(state)
		rec.Terminal = state.IsTerminal()
		rec.Updated = now
		if err := a.store.SaveSubmission(rec); err != nil {
			return nil, fmt.Errorf("failed to update submission %s: %w", rec.ExternalID, err)
		}
	}

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Submission != reports[j].Submission {
			return reports[i].Submission < reports[j].Submission
		}
		return reports[i].Report.RequestID < reports[j].Report.RequestID
	})
	return reports, nil
}

func renderReports(reports []ledgerStatus) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("REQUEST", "EXTERNAL ID", "STATE")
	for _, r := range reports {
		t.Row(string(r.Report.RequestID), string(r.Submission), string(r.Report.State))
	}
	return t.String()
}

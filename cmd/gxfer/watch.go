package main

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/franksops/gotransfer/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow pending submissions in a terminal view",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd.Context(), cfg)
		cobra.CheckErr(err)
		defer a.Close()

		model := ui.NewTUIModel(newWatchPoller(a), a.cfg.PollInterval)
		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		_, err = program.Run()
		cobra.CheckErr(err)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// newWatchPoller returns a ui.PollFunc that keeps every request seen so far,
// so finished requests stay on screen after they leave the pending ledger.
func newWatchPoller(a *app) ui.PollFunc {
	var mu sync.Mutex
	rows := make(map[string]ui.Row)

	return func(ctx context.Context) (*ui.UIState, error) {
		statuses, err := pollLedger(ctx, a)
		if err != nil {
			return nil, err
		}

		mu.Lock()
		defer mu.Unlock()
		for _, s := range statuses {
			rows[string(s.Report.RequestID)] = ui.Row{
				RequestID:  string(s.Report.RequestID),
				ExternalID: string(s.Submission),
				State:      string(s.Report.State),
			}
		}
		out := make([]ui.Row, 0, len(rows))
		for _, r := range rows {
			out = append(out, r)
		}
		return ui.NewUIState(a.tool.Name(), out, time.Now()), nil
	}
}

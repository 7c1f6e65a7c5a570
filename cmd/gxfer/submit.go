package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/franksops/gotransfer/rse"
	"github.com/franksops/gotransfer/store"
	"github.com/franksops/gotransfer/tool"
	"github.com/franksops/gotransfer/transfer"
)

var wait bool

var submitCmd = &cobra.Command{
	Use:   "submit <requests.json>",
	Short: "Group and submit transfer requests",
	Long: "Reads a JSON array of transfer paths, fills missing URLs from the storage element " +
		"protocols, groups them into jobs and submits them. Use - to read from stdin.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var in io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			cobra.CheckErr(err)
			defer f.Close()
			in = f
		}

		paths, err := loadPaths(in)
		cobra.CheckErr(err)

		a, err := openApp(cmd.Context(), cfg)
		cobra.CheckErr(err)
		defer a.Close()

		cobra.CheckErr(fillURLs(a.catalog, paths))

		submissions, err := submitPaths(cmd.Context(), a, paths)
		for _, s := range submissions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d transfers\n", s.ExternalID, len(s.Job.Transfers))
		}
		cobra.CheckErr(err)

		if wait {
			cobra.CheckErr(waitPending(cmd.Context(), a, cmd.OutOrStdout()))
		}
	},
}

func init() {
	submitCmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until every submission has finished")
	rootCmd.AddCommand(submitCmd)
}

func loadPaths(r io.Reader) ([]transfer.Path, error) {
	var paths []transfer.Path
	if err := json.NewDecoder(r).Decode(&paths); err != nil {
		return nil, fmt.Errorf("failed to decode requests: %w", err)
	}
	return paths, nil
}

// fillURLs completes hops in place: missing source and destination URLs are
// built from the storage element protocols and missing request ids are
// generated.
func fillURLs(catalog *rse.Catalog, paths []transfer.Path) error {
	var errs *multierror.Error
	for i, path := range paths {
		for j := range path {
			hop := &path[j]
			if hop.Request.ID == "" {
				hop.Request.ID = transfer.RequestID(uuid.NewString())
			}
			if len(hop.Sources) == 0 {
				src, err := catalog.Get(hop.Src.RSE)
				if err != nil {
					errs = multierror.Append(errs, fmt.Errorf("path %d hop %d: %w", i, j, err))
					continue
				}
				hop.Sources = []string{src.Protocol.PFN(hop.Request.Scope, hop.Request.Name, "")}
			}
			if hop.Dest == "" {
				dst, err := catalog.Get(hop.Dst.RSE)
				if err != nil {
					errs = multierror.Append(errs, fmt.Errorf("path %d hop %d: %w", i, j, err))
					continue
				}
				hop.Dest = dst.Protocol.PFN(hop.Request.Scope, hop.Request.Name, "")
			}
		}
	}
	return errs.ErrorOrNil()
}

// submitPaths filters paths the tool cannot handle, groups and submits the
// rest and records every submission in the ledger.
func submitPaths(ctx context.Context, a *app, paths []transfer.Path) ([]tool.Submission, error) {
	usable := make([]transfer.Path, 0, len(paths))
	for _, path := range paths {
		hop, err := path.First()
		if err != nil {
			return nil, err
		}
		if !tool.SupportsSchemes(a.tool, hop) {
			log.Warnf("skipping %s: scheme not supported by %s", hop.Request.ID, a.tool.Name())
			continue
		}
		usable = append(usable, path)
	}

	jobs, err := a.tool.Group(usable)
	if err != nil {
		return nil, err
	}

	submissions, submitErr := a.tool.Submit(ctx, jobs)

	now := time.Now().UTC()
	for _, s := range submissions {
		rec := &store.SubmissionRecord{
			ExternalID: string(s.ExternalID),
			Tool:       a.tool.Name(),
			State:      string(transfer.StateSubmitted),
			Submitted:  now,
			Updated:    now,
		}
		for _, hop := range s.Job.Transfers {
			rec.RequestIDs = append(rec.RequestIDs, string(hop.Request.ID))
		}
		if err := a.store.SaveSubmission(rec); err != nil {
			return submissions, fmt.Errorf("failed to record submission %s: %w", s.ExternalID, err)
		}
	}
	log.Infof("submitted %d jobs for %d of %d paths", len(submissions), len(usable), len(paths))
	return submissions, submitErr
}

// waitPending polls the ledger until nothing is pending or ctx is done.
func waitPending(ctx context.Context, a *app, out io.Writer) error {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		reports, err := pollLedger(ctx, a)
		if err != nil {
			return err
		}
		pending := 0
		for _, r := range reports {
			if !r.Report.State.IsTerminal() {
				pending++
				continue
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", r.Report.RequestID, r.Submission, r.Report.State)
		}
		if pending == 0 {
			return nil
		}
		log.Infof("%d requests still in flight", pending)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/pipeline"
)

type runFlags struct {
	every time.Duration
	json  bool
}

func newIngestCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Gather, embed and publish a new snapshot",
		Long: `Run one ingestion cycle: gather new commits, changed files and recorded
interactions, embed them, apply retention and publish the snapshot.

Examples:
  # Single run
  vecsnap ingest --config vecsnap.yaml

  # Run every hour until interrupted
  vecsnap ingest --every 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCycle(cmd, f, (*pipeline.Pipeline).Run)
		},
	}
	addRunFlags(cmd, &f)
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Apply retention to the published snapshot and republish it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCycle(cmd, f, (*pipeline.Pipeline).Cleanup)
		},
	}
	addRunFlags(cmd, &f)
	return cmd
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().DurationVar(&f.every, "every", 0, "repeat at this interval until interrupted (0 runs once)")
	cmd.Flags().BoolVar(&f.json, "json", false, "print the run report as JSON")
}

type cycleFunc func(*pipeline.Pipeline, context.Context) (pipeline.RunReport, error)

// runCycle runs op once, or repeatedly when --every is set. Repeated runs
// stop on a configuration error and continue past any other failure.
func runCycle(cmd *cobra.Command, f runFlags, op cycleFunc) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	p, err := a.newPipeline(ctx)
	if err != nil {
		return err
	}

	for {
		rep, err := op(p, ctx)
		if perr := printReport(cmd.OutOrStdout(), rep, f.json); perr != nil {
			return perr
		}
		if err != nil {
			a.logger.Error(ctx, "run failed",
				zap.String("run_id", rep.RunID),
				zap.String("operation", rep.Operation),
				zap.Error(err))
			if f.every == 0 || pipeline.IsFatal(err) {
				return err
			}
		}
		if f.every == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.every):
		}
	}
}

func printReport(w io.Writer, rep pipeline.RunReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(w, "%s %s: previous=%d embedded=%d skipped=%d removed=%d exported=%d (%s)\n",
		rep.Operation, rep.RunID, rep.Previous, rep.Embedded, rep.Skipped,
		rep.Retention.Removed, rep.Export.Count, rep.Duration.Round(time.Millisecond))
	for _, msg := range rep.FailureMessages {
		fmt.Fprintf(w, "  partial failure: %s\n", msg)
	}
	return nil
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/validation"
)

func syncCmd() *cobra.Command {
	var (
		full  bool
		delta bool
		setID string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync in the foreground and print its summary",
		Example: `  tcgsync sync --full
  tcgsync sync --delta
  tcgsync sync --set base1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &domain.SyncRequest{}
			switch {
			case full:
				req.Type = domain.SyncScopeFull
			case delta:
				req.Type = domain.SyncScopeDelta
			case cmd.Flags().Changed("set"):
				req.Type = domain.SyncScopeSet
				req.SetID = setID
			default:
				return fmt.Errorf("one of --full, --delta or --set is required")
			}
			if err := validation.ValidateSyncRequest(req); err != nil {
				return err
			}

			ctx := cmd.Context()
			stack, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			started := time.Now()
			run, stats, err := stack.Orchestrator.Run(ctx, req.Type, req.SetID)
			if run != nil {
				printSummary(run, stats, time.Since(started))
			}
			if err != nil {
				return fmt.Errorf("%s sync failed: %w", req.Type, err)
			}
			if stats != nil && stats.CardsFailed > 0 {
				return errCardsFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Sync every series, set and card")
	cmd.Flags().BoolVar(&delta, "delta", false, "Sync sets and cards changed since the last sync")
	cmd.Flags().StringVar(&setID, "set", "", "Sync a single set by id")
	cmd.MarkFlagsMutuallyExclusive("full", "delta", "set")
	return cmd
}

func printSummary(run *domain.SyncRun, stats *domain.SyncStats, took time.Duration) {
	fmt.Printf("Sync %s (%s) %s in %s\n", run.ID, run.Scope, run.Status, took.Round(time.Millisecond))
	if stats == nil {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tCHECKED\tCREATED\tUPDATED\tSKIPPED\tFAILED")
	fmt.Fprintf(w, "series\t%d\t%d\t%d\t-\t-\n", stats.SeriesChecked, stats.SeriesCreated, stats.SeriesUpdated)
	fmt.Fprintf(w, "sets\t%d\t%d\t%d\t%d\t%d\n", stats.SetsChecked, stats.SetsCreated, stats.SetsUpdated, stats.SetsSkipped, stats.SetsFailed)
	fmt.Fprintf(w, "cards\t%d\t%d\t%d\t%d\t%d\n", stats.CardsChecked, stats.CardsCreated, stats.CardsUpdated, stats.CardsUnchanged, stats.CardsFailed)
	fmt.Fprintf(w, "prices\t-\t%d\t-\t-\t%d\n", stats.PricesRecorded, stats.PricesFailed)
	w.Flush()

	if stats.CardsNotFound > 0 {
		fmt.Printf("%d cards listed by their set were not found upstream\n", stats.CardsNotFound)
	}
	for _, e := range stats.Errors {
		fmt.Printf("  - %s\n", e)
	}
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/timeutil"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and reconcile sync runs",
	}

	var (
		limit  int
		status string
		format string
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.Close()

			list, err := stack.Service.ListRuns(cmd.Context(), limit, status)
			if err != nil {
				return err
			}
			if format != "table" {
				return printFormatted(format, list)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSCOPE\tTARGET\tSTATUS\tSTARTED\tCHECKED\tCREATED\tUPDATED\tFAILED")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					r.ID[:8], r.Scope, dash(r.TargetID), r.Status, r.StartedAt.Local().Format("2006-01-02 15:04"),
					r.ItemsChecked, r.ItemsCreated, r.ItemsUpdated, r.ItemsFailed)
			}
			w.Flush()
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "Limit results")
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status (running|completed|failed)")
	listCmd.Flags().StringVar(&format, "format", "table", "Output format (table|json|yaml)")

	var showFormat string
	showCmd := &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.Close()

			run, err := stack.Service.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if showFormat == "json" {
				return printFormatted(showFormat, run)
			}
			view := struct {
				domain.SyncRun `yaml:",inline"`
				Stats          *domain.SyncStats `yaml:"stats,omitempty"`
			}{SyncRun: *run}
			if len(run.Stats) > 0 {
				var stats domain.SyncStats
				if err := json.Unmarshal(run.Stats, &stats); err == nil {
					view.Stats = &stats
				}
			}
			return printFormatted("yaml", view)
		},
	}
	showCmd.Flags().StringVar(&showFormat, "format", "yaml", "Output format (yaml|json)")

	var olderThan string
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Mark runs stuck in running as failed",
		Long: `Closes runs that are still marked running after --older-than, for example
after the process that owned them was killed. A stuck full or delta run blocks
new full and delta syncs until it is reconciled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := timeutil.ParseDuration(olderThan)
			if err != nil {
				return fmt.Errorf("--older-than: %w", err)
			}
			stack, err := openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.Close()

			closed, err := stack.Service.ReconcileStale(cmd.Context(), age)
			for _, r := range closed {
				fmt.Printf("closed %s (%s, started %s)\n", r.ID, r.Scope, r.StartedAt.Local().Format(time.RFC3339))
			}
			if err != nil {
				return err
			}
			fmt.Printf("%d runs started before %s reconciled\n",
				len(closed), timeutil.Ago(time.Now(), age).Local().Format(time.RFC3339))
			return nil
		},
	}
	reconcileCmd.Flags().StringVar(&olderThan, "older-than", "6h", "Age after which a running run counts as abandoned (e.g. 90m, 6h, 2d)")

	cmd.AddCommand(listCmd, showCmd, reconcileCmd)
	return cmd
}

func printFormatted(format string, v any) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

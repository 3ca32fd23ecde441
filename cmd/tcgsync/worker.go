package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/mappy4ever/tcgsync/internal/supervisor"
)

func workerCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued full and delta syncs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") {
				cfg.Sync.Workers = workers
			}
			ctx := cmd.Context()
			stack, err := openStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			tree := supervisor.NewTree(logger, supervisor.TreeConfig{})
			for _, w := range stack.Workers(cfg.Sync.Workers, logger) {
				tree.AddWorker(w)
			}
			logger.Infow("worker.started", map[string]any{"workers": cfg.Sync.Workers, "queue": cfg.Queue.Kind})
			err = tree.Serve(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 1, "Number of concurrent queue consumers")
	return cmd
}

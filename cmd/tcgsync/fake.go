package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mappy4ever/tcgsync/internal/supervisor"
	"github.com/mappy4ever/tcgsync/internal/upstream/fakeapi"
)

func fakeUpstreamCmd() *cobra.Command {
	var (
		addr    string
		prefix  string
		latency time.Duration
	)
	opts := fakeapi.DefaultGenerateOptions()

	cmd := &cobra.Command{
		Use:   "fake-upstream",
		Short: "Serve a generated TCGdex-compatible catalog for local runs",
		Example: `  tcgsync fake-upstream --addr :8099 --series 3 --cards-per-set 40
  TCGSYNC_UPSTREAM_BASE_URL=http://localhost:8099/v2/en tcgsync sync --full`,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := fakeapi.Generate(opts)
			api.SetLatency(latency)

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.Handler(prefix),
				ReadHeaderTimeout: 5 * time.Second,
			}
			logger.Infow("fake_upstream.listening", map[string]any{
				"addr": addr, "prefix": prefix, "sets": len(api.SetIDs()), "catalog": api.String(),
			})
			err := supervisor.NewHTTPService(srv, 5*time.Second).Serve(cmd.Context())
			if errors.Is(err, cmd.Context().Err()) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8099", "Listen address")
	cmd.Flags().StringVar(&prefix, "prefix", "/v2/en", "Path prefix the API is served under")
	cmd.Flags().DurationVar(&latency, "latency", 0, "Delay added to every response")
	cmd.Flags().IntVar(&opts.Series, "series", opts.Series, "Number of series")
	cmd.Flags().IntVar(&opts.SetsPerSeries, "sets-per-series", opts.SetsPerSeries, "Sets per series")
	cmd.Flags().IntVar(&opts.CardsPerSet, "cards-per-set", opts.CardsPerSet, "Cards per set")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "Seed for generated names")
	return cmd
}

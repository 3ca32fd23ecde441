package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/catalog"
	"github.com/mappy4ever/tcgsync/internal/infra/repos/runs"
	"github.com/mappy4ever/tcgsync/internal/logging"
	"github.com/mappy4ever/tcgsync/internal/metrics"
	"github.com/mappy4ever/tcgsync/internal/transform"
	"github.com/mappy4ever/tcgsync/internal/upstream"
)

// ErrSetNotFound is the fatal outcome of a set-scope run whose set is missing
// upstream.
var ErrSetNotFound = errors.New("set not found upstream")

// Source is the read side of the upstream catalog. *upstream.Client
// implements it.
type Source interface {
	SeriesList(ctx context.Context) ([]upstream.SerieBrief, error)
	Serie(ctx context.Context, id string) (*upstream.Serie, error)
	Set(ctx context.Context, id string) (*upstream.Set, error)
	Card(ctx context.Context, id string) (*upstream.Card, error)
}

// Catalog is the store surface a sync writes through.
type Catalog interface {
	UpsertSeries(ctx context.Context, sr *domain.Series) (bool, error)
	UpsertSet(ctx context.Context, st *domain.Set) (bool, error)
	MarkSetSynced(ctx context.Context, id string, at time.Time) error
	UpsertCards(ctx context.Context, cards []*domain.Card) (catalog.UpsertResult, error)
	UpsertPrices(ctx context.Context, recs []*domain.PriceRecord) (catalog.UpsertResult, error)
	SetSyncStates(ctx context.Context) (map[string]time.Time, error)
	CardSyncStates(ctx context.Context, setID string) (map[string]domain.CardState, error)
}

type OrchestratorConfig struct {
	BatchSize    int
	RecordPrices bool
}

// Orchestrator runs the set, full and delta algorithms against an opened
// SyncRun.
type Orchestrator struct {
	source  Source
	catalog Catalog
	tracker *Tracker
	cfg     OrchestratorConfig
	logger  *logging.Logger
	now     func() time.Time
}

func NewOrchestrator(source Source, store Catalog, tracker *Tracker, cfg OrchestratorConfig, logger *logging.Logger) *Orchestrator {
	switch {
	case cfg.BatchSize < 1:
		cfg.BatchSize = DefaultBatchSize
	case cfg.BatchSize > MaxBatchSize:
		cfg.BatchSize = MaxBatchSize
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		source:  source,
		catalog: store,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger.WithComponent("orchestrator"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// runState carries what one execution accumulates across sets.
type runState struct {
	run    *domain.SyncRun
	stats  *domain.SyncStats
	series map[string]bool
	delta  bool
}

// Run opens a run for scope and executes it synchronously.
func (o *Orchestrator) Run(ctx context.Context, scope domain.SyncScope, targetID string) (*domain.SyncRun, *domain.SyncStats, error) {
	run, err := o.tracker.Open(ctx, scope, targetID)
	if err != nil {
		return nil, nil, err
	}
	stats, err := o.Execute(ctx, run)
	return run, stats, err
}

// Execute processes an opened run and closes it exactly once: completed, or
// failed on a fatal error or panic. The returned error is the fatal cause.
func (o *Orchestrator) Execute(ctx context.Context, run *domain.SyncRun) (stats *domain.SyncStats, err error) {
	stats = &domain.SyncStats{}
	st := &runState{
		run:    run,
		stats:  stats,
		series: map[string]bool{},
		delta:  run.Scope == domain.SyncScopeDelta,
	}
	log := o.logger.With(map[string]any{"run_id": run.ID, "scope": run.Scope})
	log.Infow("sync.run.started", map[string]any{"target_id": run.TargetID})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
			log.Errorw("sync.run.panic", map[string]any{"panic": fmt.Sprint(r), "stack": string(debug.Stack())})
		}
		status := domain.RunStatusCompleted
		if err != nil {
			status = domain.RunStatusFailed
		}
		// the terminal write must land even when ctx was cancelled
		if closeErr := o.tracker.Close(context.WithoutCancel(ctx), run, status, stats, err); closeErr != nil {
			log.Errorw("sync.run.close_failed", map[string]any{"error": closeErr.Error()})
			if err == nil {
				err = closeErr
			}
		}
	}()

	switch run.Scope {
	case domain.SyncScopeSet:
		if run.TargetID == "" {
			return stats, errors.New("set sync requires a set id")
		}
		err = o.syncSet(ctx, st, run.TargetID)
	case domain.SyncScopeFull, domain.SyncScopeDelta:
		err = o.syncCatalog(ctx, st)
	default:
		err = fmt.Errorf("unknown sync scope %q", run.Scope)
	}
	return stats, err
}

// syncCatalog walks /series and every set of every series. Failures below the
// series list are recorded and the walk continues.
func (o *Orchestrator) syncCatalog(ctx context.Context, st *runState) error {
	list, err := o.source.SeriesList(ctx)
	if err != nil {
		return fmt.Errorf("fetch series list: %w", err)
	}
	if list == nil {
		return fmt.Errorf("fetch series list: %w", upstream.ErrUnavailable)
	}

	var known map[string]time.Time
	if st.delta {
		if known, err = o.catalog.SetSyncStates(ctx); err != nil {
			return fmt.Errorf("load set sync states: %w", err)
		}
	}

	for _, brief := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		serie, err := o.source.Serie(ctx, brief.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.stats.AddError(fmt.Sprintf("fetch series %s: %v", brief.ID, err))
			continue
		}
		if serie == nil {
			st.stats.AddError(fmt.Sprintf("series %s not found upstream", brief.ID))
			continue
		}
		if err := o.upsertSeries(ctx, st, transform.Series(serie, o.now())); err != nil {
			st.stats.AddError(err.Error())
			continue
		}

		for _, sb := range serie.Sets {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.walkSet(ctx, st, sb.ID, known); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, runs.ErrRunNotRunning) {
					return err
				}
				st.stats.SetsFailed++
				st.stats.AddError(err.Error())
				metrics.Items.WithLabelValues("set", "failed").Inc()
				o.logger.Warnw("sync.set.failed", map[string]any{"run_id": st.run.ID, "set_id": sb.ID, "error": err.Error()})
			}
			if err := o.progress(ctx, st); err != nil {
				return err
			}
		}
	}
	return nil
}

// walkSet syncs one set of the catalog walk, applying the delta filter.
func (o *Orchestrator) walkSet(ctx context.Context, st *runState, setID string, known map[string]time.Time) error {
	if !st.delta {
		return o.syncSet(ctx, st, setID)
	}

	set, err := o.fetchSet(ctx, st, setID)
	if err != nil {
		return err
	}
	lastSynced, exists := known[setID]
	// a zero stamp marks a set whose cards never all landed
	if exists && !lastSynced.IsZero() {
		marker := transform.ParseUpdated(set.Updated)
		if marker == nil || !marker.After(lastSynced) {
			st.stats.SetsSkipped++
			metrics.Items.WithLabelValues("set", "skipped").Inc()
			return nil
		}
	}

	var states map[string]domain.CardState
	if exists {
		if states, err = o.catalog.CardSyncStates(ctx, setID); err != nil {
			return fmt.Errorf("load card states for %s: %w", setID, err)
		}
	}
	return o.processSet(ctx, st, set, states)
}

// syncSet is the set-scope algorithm, also used for every set of a full walk.
func (o *Orchestrator) syncSet(ctx context.Context, st *runState, setID string) error {
	set, err := o.fetchSet(ctx, st, setID)
	if err != nil {
		return err
	}
	return o.processSet(ctx, st, set, nil)
}

func (o *Orchestrator) fetchSet(ctx context.Context, st *runState, setID string) (*upstream.Set, error) {
	set, err := o.source.Set(ctx, setID)
	if err != nil {
		return nil, fmt.Errorf("fetch set %s: %w", setID, err)
	}
	if set == nil {
		return nil, fmt.Errorf("%w: %s", ErrSetNotFound, setID)
	}
	st.stats.SetsChecked++
	return set, nil
}

// processSet upserts the set's series and the set, then every listed card in
// upstream order. With states non-nil, cards that did not change since their
// last sync are not rewritten. The set's last_synced_at only advances once
// all of its cards were written, so a delta retries a partly failed set.
func (o *Orchestrator) processSet(ctx context.Context, st *runState, set *upstream.Set, states map[string]domain.CardState) error {
	start := time.Now()
	now := o.now()
	stats := st.stats

	if set.Serie != nil && set.Serie.ID != "" && !st.series[set.Serie.ID] {
		if err := o.upsertSeries(ctx, st, transform.SeriesFromBrief(set.Serie, now)); err != nil {
			return err
		}
	}
	setRow := transform.Set(set, now)
	setRow.LastSyncedAt = time.Time{}
	created, err := o.catalog.UpsertSet(ctx, setRow)
	if err != nil {
		return err
	}
	failedBefore := stats.CardsFailed
	if created {
		stats.SetsCreated++
		metrics.Items.WithLabelValues("set", "created").Inc()
	} else {
		stats.SetsUpdated++
		metrics.Items.WithLabelValues("set", "updated").Inc()
	}

	cards := NewBatchWriter[*domain.Card]("cards", o.cfg.BatchSize, o.catalog.UpsertCards)
	base := *stats
	cards.OnFlush(func(r WriteResult) {
		snap := base
		snap.CardsCreated += r.Created
		snap.CardsUpdated += r.Updated
		snap.CardsFailed += r.Failed
		if err := o.tracker.Progress(ctx, st.run, &snap); err != nil {
			o.logger.Debugw("sync.progress.skipped", map[string]any{"run_id": st.run.ID, "error": err.Error()})
		}
	})
	var prices *BatchWriter[*domain.PriceRecord]
	if o.cfg.RecordPrices {
		prices = NewBatchWriter[*domain.PriceRecord]("price_history", o.cfg.BatchSize, o.catalog.UpsertPrices)
	}

	for _, brief := range set.Cards {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.CardsChecked++
		base.CardsChecked++

		c, err := o.source.Card(ctx, brief.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.CardsFailed++
			base.CardsFailed++
			stats.AddError(fmt.Sprintf("fetch card %s: %v", brief.ID, err))
			metrics.Items.WithLabelValues("card", "failed").Inc()
			continue
		}
		if c == nil {
			stats.CardsNotFound++
			metrics.Items.WithLabelValues("card", "not_found").Inc()
			continue
		}

		row, err := transform.Card(c, set.ID, now)
		if err != nil {
			stats.CardsFailed++
			base.CardsFailed++
			stats.AddError(err.Error())
			metrics.Items.WithLabelValues("card", "failed").Inc()
			continue
		}
		if prices != nil {
			if p := transform.Price(c, set.ID, now); p != nil {
				prices.Add(ctx, p)
			}
		}
		if prev, ok := states[row.ID]; ok && unchanged(row, prev) {
			stats.CardsUnchanged++
			metrics.Items.WithLabelValues("card", "unchanged").Inc()
			continue
		}
		cards.Add(ctx, row)
	}

	cr := cards.Flush(ctx)
	stats.CardsCreated += cr.Created
	stats.CardsUpdated += cr.Updated
	stats.CardsFailed += cr.Failed
	metrics.Items.WithLabelValues("card", "created").Add(float64(cr.Created))
	metrics.Items.WithLabelValues("card", "updated").Add(float64(cr.Updated))
	metrics.Items.WithLabelValues("card", "failed").Add(float64(cr.Failed))
	for _, e := range cr.Errors {
		stats.AddError(e.Error())
	}
	if stats.CardsFailed == failedBefore {
		if err := o.catalog.MarkSetSynced(ctx, set.ID, now); err != nil {
			return err
		}
	}
	if prices != nil {
		pr := prices.Flush(ctx)
		stats.PricesRecorded += pr.Written
		stats.PricesFailed += pr.Failed
		for _, e := range pr.Errors {
			stats.AddError(e.Error())
		}
	}

	o.logger.Infow("sync.set.completed", map[string]any{
		"run_id":        st.run.ID,
		"set_id":        set.ID,
		"cards_listed":  len(set.Cards),
		"cards_written": cr.Written,
		"cards_failed":  cr.Failed,
		"duration_ms":   logging.Since(start),
	})
	return nil
}

// upsertSeries writes a series at most once per run.
func (o *Orchestrator) upsertSeries(ctx context.Context, st *runState, sr *domain.Series) error {
	if st.series[sr.ID] {
		return nil
	}
	st.stats.SeriesChecked++
	created, err := o.catalog.UpsertSeries(ctx, sr)
	if err != nil {
		return err
	}
	st.series[sr.ID] = true
	if created {
		st.stats.SeriesCreated++
		metrics.Items.WithLabelValues("series", "created").Inc()
	} else {
		st.stats.SeriesUpdated++
		metrics.Items.WithLabelValues("series", "updated").Inc()
	}
	return nil
}

// progress writes the counters after a set. Only a run closed underneath us
// stops the walk.
func (o *Orchestrator) progress(ctx context.Context, st *runState) error {
	err := o.tracker.Progress(ctx, st.run, st.stats)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, runs.ErrRunNotRunning):
		return fmt.Errorf("run %s was closed while executing: %w", st.run.ID, err)
	default:
		o.logger.Warnw("sync.progress.failed", map[string]any{"run_id": st.run.ID, "error": err.Error()})
		return nil
	}
}

// unchanged decides whether a stored card can be left alone. The upstream
// marker wins when present; otherwise content hashes are compared.
func unchanged(row *domain.Card, prev domain.CardState) bool {
	if row.UpstreamUpdatedAt != nil {
		return !row.UpstreamUpdatedAt.After(prev.LastSyncedAt)
	}
	return row.ContentHash != "" && row.ContentHash == prev.ContentHash
}

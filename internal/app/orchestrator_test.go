package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/catalog"
	"github.com/mappy4ever/tcgsync/internal/upstream"
	"github.com/mappy4ever/tcgsync/internal/upstream/fakeapi"
)

func TestSetSync_EndToEnd(t *testing.T) {
	env := newTestEnv(t, baseSet(), OrchestratorConfig{BatchSize: 50, RecordPrices: true})
	ctx := context.Background()

	run, stats, err := env.orch.Run(ctx, domain.SyncScopeSet, "base1")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	require.Equal(t, 1, stats.SeriesCreated)
	require.Equal(t, 1, stats.SetsCreated)
	require.Equal(t, 3, stats.CardsChecked)
	require.Equal(t, 3, stats.CardsCreated)
	require.Equal(t, 2, stats.PricesRecorded)
	require.Zero(t, stats.CardsFailed)

	zard, err := env.catalog.GetCard(ctx, "base1-4")
	require.NoError(t, err)
	require.Equal(t, 120, *zard.HP)
	require.Equal(t, "https://assets.tcgdex.net/en/base/base1/4/low.webp", *zard.ImageSmall)
	require.Equal(t, "https://assets.tcgdex.net/en/base/base1/4/high.webp", *zard.ImageLarge)

	bill, err := env.catalog.GetCard(ctx, "base1-91")
	require.NoError(t, err)
	require.Nil(t, bill.HP, "absent hp stays NULL")
	require.Equal(t, "Supporter", *bill.TrainerType)

	energy, err := env.catalog.GetCard(ctx, "base1-102")
	require.NoError(t, err)
	require.Nil(t, energy.ImageSmall)
	require.Nil(t, energy.ImageLarge)

	stored, err := env.repo.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	require.Equal(t, 3, stored.ItemsChecked)
	require.Equal(t, 3, stored.ItemsCreated)
	require.Equal(t, "base1", stored.TargetID)
}

func TestSetSync_IsIdempotent(t *testing.T) {
	env := newTestEnv(t, baseSet(), OrchestratorConfig{BatchSize: 2, RecordPrices: true})
	ctx := context.Background()

	_, _, err := env.orch.Run(ctx, domain.SyncScopeSet, "base1")
	require.NoError(t, err)
	first, err := env.catalog.GetCard(ctx, "base1-4")
	require.NoError(t, err)

	_, stats, err := env.orch.Run(ctx, domain.SyncScopeSet, "base1")
	require.NoError(t, err)
	require.Zero(t, stats.CardsCreated)
	require.Equal(t, 3, stats.CardsUpdated)
	require.Equal(t, 1, stats.SetsUpdated)
	require.Equal(t, 1, stats.SeriesUpdated)

	n, err := env.catalog.CountCards(ctx, "base1")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	prices, err := env.catalog.CountPrices(ctx, "base1-4")
	require.NoError(t, err)
	require.Equal(t, 1, prices, "one snapshot per card and day")

	second, err := env.catalog.GetCard(ctx, "base1-4")
	require.NoError(t, err)
	require.Equal(t, first.ContentHash, second.ContentHash)
}

func TestSetSync_CardFailureIsIsolated(t *testing.T) {
	api := baseSet()
	api.FailAlways("/cards/base1-91")
	env := newTestEnv(t, api, OrchestratorConfig{BatchSize: 50})
	ctx := context.Background()

	run, stats, err := env.orch.Run(ctx, domain.SyncScopeSet, "base1")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	require.Equal(t, 1, stats.CardsFailed)
	require.Equal(t, 2, stats.CardsCreated)
	require.Equal(t, 3, api.Hits("/cards/base1-91"), "three attempts per resource")
	require.Contains(t, run.ErrorMessage, "base1-91")

	_, err = env.catalog.GetCard(ctx, "base1-102")
	require.NoError(t, err, "cards after the failure are still written")
}

func TestSetSync_TransientFailureRecovers(t *testing.T) {
	api := baseSet()
	api.FailTimes("/cards/base1-4", 2)
	env := newTestEnv(t, api, OrchestratorConfig{BatchSize: 50})

	_, stats, err := env.orch.Run(context.Background(), domain.SyncScopeSet, "base1")
	require.NoError(t, err)
	require.Zero(t, stats.CardsFailed)
	require.Equal(t, 3, stats.CardsCreated)
	require.Equal(t, 3, api.Hits("/cards/base1-4"))
}

func TestSetSync_MissingCardIsNotAFailure(t *testing.T) {
	api := baseSet()
	api.AddBrief("base1", upstream.CardBrief{ID: "base1-999", LocalID: "999", Name: "Ghost"})
	env := newTestEnv(t, api, OrchestratorConfig{BatchSize: 50})

	run, stats, err := env.orch.Run(context.Background(), domain.SyncScopeSet, "base1")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	require.Equal(t, 4, stats.CardsChecked)
	require.Equal(t, 1, stats.CardsNotFound)
	require.Zero(t, stats.CardsFailed)
}

func TestSetSync_FatalOutcomes(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		env := newTestEnv(t, baseSet(), OrchestratorConfig{})
		run, _, err := env.orch.Run(context.Background(), domain.SyncScopeSet, "nope")
		require.ErrorIs(t, err, ErrSetNotFound)
		require.Equal(t, domain.RunStatusFailed, run.Status)

		stored, err := env.repo.Get(context.Background(), run.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RunStatusFailed, stored.Status)
		require.Contains(t, stored.ErrorMessage, "nope")
	})
	t.Run("unavailable", func(t *testing.T) {
		api := baseSet()
		api.FailAlways("/sets/base1")
		env := newTestEnv(t, api, OrchestratorConfig{})
		run, _, err := env.orch.Run(context.Background(), domain.SyncScopeSet, "base1")
		require.ErrorIs(t, err, upstream.ErrUnavailable)
		require.Equal(t, domain.RunStatusFailed, run.Status)
		require.Equal(t, 3, api.Hits("/sets/base1"))
		require.Zero(t, api.Hits("/cards/base1-4"))
	})
}

func TestFullSync_WalksCatalog(t *testing.T) {
	api := fakeapi.Generate(fakeapi.DefaultGenerateOptions())
	env := newTestEnv(t, api, OrchestratorConfig{BatchSize: 5, RecordPrices: true})
	ctx := context.Background()

	run, err := env.tracker.Open(ctx, domain.SyncScopeFull, "")
	require.NoError(t, err)
	stats, err := env.orch.Execute(ctx, run)
	require.NoError(t, err)

	require.Equal(t, 2, stats.SeriesCreated, "series are written once per run")
	require.Equal(t, 2, stats.SeriesChecked)
	require.Equal(t, 4, stats.SetsCreated)
	require.Equal(t, 48, stats.CardsCreated)
	require.Equal(t, 48, stats.PricesRecorded)

	for _, setID := range api.SetIDs() {
		n, err := env.catalog.CountCards(ctx, setID)
		require.NoError(t, err)
		require.Equal(t, 12, n, setID)
	}
	trainer, err := env.catalog.GetCard(ctx, "s1-1-5")
	require.NoError(t, err)
	require.Equal(t, "Trainer", trainer.Category)
	require.Nil(t, trainer.HP)

	stored, err := env.repo.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, stored.Status)
	require.Equal(t, 48, stored.ItemsCreated)
}

func TestFullSync_SetFailureIsNotFatal(t *testing.T) {
	api := fakeapi.Generate(fakeapi.DefaultGenerateOptions())
	api.FailAlways("/sets/s1-2")
	env := newTestEnv(t, api, OrchestratorConfig{BatchSize: 50})

	run, stats, err := env.orch.Run(context.Background(), domain.SyncScopeFull, "")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusCompleted, run.Status)
	require.Equal(t, 1, stats.SetsFailed)
	require.Equal(t, 3, stats.SetsCreated)
	require.Equal(t, 36, stats.CardsCreated)
	require.Contains(t, run.ErrorMessage, "s1-2")
}

func TestFullSync_SeriesListUnavailableIsFatal(t *testing.T) {
	api := fakeapi.Generate(fakeapi.DefaultGenerateOptions())
	api.FailAlways("/series")
	env := newTestEnv(t, api, OrchestratorConfig{})

	run, _, err := env.orch.Run(context.Background(), domain.SyncScopeFull, "")
	require.ErrorIs(t, err, upstream.ErrUnavailable)
	require.Equal(t, domain.RunStatusFailed, run.Status)
}

func TestDeltaSync_SkipsUnchanged(t *testing.T) {
	api := fakeapi.Generate(fakeapi.DefaultGenerateOptions())
	env := newTestEnv(t, api, OrchestratorConfig{BatchSize: 50})
	ctx := context.Background()

	_, _, err := env.orch.Run(ctx, domain.SyncScopeFull, "")
	require.NoError(t, err)

	// nothing changed upstream: every set is skipped
	env.orch.now = func() time.Time { return t0.Add(time.Hour) }
	_, stats, err := env.orch.Run(ctx, domain.SyncScopeDelta, "")
	require.NoError(t, err)
	require.Equal(t, 4, stats.SetsSkipped)
	require.Zero(t, stats.CardsChecked)

	// s1-1 is touched; inside it one card carries a newer marker, one changed
	// content without a marker, the rest are identical
	api.TouchSet("s1-1", t0.Add(90*time.Minute))
	api.TouchCard("s1-1-1", t0.Add(90*time.Minute))
	api.UpdateCard("s1-1-2", func(c *upstream.Card) { c.Name = c.Name + " ex" })
	api.AddSet(upstream.Set{ID: "s2-9", Name: "Fresh", Serie: &upstream.SerieBrief{ID: "s2"}})
	api.AddCard("s2-9", upstream.Card{ID: "s2-9-1", LocalID: "1", Name: "Newcomer", Category: "Pokemon", HP: intp(60)})

	env.orch.now = func() time.Time { return t0.Add(2 * time.Hour) }
	_, stats, err = env.orch.Run(ctx, domain.SyncScopeDelta, "")
	require.NoError(t, err)
	require.Equal(t, 3, stats.SetsSkipped)
	require.Equal(t, 1, stats.SetsUpdated)
	require.Equal(t, 1, stats.SetsCreated)
	require.Equal(t, 13, stats.CardsChecked)
	require.Equal(t, 2, stats.CardsUpdated)
	require.Equal(t, 1, stats.CardsCreated)
	require.Equal(t, 10, stats.CardsUnchanged)

	renamed, err := env.catalog.GetCard(ctx, "s1-1-2")
	require.NoError(t, err)
	require.Contains(t, renamed.Name, " ex")
	untouched, err := env.catalog.GetCard(ctx, "s1-1-3")
	require.NoError(t, err)
	require.True(t, untouched.LastSyncedAt.Equal(t0), "unchanged cards are not rewritten")
}

func TestDeltaSync_RetriesPartlyFailedSet(t *testing.T) {
	api := fakeapi.Generate(fakeapi.DefaultGenerateOptions())
	api.FailAlways("/cards/s1-1-3")
	env := newTestEnv(t, api, OrchestratorConfig{BatchSize: 50})
	ctx := context.Background()

	_, stats, err := env.orch.Run(ctx, domain.SyncScopeFull, "")
	require.NoError(t, err)
	require.Equal(t, 1, stats.CardsFailed)

	partial, err := env.catalog.GetSet(ctx, "s1-1")
	require.NoError(t, err)
	require.True(t, partial.LastSyncedAt.IsZero(), "a set with failed cards keeps no sync stamp")
	complete, err := env.catalog.GetSet(ctx, "s1-2")
	require.NoError(t, err)
	require.True(t, complete.LastSyncedAt.Equal(t0))

	// the set is retried without any upstream change
	api.Heal("/cards/s1-1-3")
	env.orch.now = func() time.Time { return t0.Add(time.Hour) }
	_, stats, err = env.orch.Run(ctx, domain.SyncScopeDelta, "")
	require.NoError(t, err)
	require.Equal(t, 3, stats.SetsSkipped)
	require.Equal(t, 1, stats.SetsUpdated)
	require.Equal(t, 1, stats.CardsCreated)
	require.Equal(t, 11, stats.CardsUnchanged)
	require.Zero(t, stats.CardsFailed)

	healed, err := env.catalog.GetSet(ctx, "s1-1")
	require.NoError(t, err)
	require.True(t, healed.LastSyncedAt.Equal(t0.Add(time.Hour)))

	env.orch.now = func() time.Time { return t0.Add(2 * time.Hour) }
	_, stats, err = env.orch.Run(ctx, domain.SyncScopeDelta, "")
	require.NoError(t, err)
	require.Equal(t, 4, stats.SetsSkipped)
}

// recordingCatalog logs the order of catalog writes and whether the parent
// set row exists when a card batch is written.
type recordingCatalog struct {
	*catalog.Store
	calls []string
}

func (r *recordingCatalog) UpsertSeries(ctx context.Context, sr *domain.Series) (bool, error) {
	r.calls = append(r.calls, "series:"+sr.ID)
	return r.Store.UpsertSeries(ctx, sr)
}

func (r *recordingCatalog) UpsertSet(ctx context.Context, st *domain.Set) (bool, error) {
	r.calls = append(r.calls, "set:"+st.ID)
	return r.Store.UpsertSet(ctx, st)
}

func (r *recordingCatalog) UpsertCards(ctx context.Context, cards []*domain.Card) (catalog.UpsertResult, error) {
	call := fmt.Sprintf("cards:%d", len(cards))
	if _, err := r.Store.GetSet(ctx, cards[0].SetID); err != nil {
		call += ":orphan"
	}
	r.calls = append(r.calls, call)
	return r.Store.UpsertCards(ctx, cards)
}

func (r *recordingCatalog) MarkSetSynced(ctx context.Context, id string, at time.Time) error {
	r.calls = append(r.calls, "mark:"+id)
	return r.Store.MarkSetSynced(ctx, id, at)
}

func TestSetSync_WritesParentsBeforeCards(t *testing.T) {
	env := newTestEnv(t, baseSet(), OrchestratorConfig{})
	rec := &recordingCatalog{Store: env.catalog}
	orch := NewOrchestrator(env.client, rec, env.tracker, OrchestratorConfig{BatchSize: 2}, nil)

	_, _, err := orch.Run(context.Background(), domain.SyncScopeSet, "base1")
	require.NoError(t, err)
	require.Equal(t, []string{"series:base", "set:base1", "cards:2", "cards:1", "mark:base1"}, rec.calls)
}

func TestNewOrchestrator_BoundsBatchSize(t *testing.T) {
	env := newTestEnv(t, baseSet(), OrchestratorConfig{})
	require.Equal(t, DefaultBatchSize, env.orch.cfg.BatchSize)

	big := NewOrchestrator(env.client, env.catalog, env.tracker, OrchestratorConfig{BatchSize: 500}, nil)
	require.Equal(t, MaxBatchSize, big.cfg.BatchSize)
	small := NewOrchestrator(env.client, env.catalog, env.tracker, OrchestratorConfig{BatchSize: 7}, nil)
	require.Equal(t, 7, small.cfg.BatchSize)
}

func TestFullAndDeltaAreMutuallyExclusive(t *testing.T) {
	env := newTestEnv(t, baseSet(), OrchestratorConfig{})
	ctx := context.Background()

	full, err := env.tracker.Open(ctx, domain.SyncScopeFull, "")
	require.NoError(t, err)

	_, err = env.tracker.Open(ctx, domain.SyncScopeDelta, "")
	require.ErrorIs(t, err, ErrSyncInProgress)
	_, err = env.tracker.Open(ctx, domain.SyncScopeFull, "")
	require.ErrorIs(t, err, ErrSyncInProgress)

	// set syncs are not gated
	_, _, err = env.orch.Run(ctx, domain.SyncScopeSet, "base1")
	require.NoError(t, err)

	require.NoError(t, env.tracker.Close(ctx, full, domain.RunStatusCompleted, &domain.SyncStats{}, nil))
	_, err = env.tracker.Open(ctx, domain.SyncScopeDelta, "")
	require.NoError(t, err)
}

type panickingSource struct{}

func (panickingSource) SeriesList(context.Context) ([]upstream.SerieBrief, error) { return nil, nil }
func (panickingSource) Serie(context.Context, string) (*upstream.Serie, error)    { return nil, nil }
func (panickingSource) Card(context.Context, string) (*upstream.Card, error)      { return nil, nil }
func (panickingSource) Set(context.Context, string) (*upstream.Set, error) {
	panic("decoder exploded")
}

func TestExecute_RecoversPanic(t *testing.T) {
	env := newTestEnv(t, baseSet(), OrchestratorConfig{})
	orch := NewOrchestrator(panickingSource{}, env.catalog, env.tracker, OrchestratorConfig{}, nil)

	run, _, err := orch.Run(context.Background(), domain.SyncScopeSet, "base1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decoder exploded")
	require.Equal(t, domain.RunStatusFailed, run.Status)

	stored, err := env.repo.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, stored.Status)
}

type cancelingSource struct {
	Source
	cancel context.CancelFunc
}

func (s cancelingSource) Card(ctx context.Context, id string) (*upstream.Card, error) {
	c, err := s.Source.Card(ctx, id)
	s.cancel()
	return c, err
}

func TestExecute_CancellationClosesRunAsFailed(t *testing.T) {
	env := newTestEnv(t, baseSet(), OrchestratorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := NewOrchestrator(cancelingSource{Source: env.client, cancel: cancel}, env.catalog, env.tracker, OrchestratorConfig{}, nil)

	run, err := env.tracker.Open(context.Background(), domain.SyncScopeSet, "base1")
	require.NoError(t, err)
	_, err = orch.Execute(ctx, run)
	require.True(t, errors.Is(err, context.Canceled), fmt.Sprint(err))

	stored, err := env.repo.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusFailed, stored.Status)
}

func TestUnchanged(t *testing.T) {
	synced := t0
	later := t0.Add(time.Minute)
	earlier := t0.Add(-time.Minute)

	require.True(t, unchanged(&domain.Card{UpstreamUpdatedAt: &earlier, ContentHash: "a"}, domain.CardState{LastSyncedAt: synced, ContentHash: "b"}),
		"marker wins over hash")
	require.False(t, unchanged(&domain.Card{UpstreamUpdatedAt: &later, ContentHash: "a"}, domain.CardState{LastSyncedAt: synced, ContentHash: "a"}))
	require.True(t, unchanged(&domain.Card{ContentHash: "a"}, domain.CardState{LastSyncedAt: synced, ContentHash: "a"}))
	require.False(t, unchanged(&domain.Card{ContentHash: "a"}, domain.CardState{LastSyncedAt: synced, ContentHash: "b"}))
	require.False(t, unchanged(&domain.Card{}, domain.CardState{}))
}

package catalog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "catalog.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return New(db)
}

func sp(s string) *string { return &s }
func ip(i int) *int       { return &i }
func bp(b bool) *bool     { return &b }

var synced = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedSet(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	created, err := s.UpsertSeries(ctx, &domain.Series{ID: "base", Name: "Base", LastSyncedAt: synced})
	require.NoError(t, err)
	require.True(t, created)
	created, err = s.UpsertSet(ctx, &domain.Set{ID: "base1", SeriesID: sp("base"), Name: "Base Set", TotalCards: ip(102), LastSyncedAt: synced})
	require.NoError(t, err)
	require.True(t, created)
}

func TestUpsertSeriesAndSetReportCreatedThenUpdated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSet(t, s)

	created, err := s.UpsertSet(ctx, &domain.Set{ID: "base1", SeriesID: sp("base"), Name: "Base Set (renamed)", LastSyncedAt: synced.Add(time.Hour)})
	require.NoError(t, err)
	require.False(t, created)

	got, err := s.GetSet(ctx, "base1")
	require.NoError(t, err)
	require.Equal(t, "Base Set (renamed)", got.Name)
	require.Nil(t, got.TotalCards, "upsert overwrites every attribute")
	require.True(t, got.LastSyncedAt.Equal(synced), "upsert keeps the sync stamp")

	require.NoError(t, s.MarkSetSynced(ctx, "base1", synced.Add(2*time.Hour)))
	got, err = s.GetSet(ctx, "base1")
	require.NoError(t, err)
	require.True(t, got.LastSyncedAt.Equal(synced.Add(2*time.Hour)))
	require.ErrorIs(t, s.MarkSetSynced(ctx, "missing", synced), ErrNotFound)

	states, err := s.SetSyncStates(ctx)
	require.NoError(t, err)
	require.True(t, states["base1"].Equal(synced.Add(2*time.Hour)))

	_, err = s.GetSet(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertCardsRoundTripAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSet(t, s)

	cards := []*domain.Card{
		{
			ID: "base1-4", LocalID: "4", SetID: "base1", Name: "Charizard", Category: "Pokemon",
			HP: ip(120), Types: []string{"Fire"}, Attacks: json.RawMessage(`[{"name":"Fire Spin"}]`),
			DexIDs: []int{6}, ImageSmall: sp("x/low.webp"), ImageLarge: sp("x/high.webp"),
			HasHolo: bp(true), ContentHash: "h1", LastSyncedAt: synced,
		},
		{ID: "base1-91", LocalID: "91", SetID: "base1", Name: "Bill", Category: "Trainer", ContentHash: "h2", LastSyncedAt: synced},
	}
	res, err := s.UpsertCards(ctx, cards)
	require.NoError(t, err)
	require.Equal(t, UpsertResult{Created: 2}, res)

	got, err := s.GetCard(ctx, "base1-4")
	require.NoError(t, err)
	require.Equal(t, 120, *got.HP)
	require.Equal(t, []string{"Fire"}, got.Types)
	require.Equal(t, []int{6}, got.DexIDs)
	require.JSONEq(t, `[{"name":"Fire Spin"}]`, string(got.Attacks))
	require.True(t, *got.HasHolo)
	require.Nil(t, got.HasReverse)
	require.Equal(t, "x/high.webp", *got.ImageLarge)

	trainer, err := s.GetCard(ctx, "base1-91")
	require.NoError(t, err)
	require.Nil(t, trainer.HP, "absent hp stays NULL")
	require.Nil(t, trainer.Types)

	res, err = s.UpsertCards(ctx, cards)
	require.NoError(t, err)
	require.Equal(t, UpsertResult{Updated: 2}, res)

	n, err := s.CountCards(ctx, "base1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	states, err := s.CardSyncStates(ctx, "base1")
	require.NoError(t, err)
	require.Equal(t, "h1", states["base1-4"].ContentHash)
	require.True(t, states["base1-4"].LastSyncedAt.Equal(synced))
}

func TestUpsertCardsBatchIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSet(t, s)

	good := &domain.Card{ID: "base1-1", LocalID: "1", SetID: "base1", Name: "Alakazam", Category: "Pokemon", LastSyncedAt: synced}
	orphan := &domain.Card{ID: "nope-1", LocalID: "1", SetID: "nope", Name: "Ghost", Category: "Pokemon", LastSyncedAt: synced}

	_, err := s.UpsertCards(ctx, []*domain.Card{good, orphan})
	require.Error(t, err, "a card whose set was never written violates the foreign key")

	n, err := s.CountCards(ctx, "base1")
	require.NoError(t, err)
	require.Equal(t, 0, n, "the whole batch rolls back")
}

func TestUpsertPricesOnePerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m1, m2 := 10.0, 12.5

	rec := &domain.PriceRecord{CardID: "base1-4", CardName: "Charizard", SetID: sp("base1"), TCGPlayerMarket: &m1, RecordedAt: "2026-03-01"}
	_, err := s.UpsertPrices(ctx, []*domain.PriceRecord{rec})
	require.NoError(t, err)

	rec2 := *rec
	rec2.TCGPlayerMarket = &m2
	_, err = s.UpsertPrices(ctx, []*domain.PriceRecord{&rec2})
	require.NoError(t, err)

	n, err := s.CountPrices(ctx, "base1-4")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec3 := rec2
	rec3.RecordedAt = "2026-03-02"
	_, err = s.UpsertPrices(ctx, []*domain.PriceRecord{&rec3})
	require.NoError(t, err)
	n, _ = s.CountPrices(ctx, "base1-4")
	require.Equal(t, 2, n)
}

func TestUpdateSetClause(t *testing.T) {
	got := updateSetClause("a, b,\n\tc", "a")
	require.Equal(t, "b = excluded.b, c = excluded.c", got)
	require.Equal(t, "?, ?, ?", placeholders(3))
}

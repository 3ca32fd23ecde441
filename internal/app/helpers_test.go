package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mappy4ever/tcgsync/internal/infra/catalog"
	"github.com/mappy4ever/tcgsync/internal/infra/repos/runs"
	"github.com/mappy4ever/tcgsync/internal/infra/store"
	"github.com/mappy4ever/tcgsync/internal/upstream"
	"github.com/mappy4ever/tcgsync/internal/upstream/fakeapi"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	api     *fakeapi.Server
	client  *upstream.Client
	db      *store.DB
	catalog *catalog.Store
	repo    runs.Repository
	tracker *Tracker
	orch    *Orchestrator
}

// newTestEnv wires an orchestrator against api over HTTP and a temp SQLite
// store. Retries are immediate so failure tests stay fast.
func newTestEnv(t *testing.T, api *fakeapi.Server, cfg OrchestratorConfig) *testEnv {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client, err := upstream.NewClient(
		upstream.WithBaseURL(srv.URL),
		upstream.WithRetry(3, 0),
		upstream.WithBreaker(0, 0),
	)
	require.NoError(t, err)

	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "tcgsync.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := runs.New(db)
	require.NoError(t, repo.Init(context.Background()))

	cat := catalog.New(db)
	tracker := NewTracker(repo, nil)
	orch := NewOrchestrator(client, cat, tracker, cfg, nil)
	orch.now = func() time.Time { return t0 }
	return &testEnv{api: api, client: client, db: db, catalog: cat, repo: repo, tracker: tracker, orch: orch}
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }
func floatp(f float64) *float64 {
	return &f
}

// baseSet registers series "base" with set "base1" holding a Pokemon with hp
// and an image, a Trainer without hp and a card without image or pricing.
func baseSet() *fakeapi.Server {
	api := fakeapi.New()
	api.AddSerie("base", "Base", strp("https://assets.tcgdex.net/en/base/logo"))
	api.AddSet(upstream.Set{ID: "base1", Name: "Base Set", Serie: &upstream.SerieBrief{ID: "base", Name: "Base"}})
	api.AddCard("base1", upstream.Card{
		ID: "base1-4", LocalID: "4", Name: "Charizard", Category: "Pokemon",
		HP:      intp(120),
		Types:   []string{"Fire"},
		Image:   strp("https://assets.tcgdex.net/en/base/base1/4"),
		Pricing: &upstream.Pricing{TCGPlayer: &upstream.TCGPlayerPrice{Market: floatp(350.5)}},
	})
	api.AddCard("base1", upstream.Card{
		ID: "base1-91", LocalID: "91", Name: "Bill", Category: "Trainer",
		TrainerType: strp("Supporter"),
		Image:       strp("https://assets.tcgdex.net/en/base/base1/91"),
		Pricing:     &upstream.Pricing{Cardmarket: &upstream.CardmarketPrice{Avg: floatp(0.4)}},
	})
	api.AddCard("base1", upstream.Card{ID: "base1-102", LocalID: "102", Name: "Water Energy", Category: "Energy"})
	return api
}

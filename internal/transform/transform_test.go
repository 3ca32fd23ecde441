package transform

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/upstream"
)

func sp(s string) *string   { return &s }
func ip(i int) *int         { return &i }
func bp(b bool) *bool       { return &b }
func fp(f float64) *float64 { return &f }

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestImageURLs(t *testing.T) {
	small, large := ImageURLs("https://assets.tcgdex.net/en/base/base1/4")
	require.Equal(t, "https://assets.tcgdex.net/en/base/base1/4/low.webp", *small)
	require.Equal(t, "https://assets.tcgdex.net/en/base/base1/4/high.webp", *large)

	small, large = ImageURLs("")
	require.Nil(t, small)
	require.Nil(t, large)
}

func TestCard_AbsentFieldsStayNull(t *testing.T) {
	c, err := Card(&upstream.Card{ID: "base1-90", LocalID: "90", Name: "Switch", Category: "Trainer", Stage: sp("")}, "base1", now)
	require.NoError(t, err)

	require.Nil(t, c.HP, "missing hp must not become 0")
	require.Nil(t, c.RetreatCost)
	require.Nil(t, c.Stage)
	require.Nil(t, c.ImageSmall)
	require.Nil(t, c.HasHolo)
	require.Nil(t, c.LegalExpanded)
	require.Nil(t, c.Attacks)
	require.Equal(t, "base1", c.SetID)
	require.NotEmpty(t, c.ContentHash)
	require.Equal(t, now, c.LastSyncedAt)
}

func TestCard_MapsPresentFields(t *testing.T) {
	src := &upstream.Card{
		ID: "base1-4", LocalID: "4", Name: "Charizard", Category: "Pokemon",
		Image:    sp("https://assets.tcgdex.net/en/base/base1/4"),
		HP:       ip(120),
		Types:    []string{"Fire"},
		Retreat:  ip(0),
		Attacks:  json.RawMessage(`[{"name":"Fire Spin"}]`),
		Variants: &upstream.Variants{Normal: bp(false), Holo: bp(true)},
		Legal:    &upstream.Legal{Standard: bp(false), Expanded: bp(false)},
		DexID:    []int{6},
		Updated:  sp("2026-02-01T00:00:00Z"),
	}
	c, err := Card(src, "base1", now)
	require.NoError(t, err)

	require.Equal(t, 120, *c.HP)
	require.Equal(t, 0, *c.RetreatCost, "zero retreat is real data")
	require.Equal(t, "https://assets.tcgdex.net/en/base/base1/4/high.webp", *c.ImageLarge)
	require.False(t, *c.HasNormal)
	require.True(t, *c.HasHolo)
	require.Nil(t, c.HasReverse)
	require.False(t, *c.LegalExpanded)
	require.JSONEq(t, `[{"name":"Fire Spin"}]`, string(c.Attacks))
	require.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), *c.UpstreamUpdatedAt)

	again, err := Card(src, "base1", now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, c.ContentHash, again.ContentHash)
}

func TestCard_HashFailureIsReturned(t *testing.T) {
	orig := hashCard
	t.Cleanup(func() { hashCard = orig })
	hashCard = func(*domain.Card) (string, error) { return "", errors.New("unsupported value") }

	c, err := Card(&upstream.Card{ID: "base1-4", LocalID: "4", Name: "Charizard", Category: "Pokemon"}, "base1", now)
	require.Nil(t, c)
	require.ErrorContains(t, err, "hash card base1-4")
}

func TestSet(t *testing.T) {
	s := Set(&upstream.Set{
		ID: "base1", Name: "Base Set",
		Serie:       &upstream.SerieBrief{ID: "base", Name: "Base"},
		CardCount:   &upstream.CardCount{Total: ip(102), Official: ip(102)},
		ReleaseDate: sp("1999-01-09"),
		Legal:       &upstream.Legal{Standard: bp(false), Expanded: bp(false)},
	}, now)

	require.Equal(t, "base", *s.SeriesID)
	require.Equal(t, 102, *s.TotalCards)
	require.Equal(t, "1999-01-09", *s.ReleaseDate)
	require.Nil(t, s.LogoURL)
	require.Nil(t, s.TCGOnlineCode)
	require.False(t, *s.LegalStandard)

	orphan := Set(&upstream.Set{ID: "promo", Name: "Promo"}, now)
	require.Nil(t, orphan.SeriesID)
	require.Nil(t, orphan.TotalCards)
}

func TestPrice(t *testing.T) {
	require.Nil(t, Price(&upstream.Card{ID: "x"}, "s", now))
	require.Nil(t, Price(&upstream.Card{ID: "x", Pricing: &upstream.Pricing{}}, "s", now))

	rec := Price(&upstream.Card{
		ID: "base1-4", Name: "Charizard",
		Pricing: &upstream.Pricing{
			TCGPlayer:  &upstream.TCGPlayerPrice{Market: fp(350.5)},
			Cardmarket: &upstream.CardmarketPrice{Avg: fp(300), AvgHolo: fp(420), Updated: sp("2026-02-28")},
		},
	}, "base1", now)
	require.NotNil(t, rec)
	require.Equal(t, "2026-03-01", rec.RecordedAt)
	require.Equal(t, "base1", *rec.SetID)
	require.Equal(t, 350.5, *rec.TCGPlayerMarket)
	require.Nil(t, rec.TCGPlayerLow)
	require.Equal(t, 420.0, *rec.CardmarketAvgHolo)
	require.Equal(t, "2026-02-28", *rec.CardmarketUpdatedAt)
}

func TestParseUpdated(t *testing.T) {
	require.Nil(t, ParseUpdated(nil))
	require.Nil(t, ParseUpdated(sp("yesterday")))
	got := ParseUpdated(sp("2026-01-02"))
	require.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), *got)
}

// Package transform maps upstream payloads to store rows. Every function is
// pure: the sync time and price day are passed in.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/hashing"
	"github.com/mappy4ever/tcgsync/internal/upstream"
)

const (
	smallImageSuffix = "/low.webp"
	largeImageSuffix = "/high.webp"
)

// ImageURLs derives the small and large image references from the upstream
// base image path. An empty base yields nil for both.
func ImageURLs(base string) (small, large *string) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, nil
	}
	s, l := base+smallImageSuffix, base+largeImageSuffix
	return &s, &l
}

func Series(s *upstream.Serie, now time.Time) *domain.Series {
	return &domain.Series{
		ID:           s.ID,
		Name:         s.Name,
		LogoURL:      nonEmpty(s.Logo),
		LastSyncedAt: now.UTC(),
	}
}

func SeriesFromBrief(s *upstream.SerieBrief, now time.Time) *domain.Series {
	return Series(&upstream.Serie{ID: s.ID, Name: s.Name, Logo: s.Logo}, now)
}

func Set(s *upstream.Set, now time.Time) *domain.Set {
	out := &domain.Set{
		ID:                s.ID,
		Name:              s.Name,
		LogoURL:           nonEmpty(s.Logo),
		SymbolURL:         nonEmpty(s.Symbol),
		ReleaseDate:       nonEmpty(s.ReleaseDate),
		TCGOnlineCode:     nonEmpty(s.TCGOnline),
		UpstreamUpdatedAt: ParseUpdated(s.Updated),
		LastSyncedAt:      now.UTC(),
	}
	if s.Serie != nil && s.Serie.ID != "" {
		id := s.Serie.ID
		out.SeriesID = &id
	}
	if s.CardCount != nil {
		out.TotalCards = s.CardCount.Total
		out.OfficialCards = s.CardCount.Official
	}
	if s.Legal != nil {
		out.LegalStandard = s.Legal.Standard
		out.LegalExpanded = s.Legal.Expanded
	}
	return out
}

var hashCard = hashing.HashCard

// Card maps a card payload to its row under setID and stamps its content hash.
func Card(c *upstream.Card, setID string, now time.Time) (*domain.Card, error) {
	out := &domain.Card{
		ID:                c.ID,
		LocalID:           c.LocalID,
		SetID:             setID,
		Name:              c.Name,
		Category:          c.Category,
		HP:                c.HP,
		Types:             c.Types,
		Stage:             nonEmpty(c.Stage),
		EvolveFrom:        nonEmpty(c.EvolveFrom),
		EvolveTo:          c.EvolveTo,
		Attacks:           nonNullRaw(c.Attacks),
		Abilities:         nonNullRaw(c.Abilities),
		Weaknesses:        nonNullRaw(c.Weaknesses),
		Resistances:       nonNullRaw(c.Resistances),
		RetreatCost:       c.Retreat,
		TrainerType:       nonEmpty(c.TrainerType),
		EnergyType:        nonEmpty(c.EnergyType),
		Effect:            nonEmpty(c.Effect),
		Illustrator:       nonEmpty(c.Illustrator),
		Rarity:            nonEmpty(c.Rarity),
		RegulationMark:    nonEmpty(c.RegulationMark),
		DexIDs:            c.DexID,
		Description:       nonEmpty(c.Description),
		UpstreamUpdatedAt: ParseUpdated(c.Updated),
		LastSyncedAt:      now.UTC(),
	}
	if c.Image != nil {
		out.ImageSmall, out.ImageLarge = ImageURLs(*c.Image)
	}
	if c.Variants != nil {
		out.HasNormal = c.Variants.Normal
		out.HasReverse = c.Variants.Reverse
		out.HasHolo = c.Variants.Holo
		out.HasFirstEdition = c.Variants.FirstEdition
	}
	if c.Legal != nil {
		out.LegalStandard = c.Legal.Standard
		out.LegalExpanded = c.Legal.Expanded
	}
	sum, err := hashCard(out)
	if err != nil {
		return nil, fmt.Errorf("hash card %s: %w", c.ID, err)
	}
	out.ContentHash = sum
	return out, nil
}

// Price extracts the day's price snapshot. It returns nil when the card has no
// tcgplayer or cardmarket block.
func Price(c *upstream.Card, setID string, day time.Time) *domain.PriceRecord {
	p := c.Pricing
	if p == nil || (p.TCGPlayer == nil && p.Cardmarket == nil) {
		return nil
	}
	rec := &domain.PriceRecord{
		CardID:     c.ID,
		CardName:   c.Name,
		RecordedAt: Day(day),
	}
	switch {
	case c.Set != nil && c.Set.ID != "":
		id := c.Set.ID
		rec.SetID = &id
	case setID != "":
		id := setID
		rec.SetID = &id
	}
	if tp := p.TCGPlayer; tp != nil {
		rec.TCGPlayerLow = tp.Low
		rec.TCGPlayerMid = tp.Mid
		rec.TCGPlayerHigh = tp.High
		rec.TCGPlayerMarket = tp.Market
		rec.TCGPlayerUpdatedAt = tp.Updated
	}
	if cm := p.Cardmarket; cm != nil {
		rec.CardmarketAvg = cm.Avg
		rec.CardmarketLow = cm.Low
		rec.CardmarketTrend = cm.Trend
		rec.CardmarketAvg1 = cm.Avg1
		rec.CardmarketAvg7 = cm.Avg7
		rec.CardmarketAvg30 = cm.Avg30
		rec.CardmarketAvgHolo = cm.AvgHolo
		rec.CardmarketLowHolo = cm.LowHolo
		rec.CardmarketTrendHolo = cm.TrendHolo
		rec.CardmarketAvg1Holo = cm.Avg1Holo
		rec.CardmarketAvg7Holo = cm.Avg7Holo
		rec.CardmarketAvg30Holo = cm.Avg30Holo
		rec.CardmarketUpdatedAt = cm.Updated
	}
	return rec
}

// Day formats the UTC calendar day used as the price snapshot key.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

var updatedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseUpdated reads an upstream last-modified marker. Unknown formats are
// treated as absent.
func ParseUpdated(s *string) *time.Time {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	for _, layout := range updatedLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(*s)); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func nonNullRaw(b []byte) []byte {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return b
}

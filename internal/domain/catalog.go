package domain

import (
	"encoding/json"
	"time"
)

// Series, Set and Card mirror the local catalog tables. Pointer fields are
// nullable columns: nil means the upstream payload did not carry the value.

type Series struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LogoURL      *string   `json:"logo_url"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

type Set struct {
	ID                string     `json:"id"`
	SeriesID          *string    `json:"series_id"`
	Name              string     `json:"name"`
	LogoURL           *string    `json:"logo_url"`
	SymbolURL         *string    `json:"symbol_url"`
	TotalCards        *int       `json:"total_cards"`
	OfficialCards     *int       `json:"official_cards"`
	ReleaseDate       *string    `json:"release_date"`
	TCGOnlineCode     *string    `json:"tcg_online_code"`
	LegalStandard     *bool      `json:"legal_standard"`
	LegalExpanded     *bool      `json:"legal_expanded"`
	UpstreamUpdatedAt *time.Time `json:"upstream_updated_at"`
	LastSyncedAt      time.Time  `json:"last_synced_at"`
}

type Card struct {
	ID                string          `json:"id"`
	LocalID           string          `json:"local_id"`
	SetID             string          `json:"set_id"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	HP                *int            `json:"hp"`
	Types             []string        `json:"types"`
	Stage             *string         `json:"stage"`
	EvolveFrom        *string         `json:"evolve_from"`
	EvolveTo          []string        `json:"evolve_to"`
	Attacks           json.RawMessage `json:"attacks"`
	Abilities         json.RawMessage `json:"abilities"`
	Weaknesses        json.RawMessage `json:"weaknesses"`
	Resistances       json.RawMessage `json:"resistances"`
	RetreatCost       *int            `json:"retreat_cost"`
	TrainerType       *string         `json:"trainer_type"`
	EnergyType        *string         `json:"energy_type"`
	Effect            *string         `json:"effect"`
	Illustrator       *string         `json:"illustrator"`
	Rarity            *string         `json:"rarity"`
	RegulationMark    *string         `json:"regulation_mark"`
	DexIDs            []int           `json:"dex_ids"`
	Description       *string         `json:"description"`
	ImageSmall        *string         `json:"image_small"`
	ImageLarge        *string         `json:"image_large"`
	HasNormal         *bool           `json:"has_normal"`
	HasReverse        *bool           `json:"has_reverse"`
	HasHolo           *bool           `json:"has_holo"`
	HasFirstEdition   *bool           `json:"has_first_edition"`
	LegalStandard     *bool           `json:"legal_standard"`
	LegalExpanded     *bool           `json:"legal_expanded"`
	ContentHash       string          `json:"content_hash"`
	UpstreamUpdatedAt *time.Time      `json:"upstream_updated_at"`
	LastSyncedAt      time.Time       `json:"last_synced_at"`
}

// PriceRecord is one daily price snapshot, unique per (card_id, recorded_at).
type PriceRecord struct {
	CardID              string   `json:"card_id"`
	CardName            string   `json:"card_name"`
	SetID               *string  `json:"set_id"`
	TCGPlayerLow        *float64 `json:"tcgplayer_low"`
	TCGPlayerMid        *float64 `json:"tcgplayer_mid"`
	TCGPlayerHigh       *float64 `json:"tcgplayer_high"`
	TCGPlayerMarket     *float64 `json:"tcgplayer_market"`
	TCGPlayerUpdatedAt  *string  `json:"tcgplayer_updated_at"`
	CardmarketAvg       *float64 `json:"cardmarket_avg"`
	CardmarketLow       *float64 `json:"cardmarket_low"`
	CardmarketTrend     *float64 `json:"cardmarket_trend"`
	CardmarketAvg1      *float64 `json:"cardmarket_avg1"`
	CardmarketAvg7      *float64 `json:"cardmarket_avg7"`
	CardmarketAvg30     *float64 `json:"cardmarket_avg30"`
	CardmarketAvgHolo   *float64 `json:"cardmarket_avg_holo"`
	CardmarketLowHolo   *float64 `json:"cardmarket_low_holo"`
	CardmarketTrendHolo *float64 `json:"cardmarket_trend_holo"`
	CardmarketAvg1Holo  *float64 `json:"cardmarket_avg1_holo"`
	CardmarketAvg7Holo  *float64 `json:"cardmarket_avg7_holo"`
	CardmarketAvg30Holo *float64 `json:"cardmarket_avg30_holo"`
	CardmarketUpdatedAt *string  `json:"cardmarket_updated_at"`
	RecordedAt          string   `json:"recorded_at"`
}

// CardState is what the delta filter needs to know about an already stored card.
type CardState struct {
	LastSyncedAt      time.Time
	UpstreamUpdatedAt *time.Time
	ContentHash       string
}

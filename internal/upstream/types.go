package upstream

import "encoding/json"

// Payload shapes of the TCGdex v2 REST API. Optional fields are pointers or
// nil slices so that an absent value stays distinguishable from a zero value.

type SerieBrief struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Logo *string `json:"logo,omitempty"`
}

type Serie struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Logo *string    `json:"logo,omitempty"`
	Sets []SetBrief `json:"sets,omitempty"`
}

type CardCount struct {
	Total        *int `json:"total,omitempty"`
	Official     *int `json:"official,omitempty"`
	Normal       *int `json:"normal,omitempty"`
	Reverse      *int `json:"reverse,omitempty"`
	Holo         *int `json:"holo,omitempty"`
	FirstEdition *int `json:"firstEd,omitempty"`
}

type SetBrief struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Logo      *string    `json:"logo,omitempty"`
	Symbol    *string    `json:"symbol,omitempty"`
	CardCount *CardCount `json:"cardCount,omitempty"`
}

type Legal struct {
	Standard *bool `json:"standard,omitempty"`
	Expanded *bool `json:"expanded,omitempty"`
}

type Set struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Logo        *string     `json:"logo,omitempty"`
	Symbol      *string     `json:"symbol,omitempty"`
	CardCount   *CardCount  `json:"cardCount,omitempty"`
	Serie       *SerieBrief `json:"serie,omitempty"`
	TCGOnline   *string     `json:"tcgOnline,omitempty"`
	ReleaseDate *string     `json:"releaseDate,omitempty"`
	Legal       *Legal      `json:"legal,omitempty"`
	Cards       []CardBrief `json:"cards,omitempty"`
	// Updated is the optional last-modified marker, RFC 3339 when present.
	Updated *string `json:"updated,omitempty"`
}

type CardBrief struct {
	ID      string  `json:"id"`
	LocalID string  `json:"localId"`
	Name    string  `json:"name"`
	Image   *string `json:"image,omitempty"`
}

type Variants struct {
	Normal       *bool `json:"normal,omitempty"`
	Reverse      *bool `json:"reverse,omitempty"`
	Holo         *bool `json:"holo,omitempty"`
	FirstEdition *bool `json:"firstEdition,omitempty"`
}

type TCGPlayerPrice struct {
	Updated *string  `json:"updated,omitempty"`
	Low     *float64 `json:"low,omitempty"`
	Mid     *float64 `json:"mid,omitempty"`
	High    *float64 `json:"high,omitempty"`
	Market  *float64 `json:"market,omitempty"`
}

type CardmarketPrice struct {
	Updated   *string  `json:"updated,omitempty"`
	Avg       *float64 `json:"avg,omitempty"`
	Low       *float64 `json:"low,omitempty"`
	Trend     *float64 `json:"trend,omitempty"`
	Avg1      *float64 `json:"avg1,omitempty"`
	Avg7      *float64 `json:"avg7,omitempty"`
	Avg30     *float64 `json:"avg30,omitempty"`
	AvgHolo   *float64 `json:"avg-holo,omitempty"`
	LowHolo   *float64 `json:"low-holo,omitempty"`
	TrendHolo *float64 `json:"trend-holo,omitempty"`
	Avg1Holo  *float64 `json:"avg1-holo,omitempty"`
	Avg7Holo  *float64 `json:"avg7-holo,omitempty"`
	Avg30Holo *float64 `json:"avg30-holo,omitempty"`
}

type Pricing struct {
	TCGPlayer  *TCGPlayerPrice  `json:"tcgplayer,omitempty"`
	Cardmarket *CardmarketPrice `json:"cardmarket,omitempty"`
}

type Card struct {
	ID             string          `json:"id"`
	LocalID        string          `json:"localId"`
	Name           string          `json:"name"`
	Image          *string         `json:"image,omitempty"`
	Category       string          `json:"category"`
	Illustrator    *string         `json:"illustrator,omitempty"`
	Rarity         *string         `json:"rarity,omitempty"`
	Set            *SetBrief       `json:"set,omitempty"`
	Variants       *Variants       `json:"variants,omitempty"`
	HP             *int            `json:"hp,omitempty"`
	Types          []string        `json:"types,omitempty"`
	EvolveFrom     *string         `json:"evolveFrom,omitempty"`
	EvolveTo       []string        `json:"evolveTo,omitempty"`
	Description    *string         `json:"description,omitempty"`
	Stage          *string         `json:"stage,omitempty"`
	Attacks        json.RawMessage `json:"attacks,omitempty"`
	Abilities      json.RawMessage `json:"abilities,omitempty"`
	Weaknesses     json.RawMessage `json:"weaknesses,omitempty"`
	Resistances    json.RawMessage `json:"resistances,omitempty"`
	Retreat        *int            `json:"retreat,omitempty"`
	Effect         *string         `json:"effect,omitempty"`
	TrainerType    *string         `json:"trainerType,omitempty"`
	EnergyType     *string         `json:"energyType,omitempty"`
	RegulationMark *string         `json:"regulationMark,omitempty"`
	Legal          *Legal          `json:"legal,omitempty"`
	DexID          []int           `json:"dexId,omitempty"`
	Pricing        *Pricing        `json:"pricing,omitempty"`
	Updated        *string         `json:"updated,omitempty"`
}

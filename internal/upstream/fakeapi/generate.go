package fakeapi

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/goccy/go-json"

	"github.com/mappy4ever/tcgsync/internal/upstream"
)

const assetBase = "https://assets.tcgdex.net/en"

type GenerateOptions struct {
	Series        int
	SetsPerSeries int
	CardsPerSet   int
	// TrainerEvery makes every n-th card a Trainer without hp. 0 disables.
	TrainerEvery int
	WithPricing  bool
	Seed         uint64
}

func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Series: 2, SetsPerSeries: 2, CardsPerSet: 12, TrainerEvery: 5, WithPricing: true, Seed: 1}
}

var (
	energyTypes = []string{"Grass", "Fire", "Water", "Lightning", "Psychic", "Fighting", "Darkness", "Metal", "Dragon", "Colorless"}
	rarities    = []string{"Common", "Uncommon", "Rare", "Rare Holo", "Ultra Rare"}
	stages      = []string{"Basic", "Stage1", "Stage2"}
	marks       = []string{"D", "E", "F", "G", "H"}
)

// Generate builds a catalog of faker-named series, sets and cards. Structure
// (ids, counts, hp presence) is deterministic for a given seed.
func Generate(o GenerateOptions) *Server {
	rng := rand.New(rand.NewPCG(o.Seed, o.Seed^0x9e3779b97f4a7c15))
	s := New()
	for si := 1; si <= o.Series; si++ {
		serieID := fmt.Sprintf("s%d", si)
		s.AddSerie(serieID, titled(faker.Word())+" Series", strp(fmt.Sprintf("%s/%s/logo", assetBase, serieID)))

		for k := 1; k <= o.SetsPerSeries; k++ {
			setID := fmt.Sprintf("%s-%d", serieID, k)
			release := time.Date(2000+si, time.Month(k%12+1), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
			s.AddSet(upstream.Set{
				ID:          setID,
				Name:        titled(faker.Word()) + " " + titled(faker.Word()),
				Logo:        strp(fmt.Sprintf("%s/%s/%s/logo", assetBase, serieID, setID)),
				Symbol:      strp(fmt.Sprintf("%s/%s/%s/symbol", assetBase, serieID, setID)),
				Serie:       &upstream.SerieBrief{ID: serieID},
				ReleaseDate: &release,
				TCGOnline:   strp(fmt.Sprintf("T%d%d", si, k)),
				Legal:       &upstream.Legal{Standard: boolp(si == o.Series), Expanded: boolp(true)},
			})

			for n := 1; n <= o.CardsPerSet; n++ {
				local := fmt.Sprintf("%d", n)
				trainer := o.TrainerEvery > 0 && n%o.TrainerEvery == 0
				s.AddCard(setID, fakeCard(rng, serieID, setID, local, trainer, o.WithPricing))
			}
		}
	}
	return s
}

func fakeCard(rng *rand.Rand, serieID, setID, local string, trainer, pricing bool) upstream.Card {
	c := upstream.Card{
		ID:             setID + "-" + local,
		LocalID:        local,
		Name:           faker.FirstName(),
		Image:          strp(fmt.Sprintf("%s/%s/%s/%s", assetBase, serieID, setID, local)),
		Illustrator:    strp(faker.Name()),
		Rarity:         strp(rarities[rng.IntN(len(rarities))]),
		RegulationMark: strp(marks[rng.IntN(len(marks))]),
		Variants: &upstream.Variants{
			Normal: boolp(true), Reverse: boolp(rng.IntN(2) == 0), Holo: boolp(rng.IntN(3) == 0), FirstEdition: boolp(false),
		},
		Legal: &upstream.Legal{Standard: boolp(false), Expanded: boolp(true)},
	}
	if trainer {
		c.Category = "Trainer"
		c.TrainerType = strp("Item")
		c.Effect = strp(faker.Sentence())
	} else {
		c.Category = "Pokemon"
		c.HP = intp(30 + 10*rng.IntN(30))
		c.Types = []string{energyTypes[rng.IntN(len(energyTypes))]}
		c.Stage = strp(stages[rng.IntN(len(stages))])
		c.Retreat = intp(rng.IntN(4))
		c.DexID = []int{1 + rng.IntN(1025)}
		c.Description = strp(faker.Sentence())
		c.Attacks = mustJSON([]map[string]any{{
			"name":   titled(faker.Word()),
			"cost":   []string{c.Types[0], "Colorless"},
			"damage": 10 * (1 + rng.IntN(12)),
			"effect": faker.Sentence(),
		}})
		c.Weaknesses = mustJSON([]map[string]string{{"type": energyTypes[rng.IntN(len(energyTypes))], "value": "×2"}})
	}
	if pricing {
		c.Pricing = &upstream.Pricing{
			TCGPlayer: &upstream.TCGPlayerPrice{
				Updated: strp(time.Now().UTC().Format(time.RFC3339)),
				Low:     floatp(rng.Float64() * 5), Mid: floatp(5 + rng.Float64()*5), High: floatp(10 + rng.Float64()*40), Market: floatp(5 + rng.Float64()*10),
			},
			Cardmarket: &upstream.CardmarketPrice{
				Updated: strp(time.Now().UTC().Format(time.RFC3339)),
				Avg:     floatp(rng.Float64() * 10), Low: floatp(rng.Float64()), Trend: floatp(rng.Float64() * 10),
				AvgHolo: floatp(rng.Float64() * 20),
			},
		}
	}
	return c
}

func titled(w string) string {
	if w == "" {
		return w
	}
	if w[0] >= 'a' && w[0] <= 'z' {
		return string(w[0]-'a'+'A') + w[1:]
	}
	return w
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func strp(v string) *string     { return &v }
func boolp(v bool) *bool        { return &v }
func floatp(v float64) *float64 { return &v }

package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mappy4ever/tcgsync/internal/domain"
)

// HashCard returns a SHA-256 over the card's content fields. Sync timestamps
// and the stored hash itself are excluded, so an unchanged upstream card hashes
// the same on every run.
func HashCard(c *domain.Card) (string, error) {
	data, err := json.Marshal(canonicalizeCard(c))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalizeCard(c *domain.Card) map[string]any {
	return map[string]any{
		"id":                c.ID,
		"local_id":          c.LocalID,
		"set_id":            c.SetID,
		"name":              c.Name,
		"category":          c.Category,
		"hp":                c.HP,
		"types":             c.Types,
		"stage":             c.Stage,
		"evolve_from":       c.EvolveFrom,
		"evolve_to":         c.EvolveTo,
		"attacks":           canonicalizeRaw(c.Attacks),
		"abilities":         canonicalizeRaw(c.Abilities),
		"weaknesses":        canonicalizeRaw(c.Weaknesses),
		"resistances":       canonicalizeRaw(c.Resistances),
		"retreat_cost":      c.RetreatCost,
		"trainer_type":      c.TrainerType,
		"energy_type":       c.EnergyType,
		"effect":            c.Effect,
		"illustrator":       c.Illustrator,
		"rarity":            c.Rarity,
		"regulation_mark":   c.RegulationMark,
		"dex_ids":           c.DexIDs,
		"description":       c.Description,
		"image_small":       c.ImageSmall,
		"image_large":       c.ImageLarge,
		"has_normal":        c.HasNormal,
		"has_reverse":       c.HasReverse,
		"has_holo":          c.HasHolo,
		"has_first_edition": c.HasFirstEdition,
		"legal_standard":    c.LegalStandard,
		"legal_expanded":    c.LegalExpanded,
	}
}

// canonicalizeRaw re-encodes raw JSON so that key order and whitespace do not
// affect the hash. Undecodable input is hashed as compacted bytes.
func canonicalizeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		var buf bytes.Buffer
		if json.Compact(&buf, raw) != nil {
			return string(raw)
		}
		return buf.String()
	}
	return v
}

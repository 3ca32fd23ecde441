// Package catalog writes series, sets, cards and price snapshots to the
// backing store. Every write is an upsert keyed by primary key.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/store"
)

var ErrNotFound = errors.New("catalog entry not found")

// UpsertResult splits written rows into inserted and overwritten.
type UpsertResult struct {
	Created int
	Updated int
}

type Store struct {
	db *store.DB
}

func New(db *store.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertSeries(ctx context.Context, sr *domain.Series) (created bool, err error) {
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		created, err = s.absent(ctx, tx, "series", sr.ID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO series (id, name, logo_url, last_synced_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				logo_url = excluded.logo_url,
				last_synced_at = excluded.last_synced_at`),
			sr.ID, sr.Name, sr.LogoURL, s.db.Time(sr.LastSyncedAt))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("upsert series %s: %w", sr.ID, err)
	}
	return created, nil
}

// UpsertSet writes the set's attributes. last_synced_at is written on insert
// only; MarkSetSynced advances it.
func (s *Store) UpsertSet(ctx context.Context, st *domain.Set) (created bool, err error) {
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		created, err = s.absent(ctx, tx, "sets", st.ID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO sets (id, series_id, name, logo_url, symbol_url, total_cards, official_cards,
				release_date, tcg_online_code, legal_standard, legal_expanded, upstream_updated_at, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				series_id = excluded.series_id,
				name = excluded.name,
				logo_url = excluded.logo_url,
				symbol_url = excluded.symbol_url,
				total_cards = excluded.total_cards,
				official_cards = excluded.official_cards,
				release_date = excluded.release_date,
				tcg_online_code = excluded.tcg_online_code,
				legal_standard = excluded.legal_standard,
				legal_expanded = excluded.legal_expanded,
				upstream_updated_at = excluded.upstream_updated_at`),
			st.ID, st.SeriesID, st.Name, st.LogoURL, st.SymbolURL, st.TotalCards, st.OfficialCards,
			st.ReleaseDate, st.TCGOnlineCode, st.LegalStandard, st.LegalExpanded,
			s.db.NullTime(st.UpstreamUpdatedAt), s.db.Time(st.LastSyncedAt))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("upsert set %s: %w", st.ID, err)
	}
	return created, nil
}

// MarkSetSynced records that every card of set id was written at at.
func (s *Store) MarkSetSynced(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE sets SET last_synced_at = ? WHERE id = ?`), s.db.Time(at), id)
	if err != nil {
		return fmt.Errorf("mark set %s synced: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark set %s synced: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark set %s synced: %w", id, ErrNotFound)
	}
	return nil
}

const cardColumns = `id, local_id, set_id, name, category, hp, types, stage, evolve_from, evolve_to,
	attacks, abilities, weaknesses, resistances, retreat_cost, trainer_type, energy_type, effect,
	illustrator, rarity, regulation_mark, dex_ids, description, image_small, image_large,
	has_normal, has_reverse, has_holo, has_first_edition, legal_standard, legal_expanded,
	content_hash, upstream_updated_at, last_synced_at`

var cardUpdateSet = updateSetClause(cardColumns, "id")

// UpsertCards writes the batch in one transaction. Created and Updated are
// decided by reading which ids already exist inside that transaction.
func (s *Store) UpsertCards(ctx context.Context, cards []*domain.Card) (UpsertResult, error) {
	var res UpsertResult
	if len(cards) == 0 {
		return res, nil
	}
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.existingIDs(ctx, tx, "cards", ids)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, s.db.Rebind(`INSERT INTO cards (`+cardColumns+`)
			VALUES (`+placeholders(34)+`)
			ON CONFLICT (id) DO UPDATE SET `+cardUpdateSet))
		if err != nil {
			return err
		}
		defer stmt.Close()

		seen := make(map[string]bool, len(cards))
		for _, c := range cards {
			args, err := s.cardArgs(c)
			if err != nil {
				return fmt.Errorf("card %s: %w", c.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("card %s: %w", c.ID, err)
			}
			if existing[c.ID] || seen[c.ID] {
				res.Updated++
			} else {
				res.Created++
			}
			seen[c.ID] = true
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert cards: %w", err)
	}
	return res, nil
}

func (s *Store) cardArgs(c *domain.Card) ([]any, error) {
	types, err := jsonText(c.Types)
	if err != nil {
		return nil, err
	}
	evolveTo, err := jsonText(c.EvolveTo)
	if err != nil {
		return nil, err
	}
	dexIDs, err := jsonText(c.DexIDs)
	if err != nil {
		return nil, err
	}
	return []any{
		c.ID, c.LocalID, c.SetID, c.Name, c.Category, c.HP, types, c.Stage, c.EvolveFrom, evolveTo,
		rawText(c.Attacks), rawText(c.Abilities), rawText(c.Weaknesses), rawText(c.Resistances),
		c.RetreatCost, c.TrainerType, c.EnergyType, c.Effect,
		c.Illustrator, c.Rarity, c.RegulationMark, dexIDs, c.Description, c.ImageSmall, c.ImageLarge,
		c.HasNormal, c.HasReverse, c.HasHolo, c.HasFirstEdition, c.LegalStandard, c.LegalExpanded,
		c.ContentHash, s.db.NullTime(c.UpstreamUpdatedAt), s.db.Time(c.LastSyncedAt),
	}, nil
}

const priceColumns = `card_id, card_name, set_id,
	tcgplayer_low, tcgplayer_mid, tcgplayer_high, tcgplayer_market, tcgplayer_updated_at,
	cardmarket_avg, cardmarket_low, cardmarket_trend, cardmarket_avg1, cardmarket_avg7, cardmarket_avg30,
	cardmarket_avg_holo, cardmarket_low_holo, cardmarket_trend_holo,
	cardmarket_avg1_holo, cardmarket_avg7_holo, cardmarket_avg30_holo,
	cardmarket_updated_at, recorded_at`

var priceUpdateSet = updateSetClause(priceColumns, "card_id", "recorded_at")

// UpsertPrices writes one snapshot per (card_id, recorded_at); a second sync
// on the same day overwrites that day's row.
func (s *Store) UpsertPrices(ctx context.Context, recs []*domain.PriceRecord) (UpsertResult, error) {
	var res UpsertResult
	if len(recs) == 0 {
		return res, nil
	}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.db.Rebind(`INSERT INTO price_history (`+priceColumns+`)
			VALUES (`+placeholders(22)+`)
			ON CONFLICT (card_id, recorded_at) DO UPDATE SET `+priceUpdateSet))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range recs {
			if _, err := stmt.ExecContext(ctx,
				p.CardID, p.CardName, p.SetID,
				p.TCGPlayerLow, p.TCGPlayerMid, p.TCGPlayerHigh, p.TCGPlayerMarket, p.TCGPlayerUpdatedAt,
				p.CardmarketAvg, p.CardmarketLow, p.CardmarketTrend, p.CardmarketAvg1, p.CardmarketAvg7, p.CardmarketAvg30,
				p.CardmarketAvgHolo, p.CardmarketLowHolo, p.CardmarketTrendHolo,
				p.CardmarketAvg1Holo, p.CardmarketAvg7Holo, p.CardmarketAvg30Holo,
				p.CardmarketUpdatedAt, p.RecordedAt,
			); err != nil {
				return fmt.Errorf("price %s/%s: %w", p.CardID, p.RecordedAt, err)
			}
			res.Created++
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert prices: %w", err)
	}
	return res, nil
}

// SetSyncStates maps every stored set id to its last sync time.
func (s *Store) SetSyncStates(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, last_synced_at FROM sets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]time.Time{}
	for rows.Next() {
		var id string
		var at sql.NullString
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		if t := store.ParseNullTime(at); t != nil {
			out[id] = *t
		} else {
			out[id] = time.Time{}
		}
	}
	return out, rows.Err()
}

// CardSyncStates returns what the delta filter needs for the cards of setID.
func (s *Store) CardSyncStates(ctx context.Context, setID string) (map[string]domain.CardState, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT id, last_synced_at, upstream_updated_at, content_hash FROM cards WHERE set_id = ?`), setID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]domain.CardState{}
	for rows.Next() {
		var id, hash string
		var synced, upstreamAt sql.NullString
		if err := rows.Scan(&id, &synced, &upstreamAt, &hash); err != nil {
			return nil, err
		}
		st := domain.CardState{ContentHash: hash, UpstreamUpdatedAt: store.ParseNullTime(upstreamAt)}
		if t := store.ParseNullTime(synced); t != nil {
			st.LastSyncedAt = *t
		}
		out[id] = st
	}
	return out, rows.Err()
}

func (s *Store) CountCards(ctx context.Context, setID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT COUNT(*) FROM cards WHERE set_id = ?`), setID).Scan(&n)
	return n, err
}

func (s *Store) CountPrices(ctx context.Context, cardID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT COUNT(*) FROM price_history WHERE card_id = ?`), cardID).Scan(&n)
	return n, err
}

func (s *Store) GetSet(ctx context.Context, id string) (*domain.Set, error) {
	var st domain.Set
	var upstreamAt, synced sql.NullString
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, series_id, name, logo_url, symbol_url, total_cards, official_cards,
			release_date, tcg_online_code, legal_standard, legal_expanded, upstream_updated_at, last_synced_at
		FROM sets WHERE id = ?`), id).Scan(
		&st.ID, &st.SeriesID, &st.Name, &st.LogoURL, &st.SymbolURL, &st.TotalCards, &st.OfficialCards,
		&st.ReleaseDate, &st.TCGOnlineCode, &st.LegalStandard, &st.LegalExpanded, &upstreamAt, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.UpstreamUpdatedAt = store.ParseNullTime(upstreamAt)
	if t := store.ParseNullTime(synced); t != nil {
		st.LastSyncedAt = *t
	}
	return &st, nil
}

func (s *Store) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	var c domain.Card
	var types, evolveTo, attacks, abilities, weaknesses, resistances, dexIDs sql.NullString
	var upstreamAt, synced sql.NullString
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT `+cardColumns+` FROM cards WHERE id = ?`), id).Scan(
		&c.ID, &c.LocalID, &c.SetID, &c.Name, &c.Category, &c.HP, &types, &c.Stage, &c.EvolveFrom, &evolveTo,
		&attacks, &abilities, &weaknesses, &resistances, &c.RetreatCost, &c.TrainerType, &c.EnergyType, &c.Effect,
		&c.Illustrator, &c.Rarity, &c.RegulationMark, &dexIDs, &c.Description, &c.ImageSmall, &c.ImageLarge,
		&c.HasNormal, &c.HasReverse, &c.HasHolo, &c.HasFirstEdition, &c.LegalStandard, &c.LegalExpanded,
		&c.ContentHash, &upstreamAt, &synced,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeText(types, &c.Types); err != nil {
		return nil, err
	}
	if err := decodeText(evolveTo, &c.EvolveTo); err != nil {
		return nil, err
	}
	if err := decodeText(dexIDs, &c.DexIDs); err != nil {
		return nil, err
	}
	c.Attacks = rawFromText(attacks)
	c.Abilities = rawFromText(abilities)
	c.Weaknesses = rawFromText(weaknesses)
	c.Resistances = rawFromText(resistances)
	c.UpstreamUpdatedAt = store.ParseNullTime(upstreamAt)
	if t := store.ParseNullTime(synced); t != nil {
		c.LastSyncedAt = *t
	}
	return &c, nil
}

func (s *Store) absent(ctx context.Context, tx *sql.Tx, table, id string) (bool, error) {
	got, err := s.existingIDs(ctx, tx, table, []string{id})
	if err != nil {
		return false, err
	}
	return !got[id], nil
}

func (s *Store) existingIDs(ctx context.Context, tx *sql.Tx, table string, ids []string) (map[string]bool, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := tx.QueryContext(ctx, s.db.Rebind(
		`SELECT id FROM `+table+` WHERE id IN (`+placeholders(len(ids))+`)`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func updateSetClause(columns string, keys ...string) string {
	skip := map[string]bool{}
	for _, k := range keys {
		skip[k] = true
	}
	var parts []string
	for _, c := range strings.Split(columns, ",") {
		c = strings.TrimSpace(c)
		if c == "" || skip[c] {
			continue
		}
		parts = append(parts, c+" = excluded."+c)
	}
	return strings.Join(parts, ", ")
}

func jsonText[T any](v []T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func rawText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func rawFromText(ns sql.NullString) []byte {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return []byte(ns.String)
}

func decodeText(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

package hashing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mappy4ever/tcgsync/internal/domain"
)

func TestHashCard_IgnoresTimestampsAndJSONLayout(t *testing.T) {
	hp := 60
	a := &domain.Card{
		ID: "base1-4", LocalID: "4", SetID: "base1", Name: "Charizard", Category: "Pokemon",
		HP:           &hp,
		Attacks:      json.RawMessage(`[{"name":"Fire Spin","damage":100}]`),
		LastSyncedAt: time.Unix(100, 0),
	}
	b := *a
	b.Attacks = json.RawMessage(`[ { "damage": 100, "name": "Fire Spin" } ]`)
	b.LastSyncedAt = time.Unix(999, 0)
	b.ContentHash = "stale"

	ha, err := HashCard(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := HashCard(&b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("expected equal hashes, got %s vs %s", ha, hb)
	}
}

func TestHashCard_ChangesWithContent(t *testing.T) {
	hp1, hp2 := 60, 70
	a := &domain.Card{ID: "x", Name: "X", HP: &hp1}
	b := &domain.Card{ID: "x", Name: "X", HP: &hp2}
	c := &domain.Card{ID: "x", Name: "X"}

	ha, _ := HashCard(a)
	hb, _ := HashCard(b)
	hc, _ := HashCard(c)
	if ha == hb || ha == hc || hb == hc {
		t.Fatalf("expected distinct hashes: %s %s %s", ha, hb, hc)
	}
	if len(ha) != 64 {
		t.Fatalf("expected hex sha256, got %q", ha)
	}
}

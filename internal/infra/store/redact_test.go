package store

import (
	"strings"
	"testing"
)

func TestRedactDSN(t *testing.T) {
	if got := RedactDSN(""); got != "" {
		t.Fatalf("expected empty DSN to stay empty, got %q", got)
	}
	if got := RedactDSN("./data/tcg.sqlite?_busy_timeout=5000"); got != "./data/tcg.sqlite" {
		t.Fatalf("expected sqlite path without query, got %q", got)
	}
	for _, dsn := range []string{
		"postgres://tcg:hunter2@db:5432/tcg?sslmode=disable",
		"postgres://db:5432/tcg?password=hunter2",
		"host=db user=tcg password=hunter2 dbname=tcg",
	} {
		got := RedactDSN(dsn)
		if strings.Contains(got, "hunter2") || !strings.Contains(got, "db") {
			t.Fatalf("RedactDSN(%q) = %q", dsn, got)
		}
	}
	if got := RedactDSN("host=db user=tcg password=hunter2"); got != "host=db user=tcg password=****" {
		t.Fatalf("unexpected keyword redaction: %q", got)
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{Kind: KindPostgres}
	if got := pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Fatalf("unexpected rebind: %q", got)
	}
	lite := &DB{Kind: KindSQLite}
	if got := lite.Rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite query must be unchanged, got %q", got)
	}
}

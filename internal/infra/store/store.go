// Package store opens the backing relational database and owns its schema.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// sqliteTimeLayout is fixed-width so that stored timestamps compare lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// DB is a *sql.DB that knows its dialect.
type DB struct {
	*sql.DB
	Kind Kind
	dsn  string
}

func Open(kind, dsn string) (*DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("store dsn is required")
	}
	switch Kind(kind) {
	case KindSQLite:
		return openSQLite(dsn)
	case KindPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
		return &DB{DB: db, Kind: KindPostgres, dsn: dsn}, nil
	default:
		return nil, fmt.Errorf("unsupported store kind: %s", kind)
	}
}

func openSQLite(dsn string) (*DB, error) {
	path := dsn
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "file:")
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	if !strings.Contains(dsn, "_busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	return &DB{DB: db, Kind: KindSQLite, dsn: dsn}, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.PingContext(ctx)
}

func (d *DB) ServerVersion(ctx context.Context) (string, error) {
	q := "SELECT sqlite_version()"
	if d.Kind == KindPostgres {
		q = "SHOW server_version"
	}
	var v string
	if err := d.QueryRowContext(ctx, q).Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

// Rebind rewrites ? placeholders to $n for PostgreSQL. Queries must not carry
// literal question marks.
func (d *DB) Rebind(q string) string {
	if d.Kind != KindPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// Greatest names the two-argument maximum function of the dialect.
func (d *DB) Greatest() string {
	if d.Kind == KindPostgres {
		return "GREATEST"
	}
	return "MAX"
}

// Time converts t to the value bound for timestamp columns.
func (d *DB) Time(t time.Time) any {
	if d.Kind == KindPostgres {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

// NullTime is Time for optional timestamps.
func (d *DB) NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.Time(*t)
}

// ParseTime reads a timestamp column scanned into a string.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func ParseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// IsUniqueViolation reports whether err is a unique or primary key conflict.
func IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// InTx runs fn in a transaction, committing on success.
func (d *DB) InTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RedactedDSN is the DSN with credentials masked, for logs.
func (d *DB) RedactedDSN() string {
	return RedactDSN(d.dsn)
}

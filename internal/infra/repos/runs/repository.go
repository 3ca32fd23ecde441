package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mappy4ever/tcgsync/internal/domain"
	"github.com/mappy4ever/tcgsync/internal/infra/store"
)

var (
	ErrRunNotFound   = errors.New("sync run not found")
	ErrRunNotRunning = errors.New("sync run is not running")
	ErrRunInProgress = errors.New("a full or delta sync is already running")
)

// Progress is the counter snapshot written to a run. Counters never decrease
// in storage even if a smaller snapshot is written.
type Progress struct {
	Checked int
	Created int
	Updated int
	Failed  int
	Stats   []byte
}

// Repository stores the append-only sync run audit trail.
type Repository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, run *domain.SyncRun) error
	// CreateExclusive inserts run only if no full or delta run is running.
	CreateExclusive(ctx context.Context, run *domain.SyncRun) error
	UpdateProgress(ctx context.Context, id string, p Progress) error
	Finish(ctx context.Context, id string, status domain.RunStatus, p Progress, errMsg string, at time.Time) error
	Get(ctx context.Context, id string) (*domain.SyncRun, error)
	List(ctx context.Context, limit int, status string) ([]*domain.SyncRun, error)
	ListStale(ctx context.Context, startedBefore time.Time) ([]*domain.SyncRun, error)
}

// New returns the repository for the store's dialect.
func New(db *store.DB) Repository {
	if db.Kind == store.KindPostgres {
		return NewPostgresRepository(db)
	}
	return NewSQLiteRepository(db)
}

// sqlRepository holds the dialect-neutral SQL; the dialect files provide the
// constructors.
type sqlRepository struct {
	db *store.DB
}

const runColumns = `id, scope, target_id, status, started_at, completed_at,
	items_checked, items_created, items_updated, items_failed, error_message, stats`

func (r *sqlRepository) Init(ctx context.Context) error {
	return r.db.Migrate(ctx)
}

func (r *sqlRepository) prepare(run *domain.SyncRun) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
}

func (r *sqlRepository) Create(ctx context.Context, run *domain.SyncRun) error {
	r.prepare(run)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sync_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Scope, nullString(run.TargetID), run.Status,
		r.db.Time(run.StartedAt), r.db.NullTime(run.CompletedAt),
		run.ItemsChecked, run.ItemsCreated, run.ItemsUpdated, run.ItemsFailed,
		nullString(run.ErrorMessage), nullBytes(run.Stats),
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

func (r *sqlRepository) CreateExclusive(ctx context.Context, run *domain.SyncRun) error {
	r.prepare(run)
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		var running int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs
			WHERE status = 'running' AND scope IN ('full', 'delta')`).Scan(&running); err != nil {
			return err
		}
		if running > 0 {
			return ErrRunInProgress
		}
		_, err := tx.ExecContext(ctx, r.db.Rebind(`
			INSERT INTO sync_runs (id, scope, target_id, status, started_at, stats)
			VALUES (?, ?, ?, ?, ?, ?)`),
			run.ID, run.Scope, nullString(run.TargetID), run.Status, r.db.Time(run.StartedAt), nullBytes(run.Stats),
		)
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRunInProgress), store.IsUniqueViolation(err):
		// the partial unique index catches a concurrent insert the count missed
		return ErrRunInProgress
	default:
		return fmt.Errorf("insert sync run: %w", err)
	}
}

func (r *sqlRepository) UpdateProgress(ctx context.Context, id string, p Progress) error {
	g := r.db.Greatest()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(fmt.Sprintf(`
		UPDATE sync_runs SET
			items_checked = %[1]s(items_checked, ?),
			items_created = %[1]s(items_created, ?),
			items_updated = %[1]s(items_updated, ?),
			items_failed = %[1]s(items_failed, ?),
			stats = COALESCE(?, stats)
		WHERE id = ? AND status = 'running'`, g)),
		p.Checked, p.Created, p.Updated, p.Failed, nullBytes(p.Stats), id,
	)
	if err != nil {
		return fmt.Errorf("update sync run progress: %w", err)
	}
	return r.expectOne(ctx, res, id)
}

func (r *sqlRepository) Finish(ctx context.Context, id string, status domain.RunStatus, p Progress, errMsg string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finish sync run: %q is not a terminal status", status)
	}
	g := r.db.Greatest()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(fmt.Sprintf(`
		UPDATE sync_runs SET
			status = ?,
			completed_at = ?,
			items_checked = %[1]s(items_checked, ?),
			items_created = %[1]s(items_created, ?),
			items_updated = %[1]s(items_updated, ?),
			items_failed = %[1]s(items_failed, ?),
			error_message = ?,
			stats = COALESCE(?, stats)
		WHERE id = ? AND status = 'running'`, g)),
		status, r.db.Time(at),
		p.Checked, p.Created, p.Updated, p.Failed,
		nullString(errMsg), nullBytes(p.Stats), id,
	)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}
	return r.expectOne(ctx, res, id)
}

// expectOne distinguishes a missing run from one that already left running.
func (r *sqlRepository) expectOne(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrRunNotRunning
}

func (r *sqlRepository) Get(ctx context.Context, id string) (*domain.SyncRun, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+runColumns+` FROM sync_runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (r *sqlRepository) List(ctx context.Context, limit int, status string) ([]*domain.SyncRun, error) {
	q := `SELECT ` + runColumns + ` FROM sync_runs`
	args := make([]any, 0, 2)
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, status)
	}
	q += " ORDER BY started_at DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return r.query(ctx, q, args...)
}

func (r *sqlRepository) ListStale(ctx context.Context, startedBefore time.Time) ([]*domain.SyncRun, error) {
	return r.query(ctx, `SELECT `+runColumns+` FROM sync_runs
		WHERE status = 'running' AND started_at < ? ORDER BY started_at`, r.db.Time(startedBefore))
}

func (r *sqlRepository) query(ctx context.Context, q string, args ...any) ([]*domain.SyncRun, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.SyncRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.SyncRun, error) {
	var run domain.SyncRun
	var targetID, errMsg, stats, startedAt, completedAt sql.NullString
	err := s.Scan(
		&run.ID, &run.Scope, &targetID, &run.Status, &startedAt, &completedAt,
		&run.ItemsChecked, &run.ItemsCreated, &run.ItemsUpdated, &run.ItemsFailed,
		&errMsg, &stats,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		if t, err := store.ParseTime(startedAt.String); err == nil {
			run.StartedAt = t
		}
	}
	run.CompletedAt = store.ParseNullTime(completedAt)
	run.TargetID = targetID.String
	run.ErrorMessage = errMsg.String
	if stats.Valid && strings.TrimSpace(stats.String) != "" {
		run.Stats = []byte(stats.String)
	}
	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

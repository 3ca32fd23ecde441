package runs

import "github.com/mappy4ever/tcgsync/internal/infra/store"

// PostgresRepository keeps runs in PostgreSQL. The partial unique index on
// running bulk runs backs CreateExclusive under concurrent inserts.
type PostgresRepository struct {
	sqlRepository
}

func NewPostgresRepository(db *store.DB) *PostgresRepository {
	return &PostgresRepository{sqlRepository{db: db}}
}

func (r *PostgresRepository) DB() *store.DB { return r.db }

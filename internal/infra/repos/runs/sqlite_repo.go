package runs

import "github.com/mappy4ever/tcgsync/internal/infra/store"

// SQLiteRepository keeps runs in the SQLite store. MAX(a, b) is the scalar
// maximum there.
type SQLiteRepository struct {
	sqlRepository
}

func NewSQLiteRepository(db *store.DB) *SQLiteRepository {
	return &SQLiteRepository{sqlRepository{db: db}}
}

func (r *SQLiteRepository) DB() *store.DB { return r.db }

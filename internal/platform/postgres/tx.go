package postgres

import (
	"context"
	"database/sql"

	"github.com/phrazzld/moments-api/internal/store"
)

// runAtomic runs fn in a new transaction when db is a connection pool. When
// db is already a transaction, fn joins it and the caller owns the commit.
func runAtomic(ctx context.Context, db store.DBTX, fn func(ctx context.Context, q store.DBTX) error) error {
	if beginner, ok := db.(store.Beginner); ok {
		return store.RunInTransaction(ctx, beginner, func(ctx context.Context, tx *sql.Tx) error {
			return fn(ctx, tx)
		})
	}
	return fn(ctx, db)
}

// nullableJSON converts an empty document to SQL NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

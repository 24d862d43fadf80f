package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// VerifyUniqueConstraint checks that the named unique constraint exists on
// the given table. The metadata engine relies on these constraints to make
// get-or-create safe under races; starting without them is a configuration
// error.
func VerifyUniqueConstraint(ctx context.Context, pool *pgxpool.Pool, table, constraint string) error {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_constraint c
			JOIN pg_class t ON t.oid = c.conrelid
			WHERE t.relname = $1 AND c.conname = $2 AND c.contype = 'u'
		)`, table, constraint).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check constraint %s on %s: %w", constraint, table, err)
	}
	if !exists {
		return fmt.Errorf("table %s is missing unique constraint %s", table, constraint)
	}
	return nil
}

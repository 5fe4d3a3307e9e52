package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the idempotent schema. Statements use IF NOT EXISTS so it is
// safe to run on every deploy.
func Migrate(ctx context.Context, db Querier) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying payment schema: %w", err)
	}
	return nil
}

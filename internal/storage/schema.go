package storage

import (
	"context"
	"embed"
	"fmt"
)

//go:embed schema/*.sql
var schemaFS embed.FS

func (g *Gateway) applySchema(ctx context.Context) error {
	schemaSQL, err := schemaFS.ReadFile("schema/" + string(g.dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	if _, err := g.db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	return nil
}

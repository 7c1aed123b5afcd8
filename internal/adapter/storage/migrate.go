package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

// Migrate creates the ledger tables when they do not exist yet. The driver
// runs one statement per Exec unless multiStatements is set on the DSN.
func Migrate(ctx context.Context, db *sql.DB) error {
	applied := 0
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply schema statement %d", applied+1)
		}
		applied++
	}
	zlog.Ctx(ctx).Info().Int("statements", applied).Msg("schema applied")
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSchema marks a query rejected because the database does not match the
// entity definitions, e.g. a renamed column.
var ErrSchema = errors.New("schema does not match entity definitions")

// PostgreSQL error codes the adapter reacts to.
const (
	pgQueryCanceled   = "57014"
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
)

// classify maps server-side PostgreSQL failures onto errors the engine
// understands. statement_timeout cancellations become deadline errors so they
// surface as timeouts. Other errors pass through unchanged.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgQueryCanceled:
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	case pgUndefinedTable, pgUndefinedColumn:
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return err
}

package search

import (
	"context"
	"fmt"
	"strings"

	"readapi/internal/metadata"
	"readapi/internal/query"
)

// Reindex rebuilds the index table of et from the relational store and
// returns the number of indexed rows. The rebuild runs in one transaction,
// so readers see either the old or the new index.
func (x *Index) Reindex(ctx context.Context, et *metadata.EntityType) (int, error) {
	fields := indexedFields(et)
	table := quote(tableName(et))

	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, quote(et.IDField)+" UNINDEXED")
	names := []string{quote(et.IDField)}
	for _, f := range fields {
		cols = append(cols, quote(f.Name))
		names = append(names, quote(f.Name))
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reindex: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return 0, fmt.Errorf("drop %s: %w", tableName(et), err)
	}
	create := fmt.Sprintf("CREATE VIRTUAL TABLE %s USING fts5(%s)", table, strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("create %s: %w", tableName(et), err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for row, err := range x.rows.FetchMany(ctx, et, &query.FilterRequest{}) {
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", et.Name, err)
		}
		args := make([]any, 0, len(names))
		args = append(args, row.Values[et.IDField])
		for _, f := range fields {
			if v := row.Values[f.Name]; v != nil {
				args = append(args, Text(f, v))
			} else {
				args = append(args, nil)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("index %s/%v: %w", et.Name, row.Values[et.IDField], err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reindex: %w", err)
	}
	x.log.Info().Str("entity", et.Name).Int("rows", n).Msg("reindexed")
	return n, nil
}

// indexedFields are the stored fields other than the identifier.
func indexedFields(et *metadata.EntityType) []*metadata.Field {
	var out []*metadata.Field
	for _, f := range et.Fields {
		if f.IsStored() && f.Name != et.IDField {
			out = append(out, f)
		}
	}
	return out
}

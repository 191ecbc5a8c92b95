// Package search serves entity types whose list queries go through a
// full-text index. The index only yields ranked identifiers; rows are
// hydrated from the relational store, so both backends share one row shape.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	_ "modernc.org/sqlite" // Register sqlite as database/sql driver

	"readapi/internal/config"
	"readapi/internal/metadata"
	"readapi/internal/query"
)

// Rows is the relational side the index hydrates from.
type Rows interface {
	query.Source
	FetchByIDs(ctx context.Context, et *metadata.EntityType, ids []any, embeds []query.Embed) ([]*query.Row, error)
}

// Index is an SQLite FTS5 index with one virtual table per entity type.
type Index struct {
	db   *sql.DB
	rows Rows
	log  zerolog.Logger
}

// Open opens the index database described by cfg.
func Open(ctx context.Context, cfg config.SearchConfig) (*sql.DB, error) {
	dsn := cfg.Path
	if dsn == "" || dsn == ":memory:" {
		dsn = "file:search?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping search index: %w", err)
	}
	return db, nil
}

func New(db *sql.DB, rows Rows, log zerolog.Logger) *Index {
	return &Index{db: db, rows: rows, log: log.With().Str("component", "search").Logger()}
}

func (x *Index) FetchMany(ctx context.Context, et *metadata.EntityType, req *query.FilterRequest) iter.Seq2[*query.Row, error] {
	return func(yield func(*query.Row, error) bool) {
		ids, err := x.search(ctx, et, req)
		if err != nil {
			yield(nil, err)
			return
		}
		rows, err := x.rows.FetchByIDs(ctx, et, ids, req.Embeds)
		if err != nil {
			yield(nil, fmt.Errorf("hydrate %s: %w", et.Name, err))
			return
		}
		if len(rows) < len(ids) {
			x.log.Warn().Str("entity", et.Name).Int("stale", len(ids)-len(rows)).Msg("index references missing rows")
		}
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

// FetchOne reads straight from the relational store; identifiers are
// authoritative there.
func (x *Index) FetchOne(ctx context.Context, et *metadata.EntityType, id string, embeds []query.Embed) (*query.Row, error) {
	return x.rows.FetchOne(ctx, et, id, embeds)
}

func (x *Index) Count(ctx context.Context, et *metadata.EntityType, req *query.FilterRequest) (int64, error) {
	where, args, _ := whereClause(et, req)
	var n int64
	err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(tableName(et))+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", et.Name, err)
	}
	return n, nil
}

func (x *Index) search(ctx context.Context, et *metadata.EntityType, req *query.FilterRequest) ([]any, error) {
	where, args, matched := whereClause(et, req)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(quote(et.IDField))
	b.WriteString(" FROM ")
	b.WriteString(quote(tableName(et)))
	b.WriteString(where)
	switch {
	case req.Sort != nil:
		b.WriteString(" ORDER BY " + quote(req.Sort.Field.Name))
		if req.Sort.Desc {
			b.WriteString(" DESC")
		}
		b.WriteString(", rowid")
	case matched:
		b.WriteString(" ORDER BY rank, rowid")
	default:
		b.WriteString(" ORDER BY rowid")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = -1
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, req.Offset)

	rows, err := x.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", et.Name, err)
	}
	defer rows.Close()

	var ids []any
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if raw, ok := id.([]byte); ok {
			id = string(raw)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// whereClause turns filters into FTS5 column queries and q into a free-text
// query. Null values cannot be matched and use IS NULL instead. matched
// reports whether the outer query carries a MATCH, which rank needs.
func whereClause(et *metadata.EntityType, req *query.FilterRequest) (where string, args []any, matched bool) {
	var terms, conds []string
	table := quote(tableName(et))

	for _, f := range req.Filters {
		var phrases []string
		hasNull := false
		for _, v := range f.Values {
			if v == nil {
				hasNull = true
				continue
			}
			phrases = append(phrases, f.Field.Name+" : "+phrase(Text(f.Field, v)))
		}
		col := quote(f.Field.Name)
		switch {
		case len(phrases) == 0:
			conds = append(conds, col+" IS NULL")
		case hasNull:
			conds = append(conds, fmt.Sprintf("(%s IS NULL OR rowid IN (SELECT rowid FROM %s WHERE %s MATCH ?))", col, table, table))
			args = append(args, anyOf(phrases))
		default:
			terms = append(terms, anyOf(phrases))
		}
	}
	if words := strings.Fields(req.Text); len(words) > 0 {
		for i, w := range words {
			words[i] = phrase(w)
		}
		terms = append(terms, "("+strings.Join(words, " ")+")")
	}

	if len(terms) > 0 {
		conds = append([]string{table + " MATCH ?"}, conds...)
		args = append([]any{strings.Join(terms, " AND ")}, args...)
	}
	if len(conds) == 0 {
		return "", nil, false
	}
	return " WHERE " + strings.Join(conds, " AND "), args, len(terms) > 0
}

func anyOf(phrases []string) string {
	if len(phrases) == 1 {
		return phrases[0]
	}
	return "(" + strings.Join(phrases, " OR ") + ")"
}

func phrase(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func tableName(et *metadata.EntityType) string {
	return et.Table + "_fts"
}

// Text is the indexed form of a value of f. Filters and reindexing share it
// so coerced filter values match what was stored.
func Text(f *metadata.Field, v any) string {
	if v == nil {
		return ""
	}
	switch f.Type {
	case metadata.TypeBool:
		if b, err := cast.ToBoolE(v); err == nil {
			return strconv.FormatBool(b)
		}
	case metadata.TypeDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.DateOnly)
		}
	case metadata.TypeTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
	}
	if x, ok := v.(float64); ok {
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return cast.ToString(v)
}

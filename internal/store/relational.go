package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"readapi/internal/metadata"
	"readapi/internal/query"
)

const (
	defaultChunkSize = 200
	// maxInParams bounds the placeholders of one batched IN query.
	maxInParams = 500
)

// Relational serves entity types from SQL tables. Rows are streamed from an
// open cursor; relations are prefetched with batched IN queries once per
// chunk of rows.
type Relational struct {
	store *Store
	chunk int
}

func NewRelational(s *Store) *Relational {
	return &Relational{store: s, chunk: defaultChunkSize}
}

// WithChunkSize sets how many rows are buffered before their relations are
// prefetched.
func (r *Relational) WithChunkSize(n int) *Relational {
	if n > 0 {
		r.chunk = n
	}
	return r
}

func (r *Relational) FetchMany(ctx context.Context, et *metadata.EntityType, req *query.FilterRequest) iter.Seq2[*query.Row, error] {
	return func(yield func(*query.Row, error) bool) {
		fields := storedFields(et)
		pb := r.store.Dialect.NewParamBuilder()
		sqlStr := r.selectSQL(et, fields, req, pb)

		rows, err := r.store.DB.QueryContext(ctx, sqlStr, pb.Params()...)
		if err != nil {
			yield(nil, fmt.Errorf("query %s: %w", et.Table, classify(err)))
			return
		}
		defer rows.Close()

		batch := make([]*query.Row, 0, r.chunk)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			if err := r.complete(ctx, et, batch, req.Embeds); err != nil {
				yield(nil, err)
				return false
			}
			for _, row := range batch {
				if !yield(row, nil) {
					return false
				}
			}
			batch = batch[:0]
			return true
		}

		for rows.Next() {
			row, err := readRow(rows, fields)
			if err != nil {
				yield(nil, err)
				return
			}
			batch = append(batch, row)
			if len(batch) == r.chunk && !flush() {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("rows iteration: %w", err))
			return
		}
		flush()
	}
}

func (r *Relational) FetchOne(ctx context.Context, et *metadata.EntityType, id string, embeds []query.Embed) (*query.Row, error) {
	key, ok := parseID(et, id)
	if !ok {
		return nil, query.ErrNotFound
	}
	rows, err := r.FetchByIDs(ctx, et, []any{key}, embeds)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, query.ErrNotFound
	}
	return rows[0], nil
}

func (r *Relational) Count(ctx context.Context, et *metadata.EntityType, req *query.FilterRequest) (int64, error) {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := "SELECT COUNT(*) FROM " + r.store.Dialect.Quote(et.Table) + r.where(et, req.Filters, pb)

	var n int64
	if err := r.store.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", et.Table, classify(err))
	}
	return n, nil
}

// FetchByIDs loads the rows with the given identifiers, in the order of ids.
// Missing and soft-deleted rows are skipped.
func (r *Relational) FetchByIDs(ctx context.Context, et *metadata.EntityType, ids []any, embeds []query.Embed) ([]*query.Row, error) {
	found, err := r.rowsByID(ctx, et, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*query.Row, 0, len(ids))
	for _, id := range ids {
		if row, ok := found[idKey(id)]; ok {
			out = append(out, row)
		}
	}
	if err := r.prefetch(ctx, et, out, embeds); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Relational) selectSQL(et *metadata.EntityType, fields []*metadata.Field, req *query.FilterRequest, pb ParamBuilder) string {
	d := r.store.Dialect
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(columnList(d, fields))
	b.WriteString(" FROM ")
	b.WriteString(d.Quote(et.Table))
	b.WriteString(r.where(et, req.Filters, pb))

	idCol := d.Quote(et.ID().Column)
	b.WriteString(" ORDER BY ")
	if req.Sort != nil && req.Sort.Field.Name != et.IDField {
		b.WriteString(d.Quote(req.Sort.Field.Column))
		if req.Sort.Desc {
			b.WriteString(" DESC")
		}
		b.WriteString(", ")
		b.WriteString(idCol)
	} else {
		b.WriteString(idCol)
		if req.Sort != nil && req.Sort.Desc {
			b.WriteString(" DESC")
		}
	}

	if req.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(pb.Add(req.Limit))
		if req.Offset > 0 {
			b.WriteString(" OFFSET ")
			b.WriteString(pb.Add(req.Offset))
		}
	}
	return b.String()
}

func (r *Relational) where(et *metadata.EntityType, filters []query.Filter, pb ParamBuilder) string {
	var conds []string
	if et.SoftDelete {
		conds = append(conds, r.store.Dialect.Quote("deleted_at")+" IS NULL")
	}
	for _, f := range filters {
		conds = append(conds, r.predicate(f, pb))
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

var comparisons = map[query.Op]string{
	query.OpGT:  ">",
	query.OpGTE: ">=",
	query.OpLT:  "<",
	query.OpLTE: "<=",
}

func (r *Relational) predicate(f query.Filter, pb ParamBuilder) string {
	d := r.store.Dialect
	col := d.Quote(f.Field.Column)

	switch f.Op {
	case query.OpExact:
		if f.Values[0] == nil {
			return col + " IS NULL"
		}
		return col + " = " + pb.Add(d.Arg(f.Values[0]))
	case query.OpIn:
		var values []any
		hasNull := false
		for _, v := range f.Values {
			if v == nil {
				hasNull = true
				continue
			}
			values = append(values, d.Arg(v))
		}
		switch {
		case hasNull && len(values) == 0:
			return col + " IS NULL"
		case hasNull:
			return "(" + d.InExpr(col, pb, values) + " OR " + col + " IS NULL)"
		default:
			return d.InExpr(col, pb, values)
		}
	case query.OpRange:
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, pb.Add(d.Arg(f.Values[0])), pb.Add(d.Arg(f.Values[1])))
	case query.OpContains:
		return d.ContainsExpr(col, pb, cast.ToString(f.Values[0]))
	case query.OpStartsWith:
		return d.StartsWithExpr(col, pb, cast.ToString(f.Values[0]))
	default:
		return fmt.Sprintf("%s %s %s", col, comparisons[f.Op], pb.Add(d.Arg(f.Values[0])))
	}
}

// complete fills relation-many identifiers and prefetches embedded rows for
// one chunk.
func (r *Relational) complete(ctx context.Context, et *metadata.EntityType, rows []*query.Row, embeds []query.Embed) error {
	if err := r.loadMany(ctx, et, rows); err != nil {
		return err
	}
	return r.prefetch(ctx, et, rows, embeds)
}

// rowsByID selects rows of et by identifier, with relation-many identifiers
// loaded, keyed by idKey.
func (r *Relational) rowsByID(ctx context.Context, et *metadata.EntityType, ids []any) (map[string]*query.Row, error) {
	d := r.store.Dialect
	fields := storedFields(et)
	found := make(map[string]*query.Row, len(ids))
	var loaded []*query.Row

	for _, part := range chunks(dedupe(ids), maxInParams) {
		pb := d.NewParamBuilder()
		conds := []string{d.InExpr(d.Quote(et.ID().Column), pb, part)}
		if et.SoftDelete {
			conds = append(conds, d.Quote("deleted_at")+" IS NULL")
		}
		sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
			columnList(d, fields), d.Quote(et.Table), strings.Join(conds, " AND "))

		rows, err := r.store.DB.QueryContext(ctx, sqlStr, pb.Params()...)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", et.Table, classify(err))
		}
		for rows.Next() {
			row, err := readRow(rows, fields)
			if err != nil {
				rows.Close()
				return nil, err
			}
			found[idKey(row.Values[et.IDField])] = row
			loaded = append(loaded, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows iteration: %w", err)
		}
	}

	if err := r.loadMany(ctx, et, loaded); err != nil {
		return nil, err
	}
	return found, nil
}

// loadMany stores the target identifiers of every relation-many field on
// rows as a []any, ordered by target identifier.
func (r *Relational) loadMany(ctx context.Context, et *metadata.EntityType, rows []*query.Row) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]any, len(rows))
	for i, row := range rows {
		ids[i] = row.Values[et.IDField]
	}

	for _, f := range et.Fields {
		if f.Kind != metadata.KindRelationMany {
			continue
		}
		links := make(map[string][]any)
		for _, part := range chunks(dedupe(ids), maxInParams) {
			if err := r.links(ctx, f, part, links); err != nil {
				return fmt.Errorf("load %s.%s: %w", et.Name, f.Name, err)
			}
		}
		for _, row := range rows {
			targets := links[idKey(row.Values[et.IDField])]
			if targets == nil {
				targets = []any{}
			}
			row.Values[f.Name] = targets
		}
	}
	return nil
}

func (r *Relational) links(ctx context.Context, f *metadata.Field, sources []any, into map[string][]any) error {
	d := r.store.Dialect
	target := f.TargetType
	pb := d.NewParamBuilder()

	var sqlStr string
	if f.Through != nil {
		src := "j." + d.Quote(f.Through.SourceKey)
		tgt := "j." + d.Quote(f.Through.TargetKey)
		from := d.Quote(f.Through.Table) + " j"
		conds := []string{d.InExpr(src, pb, sources)}
		if target.SoftDelete {
			from += fmt.Sprintf(" JOIN %s t ON t.%s = %s", d.Quote(target.Table), d.Quote(target.ID().Column), tgt)
			conds = append(conds, "t."+d.Quote("deleted_at")+" IS NULL")
		}
		sqlStr = fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s ORDER BY %s, %s",
			src, tgt, from, strings.Join(conds, " AND "), src, tgt)
	} else {
		fk := d.Quote(f.ForeignKey)
		id := d.Quote(target.ID().Column)
		conds := []string{d.InExpr(fk, pb, sources)}
		if target.SoftDelete {
			conds = append(conds, d.Quote("deleted_at")+" IS NULL")
		}
		sqlStr = fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s ORDER BY %s, %s",
			fk, id, d.Quote(target.Table), strings.Join(conds, " AND "), fk, id)
	}

	rows, err := r.store.DB.QueryContext(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		values, err := scanRow(rows, 2)
		if err != nil {
			return err
		}
		key := idKey(values[0])
		into[key] = append(into[key], values[1])
	}
	return rows.Err()
}

// prefetch loads the rows embedded by embeds, recursing into their children,
// and attaches them to rows.Embedded keyed by relation field name.
func (r *Relational) prefetch(ctx context.Context, et *metadata.EntityType, rows []*query.Row, embeds []query.Embed) error {
	if len(rows) == 0 {
		return nil
	}
	for _, e := range embeds {
		var want []any
		for _, row := range rows {
			want = append(want, relatedIDs(row, e.Field)...)
		}
		want = dedupe(want)

		found, err := r.rowsByID(ctx, e.Field.TargetType, want)
		if err != nil {
			return fmt.Errorf("prefetch %s.%s: %w", et.Name, e.Field.Name, err)
		}
		related := make([]*query.Row, 0, len(found))
		for _, id := range want {
			if row, ok := found[idKey(id)]; ok {
				related = append(related, row)
			}
		}
		if err := r.prefetch(ctx, e.Field.TargetType, related, e.Children); err != nil {
			return err
		}

		for _, row := range rows {
			var attached []*query.Row
			for _, id := range relatedIDs(row, e.Field) {
				if target, ok := found[idKey(id)]; ok {
					attached = append(attached, target)
				}
			}
			row.Embedded[e.Field.Name] = attached
		}
	}
	return nil
}

func relatedIDs(row *query.Row, f *metadata.Field) []any {
	v := row.Values[f.Name]
	if v == nil {
		return nil
	}
	if ids, ok := v.([]any); ok {
		return ids
	}
	return []any{v}
}

func storedFields(et *metadata.EntityType) []*metadata.Field {
	var out []*metadata.Field
	for _, f := range et.Fields {
		if f.IsStored() {
			out = append(out, f)
		}
	}
	return out
}

func columnList(d Dialect, fields []*metadata.Field) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = d.Quote(f.Column)
	}
	return strings.Join(cols, ", ")
}

func readRow(rows *sql.Rows, fields []*metadata.Field) (*query.Row, error) {
	values, err := scanRow(rows, len(fields))
	if err != nil {
		return nil, err
	}
	row := query.NewRow()
	for i, f := range fields {
		row.Values[f.Name] = values[i]
	}
	return row, nil
}

// parseID converts a path identifier to the id field's type. Identifiers that
// cannot be converted match nothing.
func parseID(et *metadata.EntityType, id string) (any, bool) {
	if et.ID().Type == metadata.TypeInt {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	}
	return id, true
}

// idKey makes identifiers read from different columns comparable.
func idKey(v any) string {
	return fmt.Sprint(v)
}

func dedupe(ids []any) []any {
	seen := make(map[string]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if id == nil {
			continue
		}
		k := idKey(id)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, id)
	}
	return out
}

func chunks(ids []any, size int) [][]any {
	var out [][]any
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// sqliteTimeLayout matches SQLite's own datetime() output, so text
// comparisons order correctly.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) Quote(ident string) string { return quoteIdent(ident) }

func (d *SQLiteDialect) ColumnType(fieldType string) string {
	switch fieldType {
	case "int":
		return "INTEGER"
	case "float":
		return "REAL"
	case "bool":
		return "BOOLEAN"
	case "timestamp":
		return "DATETIME"
	case "date":
		return "DATE"
	default:
		return "TEXT"
	}
}

func (d *SQLiteDialect) Arg(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(sqliteTimeLayout)
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}

func (d *SQLiteDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?1",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) GetColumns(ctx context.Context, q Querier, tableName string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?1)", tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, colType string
		if err := rows.Scan(&name, &colType); err != nil {
			return nil, err
		}
		cols[name] = colType
	}
	return cols, rows.Err()
}

func (d *SQLiteDialect) Indexes(ctx context.Context, q Querier, tableName string) ([]Index, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, "unique" FROM pragma_index_list(?1) ORDER BY name`, tableName)
	if err != nil {
		return nil, err
	}
	var out []Index
	for rows.Next() {
		var ix Index
		var unique int64
		if err := rows.Scan(&ix.Name, &unique); err != nil {
			rows.Close()
			return nil, err
		}
		ix.Unique = unique != 0
		out = append(out, ix)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		cols, err := d.indexColumns(ctx, q, out[i].Name)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", out[i].Name, err)
		}
		out[i].Columns = cols
	}
	return out, nil
}

func (d *SQLiteDialect) indexColumns(ctx context.Context, q Querier, index string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_index_info(?1) ORDER BY seqno", index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		// Expression index keys have no column name.
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func (d *SQLiteDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	return inExpr(field, pb, values)
}

// SQLite's LIKE folds ASCII case, so substring predicates use instr and
// substr instead.
func (d *SQLiteDialect) ContainsExpr(field string, pb ParamBuilder, s string) string {
	return fmt.Sprintf("instr(%s, %s) > 0", field, pb.Add(s))
}

func (d *SQLiteDialect) StartsWithExpr(field string, pb ParamBuilder, s string) string {
	ph := pb.Add(s)
	return fmt.Sprintf("substr(%s, 1, length(%s)) = %s", field, ph, ph)
}

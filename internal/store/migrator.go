package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"readapi/internal/metadata"
)

// Migrator creates the tables, join tables and indexes a registry describes.
// It is a development aid for seeding a database: existing tables only gain
// missing columns and indexes, nothing is dropped.
type Migrator struct {
	store *Store
	log   zerolog.Logger
}

func NewMigrator(s *Store, log zerolog.Logger) *Migrator {
	return &Migrator{store: s, log: log}
}

// Migrate brings the schema of every relational entity type up to date.
func (m *Migrator) Migrate(ctx context.Context, types []*metadata.EntityType) error {
	for _, et := range types {
		if err := m.migrateEntity(ctx, et); err != nil {
			return err
		}
		for _, f := range et.Fields {
			if f.Through == nil {
				continue
			}
			if err := m.createJoinTable(ctx, et, f); err != nil {
				return fmt.Errorf("join table %s: %w", f.Through.Table, err)
			}
		}
	}
	return nil
}

func (m *Migrator) migrateEntity(ctx context.Context, et *metadata.EntityType) error {
	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, et.Table)
	if err != nil {
		return fmt.Errorf("check table %s: %w", et.Table, err)
	}

	if !exists {
		if err := m.createTable(ctx, et); err != nil {
			return err
		}
		m.log.Info().Str("table", et.Table).Msg("created table")
	} else if err := m.alterTable(ctx, et); err != nil {
		return err
	}

	if err := m.createIndexes(ctx, et); err != nil {
		return fmt.Errorf("create indexes for %s: %w", et.Table, err)
	}
	return nil
}

func (m *Migrator) createTable(ctx context.Context, et *metadata.EntityType) error {
	var cols []string
	for _, f := range storedFields(et) {
		cols = append(cols, m.buildColumnDef(et, f))
	}

	// Add deleted_at if soft delete is enabled and not already in fields
	if et.SoftDelete && et.Field("deleted_at") == nil {
		cols = append(cols, m.store.Dialect.Quote("deleted_at")+" "+m.store.Dialect.ColumnType(metadata.TypeTimestamp))
	}

	sql := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", m.store.Dialect.Quote(et.Table), strings.Join(cols, ",\n  "))
	if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", et.Table, err)
	}
	return nil
}

func (m *Migrator) alterTable(ctx context.Context, et *metadata.EntityType) error {
	d := m.store.Dialect
	existing, err := d.GetColumns(ctx, m.store.DB, et.Table)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", et.Table, err)
	}

	add := func(column, colType string) error {
		if _, ok := existing[column]; ok {
			return nil
		}
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.Quote(et.Table), d.Quote(column), colType)
		if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("add column %s.%s: %w", et.Table, column, err)
		}
		m.log.Info().Str("table", et.Table).Str("column", column).Msg("added column")
		return nil
	}

	for _, f := range storedFields(et) {
		if err := add(f.Column, d.ColumnType(columnType(f))); err != nil {
			return err
		}
	}
	if et.SoftDelete {
		return add("deleted_at", d.ColumnType(metadata.TypeTimestamp))
	}
	return nil
}

func (m *Migrator) buildColumnDef(et *metadata.EntityType, f *metadata.Field) string {
	col := m.store.Dialect.Quote(f.Column) + " " + m.store.Dialect.ColumnType(columnType(f))
	switch {
	case f.Name == et.IDField:
		col += " PRIMARY KEY"
	case !f.Nullable:
		col += " NOT NULL"
	}
	return col
}

func (m *Migrator) createJoinTable(ctx context.Context, et *metadata.EntityType, f *metadata.Field) error {
	d := m.store.Dialect
	src, tgt := d.Quote(f.Through.SourceKey), d.Quote(f.Through.TargetKey)
	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s %s NOT NULL,\n  %s %s NOT NULL,\n  PRIMARY KEY (%s, %s)\n)",
		d.Quote(f.Through.Table),
		src, d.ColumnType(et.ID().Type),
		tgt, d.ColumnType(f.TargetType.ID().Type),
		src, tgt)
	_, err := m.store.DB.ExecContext(ctx, sql)
	return err
}

func (m *Migrator) createIndexes(ctx context.Context, et *metadata.EntityType) error {
	d := m.store.Dialect
	exec := func(sql string) error {
		_, err := m.store.DB.ExecContext(ctx, sql)
		return err
	}

	for _, f := range et.Fields {
		if !f.Indexed || f.Name == et.IDField || !f.IsStored() {
			continue
		}
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			d.Quote("idx_"+et.Table+"_"+f.Column), d.Quote(et.Table), d.Quote(f.Column))
		if err := exec(sql); err != nil {
			return fmt.Errorf("index %s.%s: %w", et.Table, f.Column, err)
		}
	}

	for _, group := range et.UniqueGroups {
		cols := make([]string, len(group))
		names := make([]string, len(group))
		for i, name := range group {
			column := et.Field(name).Column
			cols[i] = d.Quote(column)
			names[i] = column
		}
		sql := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			d.Quote("uq_"+et.Table+"_"+strings.Join(names, "_")), d.Quote(et.Table), strings.Join(cols, ", "))
		if err := exec(sql); err != nil {
			return fmt.Errorf("unique index on %s: %w", et.Table, err)
		}
	}

	if et.SoftDelete {
		sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s) WHERE %s IS NULL",
			d.Quote("idx_"+et.Table+"_deleted_at"), d.Quote(et.Table), d.Quote("deleted_at"), d.Quote("deleted_at"))
		if err := exec(sql); err != nil {
			return fmt.Errorf("create soft delete index on %s: %w", et.Table, err)
		}
	}
	return nil
}

// columnType is the value type stored in f's column. Relation-single columns
// hold the target's identifier.
func columnType(f *metadata.Field) string {
	if f.Kind == metadata.KindRelationSingle {
		return f.TargetType.ID().Type
	}
	return f.Type
}

package store

import (
	"context"
	"fmt"
	"slices"

	"readapi/internal/metadata"
)

// Introspect reads the live schema and marks definitions accordingly: a
// single-column index makes its field indexed, and a multi-column unique
// index becomes a unique group. Declared settings are only ever added to.
// It must run before the definitions are registered.
func Introspect(ctx context.Context, s *Store, defs []metadata.Definition) error {
	for i := range defs {
		def := &defs[i]
		table := def.Table
		if table == "" {
			table = def.Name
		}

		exists, err := s.Dialect.TableExists(ctx, s.DB, table)
		if err != nil {
			return fmt.Errorf("introspect %s: %w", def.Name, err)
		}
		if !exists {
			return fmt.Errorf("introspect %s: table %s does not exist", def.Name, table)
		}

		indexes, err := s.Dialect.Indexes(ctx, s.DB, table)
		if err != nil {
			return fmt.Errorf("introspect %s: %w", def.Name, err)
		}
		applyIndexes(def, indexes)
	}
	return nil
}

func applyIndexes(def *metadata.Definition, indexes []Index) {
	byColumn := make(map[string]int, len(def.Fields))
	for i, f := range def.Fields {
		if col := declaredColumn(f); col != "" {
			byColumn[col] = i
		}
	}

	for _, ix := range indexes {
		if len(ix.Columns) == 1 {
			if i, ok := byColumn[ix.Columns[0]]; ok {
				def.Fields[i].Indexed = true
			}
			continue
		}
		if !ix.Unique {
			continue
		}
		group := make([]string, 0, len(ix.Columns))
		for _, col := range ix.Columns {
			i, ok := byColumn[col]
			if !ok {
				break
			}
			group = append(group, def.Fields[i].Name)
		}
		if len(group) != len(ix.Columns) || hasGroup(def.UniqueTogether, group) {
			continue
		}
		def.UniqueTogether = append(def.UniqueTogether, group)
	}
}

// declaredColumn mirrors the column defaults applied at registration.
// Relation-many fields have no column of their own.
func declaredColumn(f metadata.Field) string {
	switch {
	case f.Column != "":
		return f.Column
	case f.Kind == metadata.KindRelationMany:
		return ""
	case f.Kind == metadata.KindRelationSingle:
		return f.Name + "_id"
	default:
		return f.Name
	}
}

func hasGroup(groups [][]string, group []string) bool {
	for _, g := range groups {
		if slices.Equal(g, group) {
			return true
		}
	}
	return false
}

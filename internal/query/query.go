// Package query defines the validated request handed to data sources and the
// data source contract itself.
package query

import (
	"context"
	"errors"
	"iter"

	"readapi/internal/metadata"
)

var ErrNotFound = errors.New("not found")

type Op string

const (
	OpExact      Op = "exact"
	OpContains   Op = "contains"
	OpStartsWith Op = "startswith"
	OpGT         Op = "gt"
	OpGTE        Op = "gte"
	OpLT         Op = "lt"
	OpLTE        Op = "lte"
	OpIn         Op = "in"
	OpRange      Op = "range"
)

// Ops lists every operator in documentation order.
var Ops = []Op{OpExact, OpContains, OpStartsWith, OpGT, OpGTE, OpLT, OpLTE, OpIn, OpRange}

// Filter is one accepted predicate. Values are already coerced to the
// field's type; a nil value means SQL NULL.
type Filter struct {
	Field  *metadata.Field
	Op     Op
	Values []any
}

type Sort struct {
	Field *metadata.Field
	Desc  bool
}

// Embed describes one relation to prefetch and, recursively, what to
// prefetch on the rows it yields.
type Embed struct {
	Field    *metadata.Field
	Children []Embed
}

// FilterRequest is the accepted subset of a request's parameters. Every
// filter in it has passed validation.
type FilterRequest struct {
	Filters  []Filter
	Sort     *Sort
	Offset   int
	Limit    int
	Format   string
	Callback string
	Fields   []string
	Text     string
	Embeds   []Embed
}

// Row is a raw entity handle. Values holds column values keyed by field name;
// relation-single fields hold the target id and relation-many fields a []any
// of target ids. Embedded holds prefetched rows per relation field name.
type Row struct {
	Values   map[string]any
	Embedded map[string][]*Row
}

func NewRow() *Row {
	return &Row{Values: make(map[string]any), Embedded: make(map[string][]*Row)}
}

// Source executes accepted requests against a backend. Implementations only
// read: they never mutate the underlying store.
type Source interface {
	// FetchMany yields matching rows lazily. Stopping the iteration early
	// releases the underlying cursor.
	FetchMany(ctx context.Context, et *metadata.EntityType, req *FilterRequest) iter.Seq2[*Row, error]
	// FetchOne returns the row with the given identifier or ErrNotFound.
	FetchOne(ctx context.Context, et *metadata.EntityType, id string, embeds []Embed) (*Row, error)
	// Count returns the number of rows matching req, ignoring pagination.
	Count(ctx context.Context, et *metadata.EntityType, req *FilterRequest) (int64, error)
}

package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"readapi/internal/metadata"
	"readapi/internal/node"
	"readapi/internal/query"
)

var errNoLabel = errors.New("stored value has no label")

// FieldErrorFunc observes additional-field failures, which are annotated on
// the record instead of failing it.
type FieldErrorFunc func(entity, field string, err error)

// Serializer converts rows into detached node trees.
type Serializer struct {
	onFieldError FieldErrorFunc
}

func NewSerializer(onFieldError FieldErrorFunc) *Serializer {
	if onFieldError == nil {
		onFieldError = func(string, string, error) {}
	}
	return &Serializer{onFieldError: onFieldError}
}

// Serialize renders one row. Single-object queries additionally embed the
// recurse_on_single relations.
func (s *Serializer) Serialize(et *metadata.EntityType, row *query.Row, single bool) (*node.Node, error) {
	return s.serializeRow(et, row, Plan(et, single))
}

// SerializeWith renders one row using a precomputed embed plan.
func (s *Serializer) SerializeWith(et *metadata.EntityType, row *query.Row, embeds []query.Embed) (*node.Node, error) {
	return s.serializeRow(et, row, embeds)
}

// SerializeList renders rows as list elements.
func (s *Serializer) SerializeList(et *metadata.EntityType, rows []*query.Row) (*node.Node, error) {
	embeds := Plan(et, false)
	list := node.NewList()
	for _, row := range rows {
		n, err := s.serializeRow(et, row, embeds)
		if err != nil {
			return nil, err
		}
		list.Append(n)
	}
	return list, nil
}

func (s *Serializer) serializeRow(et *metadata.EntityType, row *query.Row, embeds []query.Embed) (*node.Node, error) {
	obj := node.NewObject()
	for _, f := range et.Fields {
		raw := row.Values[f.Name]
		var (
			n   *node.Node
			err error
		)
		switch f.Kind {
		case metadata.KindChoice:
			n, err = choiceNode(f, raw)
		case metadata.KindRelationSingle, metadata.KindRelationMany:
			if e, ok := findEmbed(embeds, f.Name); ok {
				n, err = s.embedded(f, row.Embedded[f.Name], e.Children)
			} else {
				n, err = identifiers(f, raw)
			}
		default:
			n, err = scalarNode(f.Type, raw)
		}
		if err != nil {
			var serErr *SerializationError
			if errors.As(err, &serErr) {
				return nil, err
			}
			return nil, &SerializationError{Entity: et.Name, Field: f.Name, Err: err}
		}
		obj.Set(f.Name, n)
	}

	if len(et.AdditionalFields) > 0 {
		record := metadata.Record(row.Values)
		for _, af := range et.AdditionalFields {
			obj.Set(af.Name, s.additional(et, af, record))
		}
	}
	return obj, nil
}

func (s *Serializer) additional(et *metadata.EntityType, af metadata.AdditionalField, record metadata.Record) (n *node.Node) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("generator panicked: %v", r)
			s.onFieldError(et.Name, af.Name, err)
			n = errorNode(err)
		}
	}()
	v, err := af.Generator.Generate(record)
	if err != nil {
		s.onFieldError(et.Name, af.Name, err)
		return errorNode(err)
	}
	return valueNode(v)
}

// errorNode is the per-field annotation left in place of a failed
// additional field.
func errorNode(err error) *node.Node {
	return node.NewObject().Set("error", node.NewScalar(err.Error()))
}

func (s *Serializer) embedded(f *metadata.Field, rows []*query.Row, children []query.Embed) (*node.Node, error) {
	if f.Kind == metadata.KindRelationSingle {
		if len(rows) == 0 {
			return node.Null(), nil
		}
		return s.serializeRow(f.TargetType, rows[0], children)
	}
	list := node.NewList()
	for _, r := range rows {
		n, err := s.serializeRow(f.TargetType, r, children)
		if err != nil {
			return nil, err
		}
		list.Append(n)
	}
	return list, nil
}

func choiceNode(f *metadata.Field, raw any) (*node.Node, error) {
	if raw == nil {
		return node.Null(), nil
	}
	label, ok := f.Label(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %v", errNoLabel, raw)
	}
	return node.NewScalar(label), nil
}

func identifiers(f *metadata.Field, raw any) (*node.Node, error) {
	idType := f.TargetType.ID().Type
	if f.Kind == metadata.KindRelationSingle {
		return scalarNode(idType, raw)
	}
	ids, _ := raw.([]any)
	list := node.NewList()
	for _, id := range ids {
		n, err := scalarNode(idType, id)
		if err != nil {
			return nil, err
		}
		list.Append(n)
	}
	return list, nil
}

// scalarNode converts a driver value to a leaf of the declared type.
func scalarNode(typ string, raw any) (*node.Node, error) {
	if raw == nil {
		return node.Null(), nil
	}
	switch typ {
	case metadata.TypeInt:
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return nil, err
		}
		return node.NewScalar(v), nil
	case metadata.TypeFloat:
		v, err := cast.ToFloat64E(toText(raw))
		if err != nil {
			return nil, err
		}
		return node.NewScalar(v), nil
	case metadata.TypeBool:
		v, err := cast.ToBoolE(raw)
		if err != nil {
			return nil, err
		}
		return node.NewScalar(v), nil
	case metadata.TypeTimestamp:
		if t, ok := raw.(time.Time); ok {
			return node.NewScalar(t.Format(time.RFC3339)), nil
		}
		return node.NewScalar(toText(raw)), nil
	case metadata.TypeDate:
		if t, ok := raw.(time.Time); ok {
			return node.NewScalar(t.Format(time.DateOnly)), nil
		}
		return node.NewScalar(toText(raw)), nil
	default:
		v, err := cast.ToStringE(toText(raw))
		if err != nil {
			return nil, err
		}
		return node.NewScalar(v), nil
	}
}

func toText(raw any) any {
	if b, ok := raw.([]byte); ok {
		return string(b)
	}
	return raw
}

// valueNode converts a generator result. Maps and slices become objects and
// lists; map keys are not ordered by any declaration, so they are sorted.
func valueNode(v any) *node.Node {
	switch t := v.(type) {
	case nil:
		return node.Null()
	case *node.Node:
		return t
	case time.Time:
		return node.NewScalar(t.Format(time.RFC3339))
	case []any:
		list := node.NewList()
		for _, item := range t {
			list.Append(valueNode(item))
		}
		return list
	case []string:
		list := node.NewList()
		for _, item := range t {
			list.Append(node.NewScalar(item))
		}
		return list
	case map[string]any:
		obj := node.NewObject()
		for _, k := range sortedKeys(t) {
			obj.Set(k, valueNode(t[k]))
		}
		return obj
	default:
		return node.NewScalar(t)
	}
}

// Select keeps only the requested field paths of an object, or of every
// object in a list. A bare name keeps the whole member; "owner.name" keeps
// only name inside owner.
func Select(n *node.Node, paths []string) *node.Node {
	if len(paths) == 0 || n.IsNull() {
		return n
	}
	switch n.Kind {
	case node.List:
		out := node.NewList()
		for _, item := range n.Items {
			out.Append(Select(item, paths))
		}
		return out
	case node.Object:
		out := node.NewObject()
		wantWhole := make(map[string]bool)
		nested := make(map[string][]string)
		for _, p := range paths {
			head, rest, ok := strings.Cut(p, ".")
			if ok {
				nested[head] = append(nested[head], rest)
			} else {
				wantWhole[head] = true
			}
		}
		for _, m := range n.Members {
			switch {
			case wantWhole[m.Name]:
				out.Set(m.Name, m.Value)
			case nested[m.Name] != nil:
				out.Set(m.Name, Select(m.Value, nested[m.Name]))
			}
		}
		return out
	default:
		return n
	}
}

package metadata

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var ErrSealed = errors.New("registry is sealed")

// Registry maps endpoint names to entity types. It is populated once at
// startup and read without locking after Seal.
type Registry struct {
	entities   map[string]*EntityType
	generators map[string]Generator
	sealed     bool
}

func NewRegistry() *Registry {
	return &Registry{
		entities:   make(map[string]*EntityType),
		generators: make(map[string]Generator),
	}
}

// RegisterGenerator makes a Go generator available to additional fields
// declaring `generator: <name>`.
func (r *Registry) RegisterGenerator(name string, g Generator) {
	r.generators[name] = g
}

// Register classifies the definition's fields and records it under its name.
// Relation targets are resolved by Seal, so definitions may reference types
// registered later, or themselves.
func (r *Registry) Register(def Definition) error {
	if r.sealed {
		return ErrSealed
	}
	if def.Name == "" {
		return &ConfigurationError{Reason: "entity without name"}
	}
	if _, dup := r.entities[def.Name]; dup {
		return &ConfigurationError{Entity: def.Name, Reason: "registered twice"}
	}

	et := &EntityType{
		Name:            def.Name,
		Table:           def.Table,
		Doc:             def.Doc,
		IDField:         def.IDField,
		Backend:         def.Backend,
		SoftDelete:      def.SoftDelete,
		RecurseOn:       def.RecurseOn,
		RecurseOnSingle: def.RecurseOnSingle,
		FilterGuards:    def.FilterIf,
		UniqueGroups:    def.UniqueTogether,
		ExampleID:       def.ExampleID,
		ExampleParams:   url.Values{},
		byName:          make(map[string]*Field),
	}
	if et.Table == "" {
		et.Table = def.Name
	}
	if et.IDField == "" {
		et.IDField = "id"
	}
	switch et.Backend {
	case "":
		et.Backend = BackendRelational
	case BackendRelational, BackendSearch:
	default:
		return &ConfigurationError{Entity: def.Name, Reason: fmt.Sprintf("unknown backend %q", def.Backend)}
	}
	for k, v := range def.ExampleParams {
		et.ExampleParams.Set(k, v)
	}

	if err := r.addFields(et, def.Fields); err != nil {
		return err
	}
	if err := checkRecursion(et, def.RecurseOn); err != nil {
		return err
	}
	if err := checkRecursion(et, def.RecurseOnSingle); err != nil {
		return err
	}
	if err := checkGuards(et); err != nil {
		return err
	}
	if err := checkUniqueGroups(et); err != nil {
		return err
	}
	if err := r.addAdditional(et, def.AdditionalFields); err != nil {
		return err
	}

	r.entities[et.Name] = et
	return nil
}

func (r *Registry) addFields(et *EntityType, defs []Field) error {
	hasID := false
	for _, d := range defs {
		if d.Name == et.IDField {
			hasID = true
		}
	}
	if !hasID {
		defs = append([]Field{{Name: et.IDField, Kind: KindScalar, Type: TypeInt}}, defs...)
	}

	for i := range defs {
		f := defs[i]
		if err := f.prepare(et.Name); err != nil {
			return err
		}
		if et.byName[f.Name] != nil {
			return &ConfigurationError{Entity: et.Name, Field: f.Name, Reason: "declared twice"}
		}
		if f.Name == et.IDField {
			if f.Kind != KindScalar {
				return &ConfigurationError{Entity: et.Name, Field: f.Name, Reason: "identifier must be a scalar"}
			}
			f.Indexed = true
		}
		fp := &f
		et.Fields = append(et.Fields, fp)
		et.byName[f.Name] = fp
	}
	return nil
}

// checkRecursion validates the first segment of each path. Deeper segments
// need resolved targets and are checked by Seal.
func checkRecursion(et *EntityType, paths []string) error {
	for _, p := range paths {
		head, _, _ := strings.Cut(p, ".")
		f := et.Field(head)
		if f == nil {
			return &ConfigurationError{Entity: et.Name, Field: head, Reason: "recursion names unknown field"}
		}
		if !f.IsRelation() {
			return &ConfigurationError{Entity: et.Name, Field: head, Reason: "recursion names non-relation field"}
		}
	}
	return nil
}

func checkGuards(et *EntityType) error {
	for field, required := range et.FilterGuards {
		f := et.Field(field)
		if f == nil {
			return &ConfigurationError{Entity: et.Name, Field: field, Reason: "filter_if names unknown field"}
		}
		if f.Kind == KindRelationMany {
			return &ConfigurationError{Entity: et.Name, Field: field, Reason: "filter_if names relation-many field"}
		}
		if len(required) == 0 {
			return &ConfigurationError{Entity: et.Name, Field: field, Reason: "filter_if requires at least one field"}
		}
		for _, req := range required {
			if !et.HasField(req) {
				return &ConfigurationError{Entity: et.Name, Field: field, Reason: fmt.Sprintf("filter_if requires unknown field %q", req)}
			}
		}
	}
	return nil
}

func checkUniqueGroups(et *EntityType) error {
	for _, group := range et.UniqueGroups {
		if len(group) == 0 {
			return &ConfigurationError{Entity: et.Name, Reason: "empty unique group"}
		}
		for _, name := range group {
			f := et.Field(name)
			if f == nil {
				return &ConfigurationError{Entity: et.Name, Field: name, Reason: "unique group names unknown field"}
			}
			if f.Kind == KindRelationMany {
				return &ConfigurationError{Entity: et.Name, Field: name, Reason: "unique group names relation-many field"}
			}
			f.UniqueGroups = append(f.UniqueGroups, group)
		}
	}
	return nil
}

func (r *Registry) addAdditional(et *EntityType, specs []AdditionalFieldSpec) error {
	for _, s := range specs {
		if et.HasField(s.Name) {
			return &ConfigurationError{Entity: et.Name, Field: s.Name, Reason: "additional field shadows a declared field"}
		}
		var gen Generator
		switch {
		case s.Expression != "" && s.Generator != "":
			return &ConfigurationError{Entity: et.Name, Field: s.Name, Reason: "both expression and generator given"}
		case s.Expression != "":
			g, err := CompileExpression(s.Expression)
			if err != nil {
				return &ConfigurationError{Entity: et.Name, Field: s.Name, Reason: err.Error()}
			}
			gen = g
		case s.Generator != "":
			g, ok := r.generators[s.Generator]
			if !ok {
				return &ConfigurationError{Entity: et.Name, Field: s.Name, Reason: fmt.Sprintf("unknown generator %q", s.Generator)}
			}
			gen = g
		default:
			return &ConfigurationError{Entity: et.Name, Field: s.Name, Reason: "additional field needs expression or generator"}
		}
		et.AdditionalFields = append(et.AdditionalFields, AdditionalField{Name: s.Name, Help: s.Help, Generator: gen})
	}
	return nil
}

// Seal resolves relation targets, validates dotted recursion paths and
// freezes the registry. Self and mutual references are allowed; embedding
// depth is bounded when plans are built.
func (r *Registry) Seal() error {
	if r.sealed {
		return ErrSealed
	}
	for _, name := range r.Names() {
		et := r.entities[name]
		for _, f := range et.Fields {
			if !f.IsRelation() {
				continue
			}
			target, ok := r.entities[f.Target]
			if !ok {
				return &ConfigurationError{Entity: et.Name, Field: f.Name, Reason: fmt.Sprintf("relation target %q is not registered", f.Target)}
			}
			f.TargetType = target
		}
	}
	for _, name := range r.Names() {
		et := r.entities[name]
		for _, p := range append(append([]string{}, et.RecurseOn...), et.RecurseOnSingle...) {
			if err := resolvePath(et, p); err != nil {
				return err
			}
		}
	}
	r.sealed = true
	return nil
}

func resolvePath(et *EntityType, path string) error {
	cur := et
	for _, seg := range strings.Split(path, ".") {
		f := cur.Field(seg)
		if f == nil || !f.IsRelation() {
			return &ConfigurationError{Entity: et.Name, Field: path, Reason: fmt.Sprintf("recursion path segment %q is not a relation of %s", seg, cur.Name)}
		}
		cur = f.TargetType
	}
	return nil
}

// Resolve returns the entity type registered under name.
func (r *Registry) Resolve(name string) (*EntityType, error) {
	et, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return et, nil
}

// Names returns registered entity names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered entity type, sorted by name.
func (r *Registry) All() []*EntityType {
	names := r.Names()
	out := make([]*EntityType, len(names))
	for i, n := range names {
		out[i] = r.entities[n]
	}
	return out
}

func (r *Registry) Sealed() bool { return r.sealed }

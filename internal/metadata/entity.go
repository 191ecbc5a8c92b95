package metadata

import (
	"net/url"
	"strings"
)

type Backend string

const (
	BackendRelational Backend = "relational"
	BackendSearch     Backend = "search"
)

// Definition is the declarative form of an entity type, as read from the
// entities file.
type Definition struct {
	Name             string                `yaml:"name"`
	Table            string                `yaml:"table"`
	Doc              string                `yaml:"doc"`
	IDField          string                `yaml:"id_field"`
	Backend          Backend               `yaml:"backend"`
	SoftDelete       bool                  `yaml:"soft_delete"`
	Fields           []Field               `yaml:"fields"`
	RecurseOn        []string              `yaml:"recurse_on"`
	RecurseOnSingle  []string              `yaml:"recurse_on_single"`
	AdditionalFields []AdditionalFieldSpec `yaml:"additional_fields"`
	FilterIf         map[string][]string   `yaml:"filter_if"`
	UniqueTogether   [][]string            `yaml:"unique_together"`
	ExampleID        string                `yaml:"example_id"`
	ExampleParams    map[string]string     `yaml:"example_params"`
}

// AdditionalFieldSpec names either an expression or a generator registered
// with the registry by name.
type AdditionalFieldSpec struct {
	Name       string `yaml:"name"`
	Help       string `yaml:"help"`
	Expression string `yaml:"expression"`
	Generator  string `yaml:"generator"`
}

// EntityType is the sealed, immutable description of an exposed entity.
type EntityType struct {
	Name             string
	Table            string
	Doc              string
	IDField          string
	Backend          Backend
	SoftDelete       bool
	Fields           []*Field
	RecurseOn        []string
	RecurseOnSingle  []string
	AdditionalFields []AdditionalField
	FilterGuards     map[string][]string
	UniqueGroups     [][]string
	ExampleID        string
	ExampleParams    url.Values

	byName map[string]*Field
}

// Field returns the field with the given name, or nil.
func (e *EntityType) Field(name string) *Field {
	return e.byName[name]
}

// HasField returns true if the entity has a field with the given name.
func (e *EntityType) HasField(name string) bool {
	return e.byName[name] != nil
}

// FieldNames returns all field names in declaration order.
func (e *EntityType) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// ID returns the identifier field.
func (e *EntityType) ID() *Field {
	return e.byName[e.IDField]
}

// RelationFields returns relation fields in declaration order.
func (e *EntityType) RelationFields() []*Field {
	var out []*Field
	for _, f := range e.Fields {
		if f.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

// IsSearch reports whether the entity is served from the search index.
func (e *EntityType) IsSearch() bool {
	return e.Backend == BackendSearch
}

// EmbeddedIn reports whether relation field name is embedded for the given
// query shape, considering only the first segment of declared paths.
func (e *EntityType) EmbeddedIn(name string, single bool) bool {
	if containsHead(e.RecurseOn, name) {
		return true
	}
	return single && containsHead(e.RecurseOnSingle, name)
}

// SubPaths returns the remainders of declared dotted paths starting with head,
// e.g. "owner.manager" yields "manager" for head "owner".
func SubPaths(paths []string, head string) []string {
	var out []string
	for _, p := range paths {
		first, rest, ok := strings.Cut(p, ".")
		if ok && first == head {
			out = append(out, rest)
		}
	}
	return out
}

func containsHead(paths []string, name string) bool {
	for _, p := range paths {
		first, _, _ := strings.Cut(p, ".")
		if first == name {
			return true
		}
	}
	return false
}

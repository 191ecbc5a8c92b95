package metadata

import (
	"fmt"

	"github.com/spf13/cast"
)

type Kind string

const (
	KindScalar         Kind = "scalar"
	KindChoice         Kind = "choice"
	KindRelationSingle Kind = "relation-single"
	KindRelationMany   Kind = "relation-many"
)

// Value types for scalar and choice fields. They drive filter coercion.
const (
	TypeString    = "string"
	TypeInt       = "int"
	TypeFloat     = "float"
	TypeBool      = "bool"
	TypeTimestamp = "timestamp"
	TypeDate      = "date"
)

var validTypes = map[string]bool{
	TypeString: true, TypeInt: true, TypeFloat: true,
	TypeBool: true, TypeTimestamp: true, TypeDate: true,
}

type Choice struct {
	Value any    `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// Through describes a join table backing a relation-many field.
type Through struct {
	Table     string `yaml:"table" json:"table"`
	SourceKey string `yaml:"source_key" json:"source_key"`
	TargetKey string `yaml:"target_key" json:"target_key"`
}

type Field struct {
	Name     string   `yaml:"name" json:"name"`
	Kind     Kind     `yaml:"kind" json:"kind"`
	Type     string   `yaml:"type" json:"type,omitempty"`
	Column   string   `yaml:"column" json:"column,omitempty"`
	Indexed  bool     `yaml:"indexed" json:"indexed,omitempty"`
	Nullable bool     `yaml:"nullable" json:"nullable,omitempty"`
	Help     string   `yaml:"help" json:"help,omitempty"`
	Choices  []Choice `yaml:"choices" json:"choices,omitempty"`

	// Relation fields.
	Target     string   `yaml:"target" json:"target,omitempty"`
	ForeignKey string   `yaml:"foreign_key" json:"foreign_key,omitempty"` // reverse FK column on the target table
	Through    *Through `yaml:"through" json:"through,omitempty"`

	// Filled at registration and seal time.
	TargetType   *EntityType `yaml:"-" json:"-"`
	UniqueGroups [][]string  `yaml:"-" json:"-"`

	labels map[string]string
	values map[string]any
}

// IsRelation returns true for relation-single and relation-many fields.
func (f *Field) IsRelation() bool {
	return f.Kind == KindRelationSingle || f.Kind == KindRelationMany
}

// IsStored returns true if the field maps to a column of its own table.
func (f *Field) IsStored() bool {
	return f.Kind != KindRelationMany
}

// Label returns the human-readable label for a stored choice value.
func (f *Field) Label(raw any) (string, bool) {
	key, err := cast.ToStringE(raw)
	if err != nil {
		return "", false
	}
	label, ok := f.labels[key]
	return label, ok
}

// ChoiceValue maps user input to a stored choice value. Input may be the
// stored value or its label.
func (f *Field) ChoiceValue(input string) (any, bool) {
	if v, ok := f.values[input]; ok {
		return v, true
	}
	for _, c := range f.Choices {
		if c.Label == input {
			return c.Value, true
		}
	}
	return nil, false
}

func (f *Field) prepare(entity string) error {
	if f.Name == "" {
		return &ConfigurationError{Entity: entity, Reason: "field without name"}
	}
	if f.Kind == "" {
		f.Kind = KindScalar
	}
	switch f.Kind {
	case KindScalar, KindChoice:
		if f.Type == "" {
			f.Type = TypeString
		}
		if !validTypes[f.Type] {
			return &ConfigurationError{Entity: entity, Field: f.Name, Reason: fmt.Sprintf("unknown type %q", f.Type)}
		}
		if f.Column == "" {
			f.Column = f.Name
		}
	case KindRelationSingle:
		if f.Column == "" {
			f.Column = f.Name + "_id"
		}
	case KindRelationMany:
		if f.Through == nil && f.ForeignKey == "" {
			return &ConfigurationError{Entity: entity, Field: f.Name, Reason: "relation-many needs through or foreign_key"}
		}
		if f.Through != nil && (f.Through.Table == "" || f.Through.SourceKey == "" || f.Through.TargetKey == "") {
			return &ConfigurationError{Entity: entity, Field: f.Name, Reason: "through needs table, source_key and target_key"}
		}
		if f.Indexed {
			return &ConfigurationError{Entity: entity, Field: f.Name, Reason: "relation-many fields cannot be indexed"}
		}
	default:
		return &ConfigurationError{Entity: entity, Field: f.Name, Reason: fmt.Sprintf("unknown kind %q", f.Kind)}
	}

	if f.IsRelation() && f.Target == "" {
		return &ConfigurationError{Entity: entity, Field: f.Name, Reason: "relation without target"}
	}

	if f.Kind == KindChoice {
		if len(f.Choices) == 0 {
			return &ConfigurationError{Entity: entity, Field: f.Name, Reason: "choice field without choices"}
		}
		f.labels = make(map[string]string, len(f.Choices))
		f.values = make(map[string]any, len(f.Choices))
		for _, c := range f.Choices {
			key, err := cast.ToStringE(c.Value)
			if err != nil {
				return &ConfigurationError{Entity: entity, Field: f.Name, Reason: fmt.Sprintf("choice value %v: %v", c.Value, err)}
			}
			if _, dup := f.labels[key]; dup {
				return &ConfigurationError{Entity: entity, Field: f.Name, Reason: fmt.Sprintf("duplicate choice value %q", key)}
			}
			f.labels[key] = c.Label
			f.values[key] = c.Value
		}
	}
	return nil
}

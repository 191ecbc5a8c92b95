package metadata

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersDef() Definition {
	return Definition{
		Name: "users",
		Fields: []Field{
			{Name: "id", Type: TypeInt},
			{Name: "name"},
			{Name: "manager", Kind: KindRelationSingle, Target: "users"},
		},
	}
}

func pollsDef() Definition {
	return Definition{
		Name: "polls",
		Fields: []Field{
			{Name: "id", Type: TypeInt},
			{Name: "title"},
			{Name: "status", Kind: KindChoice, Type: TypeInt, Indexed: true, Choices: []Choice{{Value: 1, Label: "open"}, {Value: 2, Label: "closed"}}},
			{Name: "owner", Kind: KindRelationSingle, Target: "users"},
		},
		RecurseOn: []string{"owner"},
	}
}

func TestRegister_Defaults(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(pollsDef()))
	require.NoError(t, reg.Register(usersDef()))
	require.NoError(t, reg.Seal())

	et, err := reg.Resolve("polls")
	require.NoError(t, err)
	assert.Equal(t, "polls", et.Table)
	assert.Equal(t, "id", et.IDField)
	assert.Equal(t, BackendRelational, et.Backend)
	assert.True(t, et.ID().Indexed, "identifier is implicitly indexed")
	assert.Equal(t, "owner_id", et.Field("owner").Column)
	assert.Equal(t, "title", et.Field("title").Column)

	users, _ := reg.Resolve("users")
	assert.Same(t, users, et.Field("owner").TargetType)
	assert.Same(t, users, users.Field("manager").TargetType, "self reference resolves")
}

func TestRegister_ImplicitIDField(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{Name: "tags", Fields: []Field{{Name: "label"}}}))
	et, err := reg.Resolve("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "label"}, et.FieldNames())
	assert.Equal(t, TypeInt, et.ID().Type)
}

func TestResolve_Unknown(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Seal())
	_, err := reg.Resolve("nope")
	assert.True(t, errors.Is(err, ErrUnknownEntity))
}

func TestRegister_AfterSeal(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Seal())
	assert.ErrorIs(t, reg.Register(usersDef()), ErrSealed)
}

func TestRegister_ConfigurationErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Definition)
		field  string
	}{
		{"recurse on unknown", func(d *Definition) { d.RecurseOn = []string{"missing"} }, "missing"},
		{"recurse on scalar", func(d *Definition) { d.RecurseOn = []string{"title"} }, "title"},
		{"recurse single on scalar", func(d *Definition) { d.RecurseOnSingle = []string{"status"} }, "status"},
		{"guard unknown field", func(d *Definition) { d.FilterIf = map[string][]string{"ghost": {"status"}} }, "ghost"},
		{"guard requires unknown", func(d *Definition) { d.FilterIf = map[string][]string{"title": {"ghost"}} }, "title"},
		{"unique group unknown", func(d *Definition) { d.UniqueTogether = [][]string{{"owner", "ghost"}} }, "ghost"},
		{"choice without choices", func(d *Definition) { d.Fields[2].Choices = nil }, "status"},
		{"bad expression", func(d *Definition) {
			d.AdditionalFields = []AdditionalFieldSpec{{Name: "score", Expression: "record.("}}
		}, "score"},
		{"unknown generator", func(d *Definition) {
			d.AdditionalFields = []AdditionalFieldSpec{{Name: "score", Generator: "nope"}}
		}, "score"},
		{"duplicate field", func(d *Definition) { d.Fields = append(d.Fields, Field{Name: "title"}) }, "title"},
		{"unknown kind", func(d *Definition) { d.Fields[1].Kind = "blob" }, "title"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := pollsDef()
			tc.mutate(&def)
			err := NewRegistry().Register(def)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "polls", cfgErr.Entity)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestSeal_UnresolvedTarget(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(pollsDef()))
	var cfgErr *ConfigurationError
	require.ErrorAs(t, reg.Seal(), &cfgErr)
	assert.Equal(t, "owner", cfgErr.Field)
	assert.False(t, reg.Sealed())
}

func TestSeal_DottedPaths(t *testing.T) {
	reg := NewRegistry()
	def := pollsDef()
	def.RecurseOn = []string{"owner.manager"}
	require.NoError(t, reg.Register(def))
	require.NoError(t, reg.Register(usersDef()))
	require.NoError(t, reg.Seal())

	reg = NewRegistry()
	def.RecurseOn = []string{"owner.name"}
	require.NoError(t, reg.Register(def))
	require.NoError(t, reg.Register(usersDef()))
	var cfgErr *ConfigurationError
	require.ErrorAs(t, reg.Seal(), &cfgErr)
	assert.Equal(t, "owner.name", cfgErr.Field)
}

func TestSeal_AcceptsSelfAndMutualRecursion(t *testing.T) {
	reg := NewRegistry()
	users := usersDef()
	users.RecurseOn = []string{"manager"}
	require.NoError(t, reg.Register(users))
	require.NoError(t, reg.Seal())

	reg = NewRegistry()
	users = usersDef()
	users.Fields = append(users.Fields, Field{Name: "favorite", Kind: KindRelationSingle, Target: "polls", Nullable: true})
	users.RecurseOn = []string{"favorite"}
	require.NoError(t, reg.Register(pollsDef()))
	require.NoError(t, reg.Register(users))
	require.NoError(t, reg.Seal())

	et, err := reg.Resolve("users")
	require.NoError(t, err)
	assert.Same(t, reg.entities["polls"], et.Field("favorite").TargetType)
}

func TestSeal_SingleOnlySelfReferenceIsAllowed(t *testing.T) {
	reg := NewRegistry()
	users := usersDef()
	users.RecurseOnSingle = []string{"manager"}
	require.NoError(t, reg.Register(users))
	require.NoError(t, reg.Seal())
}

func TestUniqueGroupsRecordedOnFields(t *testing.T) {
	reg := NewRegistry()
	def := pollsDef()
	def.UniqueTogether = [][]string{{"owner", "title"}}
	require.NoError(t, reg.Register(def))
	et, _ := reg.Resolve("polls")
	assert.Equal(t, [][]string{{"owner", "title"}}, et.Field("title").UniqueGroups)
	assert.Equal(t, [][]string{{"owner", "title"}}, et.Field("owner").UniqueGroups)
	assert.Empty(t, et.Field("status").UniqueGroups)
}

func TestChoiceLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(pollsDef()))
	status := reg.entities["polls"].Field("status")

	label, ok := status.Label(int64(1))
	assert.True(t, ok)
	assert.Equal(t, "open", label)

	_, ok = status.Label(int64(9))
	assert.False(t, ok)

	v, ok := status.ChoiceValue("closed")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = status.ChoiceValue("1")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestNamedGenerator(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterGenerator("shout", GeneratorFunc(func(r Record) (any, error) {
		return strings.ToUpper(r["title"].(string)), nil
	}))
	def := pollsDef()
	def.AdditionalFields = []AdditionalFieldSpec{{Name: "loud", Generator: "shout"}}
	require.NoError(t, reg.Register(def))

	et := reg.entities["polls"]
	require.Len(t, et.AdditionalFields, 1)
	out, err := et.AdditionalFields[0].Generator.Generate(Record{"title": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "HI", out)
}

func TestEmbeddedIn(t *testing.T) {
	et := &EntityType{RecurseOn: []string{"owner.manager"}, RecurseOnSingle: []string{"choices"}}
	assert.True(t, et.EmbeddedIn("owner", false))
	assert.False(t, et.EmbeddedIn("choices", false))
	assert.True(t, et.EmbeddedIn("choices", true))
	assert.Equal(t, []string{"manager"}, SubPaths(et.RecurseOn, "owner"))
	assert.Empty(t, SubPaths(et.RecurseOn, "choices"))
}

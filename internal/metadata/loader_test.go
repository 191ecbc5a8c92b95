package metadata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pollsYAML = `
entities:
  - name: users
    fields:
      - {name: id, type: int}
      - {name: username, indexed: true}
  - name: polls
    doc: Opinion polls.
    soft_delete: true
    fields:
      - {name: id, type: int}
      - {name: title}
      - name: status
        kind: choice
        type: int
        indexed: true
        choices:
          - {value: 1, label: open}
          - {value: 2, label: closed}
      - {name: owner, kind: relation-single, target: users, indexed: true}
      - name: voters
        kind: relation-many
        target: users
        through: {table: poll_voters, source_key: poll_id, target_key: user_id}
    recurse_on: [owner]
    recurse_on_single: [voters]
    filter_if:
      title: [owner]
    unique_together:
      - [owner, title]
    additional_fields:
      - name: title_length
        help: Number of characters in the title.
        expression: len(record.title)
    example_id: "42"
    example_params:
      status: open
`

func TestLoadAndBuild(t *testing.T) {
	defs, err := Load(strings.NewReader(pollsYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	reg := NewRegistry()
	require.NoError(t, Build(reg, defs))
	assert.Equal(t, []string{"polls", "users"}, reg.Names())

	polls, err := reg.Resolve("polls")
	require.NoError(t, err)
	assert.Equal(t, "Opinion polls.", polls.Doc)
	assert.True(t, polls.SoftDelete)
	assert.Equal(t, []string{"owner"}, polls.FilterGuards["title"])
	assert.Equal(t, "open", polls.ExampleParams.Get("status"))
	assert.Equal(t, "42", polls.ExampleID)

	voters := polls.Field("voters")
	require.NotNil(t, voters.Through)
	assert.Equal(t, "poll_voters", voters.Through.Table)

	require.Len(t, polls.AdditionalFields, 1)
	out, err := polls.AdditionalFields[0].Generator.Generate(Record{"title": "Lunch?"})
	require.NoError(t, err)
	assert.Equal(t, 6, out)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(strings.NewReader("entities:\n  - name: polls\n    recurse_ob: [owner]\n"))
	assert.Error(t, err)
}

func TestLoad_Empty(t *testing.T) {
	defs, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

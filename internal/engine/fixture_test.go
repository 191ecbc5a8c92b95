package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"readapi/internal/metadata"
	"readapi/internal/render"
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
      - {name: title, help: The question asked.}
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
      - {name: created, type: timestamp, nullable: true}
      - {name: score, type: float, indexed: true, nullable: true}
      - {name: closes, type: date, indexed: true, nullable: true}
    recurse_on: [owner]
    recurse_on_single: [voters]
    filter_if:
      created: [status]
    unique_together:
      - [owner, title]
    additional_fields:
      - name: title_length
        help: Number of characters in the title.
        expression: len(record.title)
    example_params:
      status: open
`

var testLimits = Limits{DefaultLimit: 100, MaxLimit: 6000, MaxOffset: 10000}

func testRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	defs, err := metadata.Load(strings.NewReader(pollsYAML))
	require.NoError(t, err)
	reg := metadata.NewRegistry()
	require.NoError(t, metadata.Build(reg, defs))
	return reg
}

func mustResolve(t *testing.T, reg *metadata.Registry, name string) *metadata.EntityType {
	t.Helper()
	et, err := reg.Resolve(name)
	require.NoError(t, err)
	return et
}

func testValidator() *Validator {
	return NewValidator(testLimits, render.Default(0).Formats())
}

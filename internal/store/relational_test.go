package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readapi/internal/metadata"
	"readapi/internal/query"
)

const fixtureYAML = `
entities:
  - name: users
    fields:
      - {name: id, type: int}
      - {name: username, indexed: true}
      - {name: manager, kind: relation-single, target: users, nullable: true}
  - name: polls
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
      - {name: options, kind: relation-many, target: options, foreign_key: poll_id}
    recurse_on: [owner]
    recurse_on_single: [voters]
  - name: options
    fields:
      - {name: id, type: int}
      - {name: poll, kind: relation-single, target: polls, indexed: true}
      - {name: text}
`

var fixtureRows = []string{
	`INSERT INTO "users" ("id", "username", "manager_id") VALUES (1, 'alice', NULL), (2, 'bob', 1), (3, 'carol', NULL)`,
	`INSERT INTO "polls" ("id", "title", "status", "owner_id", "deleted_at") VALUES
		(1, 'Lunch?', 1, 1, NULL),
		(2, 'Dinner', 2, 2, NULL),
		(3, 'Deleted', 1, 1, '2024-01-01 00:00:00'),
		(4, 'Breakfast', 1, 3, NULL)`,
	`INSERT INTO "poll_voters" ("poll_id", "user_id") VALUES (1, 3), (1, 2), (2, 1), (3, 1)`,
	`INSERT INTO "options" ("id", "poll_id", "text") VALUES (1, 1, 'Pizza'), (2, 1, 'Sushi'), (3, 2, 'Soup')`,
}

func openSQLite(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { db.Close() })
	return Wrap(db, "sqlite")
}

func fixtureRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	defs, err := metadata.Load(strings.NewReader(fixtureYAML))
	require.NoError(t, err)
	reg := metadata.NewRegistry()
	require.NoError(t, metadata.Build(reg, defs))
	return reg
}

func seeded(t *testing.T) (*Relational, *metadata.Registry) {
	t.Helper()
	s := openSQLite(t)
	reg := fixtureRegistry(t)
	ctx := context.Background()

	require.NoError(t, NewMigrator(s, zerolog.Nop()).Migrate(ctx, reg.All()))
	for _, stmt := range fixtureRows {
		_, err := s.DB.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return NewRelational(s), reg
}

func entity(t *testing.T, reg *metadata.Registry, name string) *metadata.EntityType {
	t.Helper()
	et, err := reg.Resolve(name)
	require.NoError(t, err)
	return et
}

func collect(t *testing.T, r *Relational, et *metadata.EntityType, req *query.FilterRequest) []*query.Row {
	t.Helper()
	var out []*query.Row
	for row, err := range r.FetchMany(context.Background(), et, req) {
		require.NoError(t, err)
		out = append(out, row)
	}
	return out
}

func ids(rows []*query.Row) []int64 {
	out := make([]int64, len(rows))
	for i, row := range rows {
		out[i] = row.Values["id"].(int64)
	}
	return out
}

func TestFetchMany_SkipsSoftDeletedAndLoadsRelations(t *testing.T) {
	r, reg := seeded(t)
	polls := entity(t, reg, "polls")

	rows := collect(t, r, polls, &query.FilterRequest{Limit: 10})
	require.Equal(t, []int64{1, 2, 4}, ids(rows))

	assert.Equal(t, "Lunch?", rows[0].Values["title"])
	assert.Equal(t, int64(1), rows[0].Values["owner"])
	assert.Equal(t, []any{int64(2), int64(3)}, rows[0].Values["voters"])
	assert.Equal(t, []any{int64(1), int64(2)}, rows[0].Values["options"])
	assert.Equal(t, []any{}, rows[2].Values["voters"])
	assert.Empty(t, rows[0].Embedded)
}

func TestFetchMany_Filters(t *testing.T) {
	r, reg := seeded(t)
	polls := entity(t, reg, "polls")

	tests := []struct {
		name   string
		field  string
		op     query.Op
		values []any
		want   []int64
	}{
		{"exact", "status", query.OpExact, []any{int64(1)}, []int64{1, 4}},
		{"exact null", "title", query.OpExact, []any{nil}, []int64{}},
		{"in", "owner", query.OpIn, []any{int64(1), int64(3)}, []int64{1, 4}},
		{"in with null", "owner", query.OpIn, []any{int64(2), nil}, []int64{2}},
		{"contains", "title", query.OpContains, []any{"unch"}, []int64{1}},
		{"contains is case sensitive", "title", query.OpContains, []any{"lunch"}, []int64{}},
		{"startswith", "title", query.OpStartsWith, []any{"D"}, []int64{2}},
		{"gt", "id", query.OpGT, []any{int64(1)}, []int64{2, 4}},
		{"lte", "id", query.OpLTE, []any{int64(2)}, []int64{1, 2}},
		{"range", "id", query.OpRange, []any{int64(2), int64(4)}, []int64{2, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &query.FilterRequest{
				Limit:   10,
				Filters: []query.Filter{{Field: polls.Field(tt.field), Op: tt.op, Values: tt.values}},
			}
			assert.Equal(t, tt.want, ids(collect(t, r, polls, req)))
		})
	}
}

func TestFetchMany_SortAndPagination(t *testing.T) {
	r, reg := seeded(t)
	polls := entity(t, reg, "polls")

	req := &query.FilterRequest{Limit: 10, Sort: &query.Sort{Field: polls.Field("status"), Desc: true}}
	assert.Equal(t, []int64{2, 1, 4}, ids(collect(t, r, polls, req)))

	req = &query.FilterRequest{Limit: 1, Offset: 1}
	assert.Equal(t, []int64{2}, ids(collect(t, r, polls, req)))
}

func TestCount_IgnoresPagination(t *testing.T) {
	r, reg := seeded(t)
	polls := entity(t, reg, "polls")

	n, err := r.Count(context.Background(), polls, &query.FilterRequest{
		Limit:   1,
		Offset:  1,
		Filters: []query.Filter{{Field: polls.Field("status"), Op: query.OpExact, Values: []any{int64(1)}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFetchMany_EmbedsAcrossChunks(t *testing.T) {
	r, reg := seeded(t)
	r.WithChunkSize(1)
	polls := entity(t, reg, "polls")
	users := entity(t, reg, "users")

	embeds := []query.Embed{{
		Field:    polls.Field("owner"),
		Children: []query.Embed{{Field: users.Field("manager")}},
	}}
	rows := collect(t, r, polls, &query.FilterRequest{Limit: 10, Embeds: embeds})
	require.Len(t, rows, 3)

	owner := rows[1].Embedded["owner"]
	require.Len(t, owner, 1)
	assert.Equal(t, "bob", owner[0].Values["username"])
	manager := owner[0].Embedded["manager"]
	require.Len(t, manager, 1)
	assert.Equal(t, "alice", manager[0].Values["username"])

	// carol has no manager
	assert.Empty(t, rows[2].Embedded["owner"][0].Embedded["manager"])
}

func TestFetchMany_EarlyStopReleasesCursor(t *testing.T) {
	r, reg := seeded(t)
	r.WithChunkSize(1)
	polls := entity(t, reg, "polls")

	seen := 0
	for row, err := range r.FetchMany(context.Background(), polls, &query.FilterRequest{Limit: 10}) {
		require.NoError(t, err)
		require.NotNil(t, row)
		seen++
		break
	}
	assert.Equal(t, 1, seen)

	n, err := r.Count(context.Background(), polls, &query.FilterRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestFetchMany_CanceledContext(t *testing.T) {
	r, reg := seeded(t)
	polls := entity(t, reg, "polls")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range r.FetchMany(ctx, polls, &query.FilterRequest{Limit: 10}) {
		if err != nil {
			gotErr = err
			break
		}
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestFetchOne(t *testing.T) {
	r, reg := seeded(t)
	polls := entity(t, reg, "polls")
	ctx := context.Background()

	row, err := r.FetchOne(ctx, polls, "1", []query.Embed{{Field: polls.Field("voters")}})
	require.NoError(t, err)
	assert.Equal(t, "Lunch?", row.Values["title"])
	voters := row.Embedded["voters"]
	require.Len(t, voters, 2)
	assert.Equal(t, "bob", voters[0].Values["username"])
	assert.Equal(t, "carol", voters[1].Values["username"])

	for _, id := range []string{"3", "99", "abc"} {
		_, err := r.FetchOne(ctx, polls, id, nil)
		assert.ErrorIs(t, err, query.ErrNotFound, id)
	}
}

func TestFetchByIDs_PreservesOrder(t *testing.T) {
	r, reg := seeded(t)
	polls := entity(t, reg, "polls")

	rows, err := r.FetchByIDs(context.Background(), polls, []any{int64(4), int64(99), int64(1), int64(3)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1}, ids(rows))
	assert.Equal(t, []any{int64(2), int64(3)}, rows[1].Values["voters"])
}

func TestChunks(t *testing.T) {
	in := []any{1, 2, 3, 4, 5}
	assert.Equal(t, [][]any{{1, 2}, {3, 4}, {5}}, chunks(in, 2))
	assert.Nil(t, chunks(nil, 2))
	assert.Equal(t, []any{1, "2"}, dedupe([]any{1, nil, "1", "2", 2}))
}

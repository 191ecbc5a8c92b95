package search

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
	"readapi/internal/store"
)

func memoryDB(t *testing.T, prefix string) *sql.DB {
	t.Helper()
	name := prefix + "_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	index    *Index
	articles *metadata.EntityType
	rel      *sql.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	reg := metadata.NewRegistry()
	require.NoError(t, metadata.Build(reg, []metadata.Definition{{
		Name:    "articles",
		Backend: metadata.BackendSearch,
		Fields: []metadata.Field{
			{Name: "id", Type: metadata.TypeInt},
			{Name: "title", Indexed: true},
			{Name: "body"},
			{Name: "category", Indexed: true, Nullable: true},
			{Name: "published", Type: metadata.TypeBool, Indexed: true},
		},
	}}))
	articles, err := reg.Resolve("articles")
	require.NoError(t, err)

	rel := memoryDB(t, "rel")
	s := store.Wrap(rel, "sqlite")
	require.NoError(t, store.NewMigrator(s, zerolog.Nop()).Migrate(ctx, reg.All()))
	_, err = rel.ExecContext(ctx, `INSERT INTO "articles" ("id", "title", "body", "category", "published") VALUES
		(1, 'Learning Go', 'generics and iterators', 'news', 1),
		(2, 'Rust notes', 'ownership', 'blog', 0),
		(3, 'Go concurrency', 'channels', NULL, 1),
		(4, 'Databases', 'sqlite fts5 with go', 'blog', 1)`)
	require.NoError(t, err)

	idx := New(memoryDB(t, "idx"), store.NewRelational(s), zerolog.Nop())
	n, err := idx.Reindex(ctx, articles)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	return &fixture{index: idx, articles: articles, rel: rel}
}

func (f *fixture) ids(t *testing.T, req *query.FilterRequest) []int64 {
	t.Helper()
	out := []int64{}
	for row, err := range f.index.FetchMany(context.Background(), f.articles, req) {
		require.NoError(t, err)
		out = append(out, row.Values["id"].(int64))
	}
	return out
}

func (f *fixture) filter(name string, op query.Op, values ...any) query.Filter {
	return query.Filter{Field: f.articles.Field(name), Op: op, Values: values}
}

func TestIndex_FreeText(t *testing.T) {
	f := newFixture(t)

	got := f.ids(t, &query.FilterRequest{Limit: 10, Text: "go"})
	assert.ElementsMatch(t, []int64{1, 3, 4}, got)

	n, err := f.index.Count(context.Background(), f.articles, &query.FilterRequest{Text: "GO"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.Equal(t, []int64{4}, f.ids(t, &query.FilterRequest{Limit: 10, Text: "go fts5"}))
}

func TestIndex_Filters(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  *query.FilterRequest
		want []int64
	}{
		{"exact", &query.FilterRequest{Filters: []query.Filter{f.filter("category", query.OpExact, "blog")}}, []int64{2, 4}},
		{"in with null", &query.FilterRequest{Filters: []query.Filter{f.filter("category", query.OpIn, "news", nil)}}, []int64{1, 3}},
		{"null", &query.FilterRequest{Filters: []query.Filter{f.filter("category", query.OpExact, nil)}}, []int64{3}},
		{"bool", &query.FilterRequest{Filters: []query.Filter{f.filter("published", query.OpExact, false)}}, []int64{2}},
		{"filter and text", &query.FilterRequest{Text: "go", Filters: []query.Filter{f.filter("category", query.OpExact, "blog")}}, []int64{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Limit = 10
			assert.ElementsMatch(t, tt.want, f.ids(t, tt.req))
		})
	}
}

func TestIndex_SortAndPagination(t *testing.T) {
	f := newFixture(t)

	sorted := &query.FilterRequest{Limit: 10, Sort: &query.Sort{Field: f.articles.Field("title")}}
	assert.Equal(t, []int64{4, 3, 1, 2}, f.ids(t, sorted))

	assert.Equal(t, []int64{2, 3}, f.ids(t, &query.FilterRequest{Limit: 2, Offset: 1}))
}

func TestIndex_SkipsStaleEntries(t *testing.T) {
	f := newFixture(t)
	_, err := f.rel.Exec(`DELETE FROM "articles" WHERE "id" = 1`)
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 3, 4}, f.ids(t, &query.FilterRequest{Limit: 10}))

	n, err := f.index.Count(context.Background(), f.articles, &query.FilterRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "count comes from the index until the next reindex")
}

func TestIndex_FetchOneUsesStore(t *testing.T) {
	f := newFixture(t)

	row, err := f.index.FetchOne(context.Background(), f.articles, "2", nil)
	require.NoError(t, err)
	assert.Equal(t, "Rust notes", row.Values["title"])

	_, err = f.index.FetchOne(context.Background(), f.articles, "9", nil)
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestWhereClause(t *testing.T) {
	f := newFixture(t)

	where, args, matched := whereClause(f.articles, &query.FilterRequest{
		Text:    `say "hi"`,
		Filters: []query.Filter{f.filter("category", query.OpIn, "a", "b")},
	})
	assert.True(t, matched)
	assert.Equal(t, ` WHERE "articles_fts" MATCH ?`, where)
	assert.Equal(t, []any{`(category : "a" OR category : "b") AND ("say" """hi""")`}, args)
}

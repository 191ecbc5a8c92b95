package engine

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"readapi/internal/query"
)

func TestFilterability(t *testing.T) {
	polls := mustResolve(t, testRegistry(t), "polls")

	got := map[string]Filterable{}
	var order []string
	for _, fl := range Filterability(polls) {
		got[fl.Field.Name] = fl
		order = append(order, fl.Field.Name)
	}
	assert.Equal(t, []string{"id", "title", "status", "owner", "created", "score", "closes"}, order)

	assert.True(t, got["id"].Always)
	assert.Equal(t, "Filterable.", got["status"].Text())
	assert.Equal(t, [][]string{{"owner"}}, got["title"].Requires)
	assert.Equal(t, "Filterable when also filtering on owner.", got["title"].Text())
	assert.Equal(t, "Filterable when also filtering on status.", got["created"].Text())

	assert.Equal(t, orderedOps, got["id"].Ops)
	assert.Equal(t, exactOps, got["title"].Ops, "conditional fields only support exact matches")
	assert.Equal(t, exactOps, got["status"].Ops)
	assert.Equal(t, exactOps, got["owner"].Ops)
	assert.Equal(t, orderedOps, got["score"].Ops)

	_, ok := got["voters"]
	assert.False(t, ok, "relation-many fields are never filterable")
}

func TestFilterableText_Alternatives(t *testing.T) {
	fl := Filterable{Requires: [][]string{{"a", "b"}, {"c"}}}
	assert.Equal(t, "Filterable when also filtering on a and b, or on c.", fl.Text())
	assert.Equal(t, "a, b and c", joinAnd([]string{"a", "b", "c"}))
}

func TestValidate_Defaults(t *testing.T) {
	polls := mustResolve(t, testRegistry(t), "polls")

	req, err := testValidator().Validate(polls, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 100, req.Limit)
	assert.Equal(t, 0, req.Offset)
	assert.Equal(t, "json", req.Format)
	assert.Empty(t, req.Filters)
	require.Len(t, req.Embeds, 1)
	assert.Equal(t, "owner", req.Embeds[0].Field.Name)
}

func TestValidate_Filters(t *testing.T) {
	polls := mustResolve(t, testRegistry(t), "polls")

	tests := []struct {
		name   string
		query  string
		field  string
		op     query.Op
		values []any
	}{
		{"choice label", "status=open", "status", query.OpExact, []any{1}},
		{"choice value", "status=2", "status", query.OpExact, []any{2}},
		{"repeated param is in", "status=open&status=closed", "status", query.OpIn, []any{1, 2}},
		{"in operator", "owner__in=1|2", "owner", query.OpIn, []any{int64(1), int64(2)}},
		{"range", "score__range=1|2.5", "score", query.OpRange, []any{1.0, 2.5}},
		{"nullable", "score=null", "score", query.OpExact, []any{nil}},
		{"date", "closes__gte=2024-03-01", "closes", query.OpGTE, []any{"2024-03-01"}},
		{"string", "owner=1&title=Lunch%3F", "title", query.OpExact, []any{"Lunch?"}},
		{"timestamp", "status=open&created=2024-03-01T10:00:00%2B02:00", "created", query.OpExact,
			[]any{time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			req, err := testValidator().Validate(polls, raw)
			require.NoError(t, err)

			var found *query.Filter
			for i := range req.Filters {
				if req.Filters[i].Field.Name == tt.field {
					found = &req.Filters[i]
				}
			}
			require.NotNil(t, found)
			assert.Equal(t, tt.op, found.Op)
			assert.Equal(t, tt.values, found.Values)
		})
	}
}

func TestValidate_Rejections(t *testing.T) {
	polls := mustResolve(t, testRegistry(t), "polls")

	notFilterable := []string{
		"title=Lunch",
		"voters=1",
		"created=2024-03-01",
		"nope=1",
		"title__contains=x",
	}
	for _, q := range notFilterable {
		t.Run(q, func(t *testing.T) {
			raw, _ := url.ParseQuery(q)
			_, err := testValidator().Validate(polls, raw)
			var fe *FilterError
			assert.ErrorAs(t, err, &fe)
		})
	}

	invalid := []string{
		"status=bogus",
		"id=null",
		"id=abc",
		"id__contains=1",
		"owner=1&title__contains=x",
		"score__range=1",
		"score__gt=null",
		"format=pdf",
		"format=jsonp&callback=alert(1)",
		"limit=0",
		"limit=6001",
		"offset=-1",
		"offset=10001",
		"sort=title",
		"sort=voters",
		"fields=nope",
		"q=lunch",
	}
	for _, q := range invalid {
		t.Run(q, func(t *testing.T) {
			raw, _ := url.ParseQuery(q)
			_, err := testValidator().Validate(polls, raw)
			var pe *ParamError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestValidate_Reserved(t *testing.T) {
	polls := mustResolve(t, testRegistry(t), "polls")
	v := testValidator()

	req, err := v.Validate(polls, url.Values{"format": {"jsonp"}})
	require.NoError(t, err)
	assert.Equal(t, "callback", req.Callback)

	req, err = v.Validate(polls, url.Values{"format": {"csv:attachment"}, "limit": {"5"}, "offset": {"10"}})
	require.NoError(t, err)
	assert.Equal(t, "csv:attachment", req.Format)
	assert.Equal(t, 5, req.Limit)
	assert.Equal(t, 10, req.Offset)

	req, err = v.Validate(polls, url.Values{"sort": {"-score"}})
	require.NoError(t, err)
	assert.Equal(t, "score", req.Sort.Field.Name)
	assert.True(t, req.Sort.Desc)

	req, err = v.Validate(polls, url.Values{"order_by": {"owner"}})
	require.NoError(t, err)
	assert.False(t, req.Sort.Desc)

	req, err = v.Validate(polls, url.Values{"fields": {"title, owner.username,title_length"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "owner.username", "title_length"}, req.Fields)
}

func TestSplitOp(t *testing.T) {
	name, op := splitOp("owner__in")
	assert.Equal(t, "owner", name)
	assert.Equal(t, query.OpIn, op)

	name, op = splitOp("title__foo")
	assert.Equal(t, "title__foo", name)
	assert.Equal(t, query.Op(""), op)

	name, op = splitOp("__in")
	assert.Equal(t, "__in", name)
	assert.Equal(t, query.Op(""), op)
}

// Every request is accepted exactly when each filter's own rule holds given
// the other parameters present.
func TestValidate_FilterabilityProperty(t *testing.T) {
	polls := mustResolve(t, testRegistry(t), "polls")
	v := testValidator()

	literals := map[string]string{
		"id":      "1",
		"title":   "Lunch",
		"status":  "open",
		"owner":   "1",
		"created": "2024-03-01T00:00:00Z",
		"score":   "1.5",
		"voters":  "1",
		"nope":    "x",
	}
	names := []string{"id", "title", "status", "owner", "created", "score", "voters", "nope"}
	rules := map[string]func(map[string]bool) bool{
		"id":      func(map[string]bool) bool { return true },
		"status":  func(map[string]bool) bool { return true },
		"owner":   func(map[string]bool) bool { return true },
		"score":   func(map[string]bool) bool { return true },
		"title":   func(p map[string]bool) bool { return p["owner"] },
		"created": func(p map[string]bool) bool { return p["status"] },
		"voters":  func(map[string]bool) bool { return false },
		"nope":    func(map[string]bool) bool { return false },
	}

	rapid.Check(t, func(t *rapid.T) {
		chosen := rapid.SliceOfDistinct(rapid.SampledFrom(names), func(s string) string { return s }).Draw(t, "params")
		raw := url.Values{}
		present := map[string]bool{}
		for _, name := range chosen {
			raw.Set(name, literals[name])
			present[name] = true
		}

		want := true
		for _, name := range chosen {
			if !rules[name](present) {
				want = false
			}
		}

		req, err := v.Validate(polls, raw)
		if want {
			if err != nil {
				t.Fatalf("params %v rejected: %v", chosen, err)
			}
			if len(req.Filters) != len(chosen) {
				t.Fatalf("params %v produced %d filters", chosen, len(req.Filters))
			}
		} else {
			var fe *FilterError
			if !errors.As(err, &fe) {
				t.Fatalf("params %v: want filter error, got %v", chosen, err)
			}
		}
	})
}

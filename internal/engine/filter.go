package engine

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"readapi/internal/metadata"
	"readapi/internal/query"
	"readapi/internal/render"
)

// Reserved parameters are parsed separately and never checked for
// filterability.
const (
	ParamFormat   = "format"
	ParamCallback = "callback"
	ParamOffset   = "offset"
	ParamLimit    = "limit"
	ParamSort     = "sort"
	ParamOrderBy  = "order_by"
	ParamFields   = "fields"
	ParamText     = "q"
)

var reserved = map[string]bool{
	ParamFormat: true, ParamCallback: true, ParamOffset: true, ParamLimit: true,
	ParamSort: true, ParamOrderBy: true, ParamFields: true, ParamText: true,
}

const (
	nullLiteral     = "null"
	valueSeparator  = "|"
	opSeparator     = "__"
	defaultCallback = "callback"
)

var (
	exactOps    = []query.Op{query.OpExact, query.OpIn}
	orderedOps  = []query.Op{query.OpExact, query.OpIn, query.OpGT, query.OpGTE, query.OpLT, query.OpLTE, query.OpRange}
	textOps     = query.Ops
	knownOpsSet = func() map[string]query.Op {
		m := make(map[string]query.Op, len(query.Ops))
		for _, op := range query.Ops {
			m[string(op)] = op
		}
		return m
	}()
)

// Filterable describes under which conditions a field may appear as a
// filter parameter. A field is unconditionally filterable when Always is
// set; otherwise it is filterable when every field of any one Requires
// entry is also present.
type Filterable struct {
	Field    *metadata.Field
	Always   bool
	Requires [][]string
	Ops      []query.Op
}

// Text describes the rule for humans.
func (f Filterable) Text() string {
	if f.Always {
		return "Filterable."
	}
	alts := make([]string, len(f.Requires))
	for i, req := range f.Requires {
		alts[i] = joinAnd(req)
	}
	return "Filterable when also filtering on " + strings.Join(alts, ", or on ") + "."
}

func (f Filterable) allows(present map[string]bool) bool {
	if f.Always {
		return true
	}
	for _, req := range f.Requires {
		ok := true
		for _, name := range req {
			if !present[name] {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (f Filterable) supports(op query.Op) bool {
	for _, o := range f.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Filterability lists the filterable fields of et in declaration order. It is
// the single source consulted by both request validation and documentation.
func Filterability(et *metadata.EntityType) []Filterable {
	var out []Filterable
	for _, f := range et.Fields {
		if f.Kind == metadata.KindRelationMany {
			continue
		}
		fl := Filterable{Field: f}

		if f.Indexed {
			fl.Always = true
		}
		for _, group := range f.UniqueGroups {
			prefix := groupPrefix(group, f.Name)
			if len(prefix) == 0 {
				fl.Always = true
				continue
			}
			fl.Requires = addRequirement(fl.Requires, prefix)
		}
		if guard, ok := et.FilterGuards[f.Name]; ok {
			fl.Requires = addRequirement(fl.Requires, guard)
		}
		if !fl.Always && len(fl.Requires) == 0 {
			continue
		}
		if fl.Always {
			fl.Requires = nil
		}
		fl.Ops = operatorsFor(et, f, fl.Always)
		out = append(out, fl)
	}
	return out
}

func addRequirement(reqs [][]string, names []string) [][]string {
	for _, r := range reqs {
		if slices.Equal(r, names) {
			return reqs
		}
	}
	return append(reqs, names)
}

// groupPrefix returns the members of group declared before name.
func groupPrefix(group []string, name string) []string {
	for i, member := range group {
		if member == name {
			return group[:i]
		}
	}
	return nil
}

func operatorsFor(et *metadata.EntityType, f *metadata.Field, always bool) []query.Op {
	if !always || et.IsSearch() || f.Kind != metadata.KindScalar {
		return exactOps
	}
	switch f.Type {
	case metadata.TypeString:
		return textOps
	case metadata.TypeBool:
		return exactOps
	default:
		return orderedOps
	}
}

func filterableByName(et *metadata.EntityType) map[string]Filterable {
	list := Filterability(et)
	m := make(map[string]Filterable, len(list))
	for _, f := range list {
		m[f.Field.Name] = f
	}
	return m
}

type Limits struct {
	DefaultLimit int
	MaxLimit     int
	MaxOffset    int
}

// Validator turns raw query parameters into an accepted FilterRequest.
type Validator struct {
	limits  Limits
	formats map[string]bool
}

func NewValidator(limits Limits, formats []string) *Validator {
	v := &Validator{limits: limits, formats: make(map[string]bool, len(formats))}
	for _, f := range formats {
		v.formats[f] = true
	}
	return v
}

// Validate accepts a parameter p when p names an indexed field, when p is in
// a uniqueness group whose preceding members are all present, or when p has
// a guard whose required fields are all present. Any other filter parameter
// fails the whole request before the store is touched.
func (v *Validator) Validate(et *metadata.EntityType, raw url.Values) (*query.FilterRequest, error) {
	req := &query.FilterRequest{
		Limit:  v.limits.DefaultLimit,
		Format: "json",
	}
	if err := v.parseReserved(et, raw, req); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	present := make(map[string]bool, len(raw))
	for key := range raw {
		if reserved[key] {
			continue
		}
		keys = append(keys, key)
		name, _ := splitOp(key)
		present[name] = true
	}
	sort.Strings(keys)

	filterable := filterableByName(et)
	for _, key := range keys {
		name, op := splitOp(key)
		fl, ok := filterable[name]
		if !ok || !fl.allows(present) {
			return nil, &FilterError{Field: name, Reason: "not filterable"}
		}
		values := raw[key]
		if op == "" {
			op = query.OpExact
			if len(values) > 1 {
				op = query.OpIn
			}
		}
		if !fl.supports(op) {
			return nil, &ParamError{Param: key, Reason: fmt.Sprintf("operator %s not supported for %s", op, name)}
		}
		filter, err := buildFilter(fl.Field, op, key, values)
		if err != nil {
			return nil, err
		}
		req.Filters = append(req.Filters, filter)
	}

	req.Embeds = Plan(et, false)
	return req, nil
}

// splitOp splits "field__op" into its parts. A suffix that is not a known
// operator is part of the field name.
func splitOp(key string) (string, query.Op) {
	i := strings.LastIndex(key, opSeparator)
	if i <= 0 {
		return key, ""
	}
	if op, ok := knownOpsSet[key[i+len(opSeparator):]]; ok {
		return key[:i], op
	}
	return key, ""
}

func (v *Validator) parseReserved(et *metadata.EntityType, raw url.Values, req *query.FilterRequest) error {
	if f := raw.Get(ParamFormat); f != "" {
		if !v.formats[f] {
			return &ParamError{Param: ParamFormat, Reason: fmt.Sprintf("unsupported format %q", f)}
		}
		req.Format = f
	}

	if cb, ok := raw[ParamCallback]; ok {
		if len(cb) == 0 || !render.ValidCallback(cb[0]) {
			return &ParamError{Param: ParamCallback, Reason: "callback must be a JavaScript identifier"}
		}
		req.Callback = cb[0]
	} else if req.Format == "jsonp" {
		req.Callback = defaultCallback
	}

	if s := raw.Get(ParamOffset); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return &ParamError{Param: ParamOffset, Reason: "offset must be a non-negative integer"}
		}
		if !et.IsSearch() && v.limits.MaxOffset > 0 && n > v.limits.MaxOffset {
			return &ParamError{Param: ParamOffset, Reason: fmt.Sprintf("offset must not exceed %d", v.limits.MaxOffset)}
		}
		req.Offset = n
	}

	if s := raw.Get(ParamLimit); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return &ParamError{Param: ParamLimit, Reason: "limit must be a positive integer"}
		}
		if n > v.limits.MaxLimit {
			return &ParamError{Param: ParamLimit, Reason: fmt.Sprintf("limit must not exceed %d", v.limits.MaxLimit)}
		}
		req.Limit = n
	}

	sortParam := ParamSort
	s := raw.Get(ParamSort)
	if s == "" {
		sortParam = ParamOrderBy
		s = raw.Get(ParamOrderBy)
	}
	if s != "" {
		desc := strings.HasPrefix(s, "-")
		name := strings.TrimPrefix(s, "-")
		f := et.Field(name)
		if f == nil || !f.Indexed || f.Kind == metadata.KindRelationMany {
			return &ParamError{Param: sortParam, Reason: fmt.Sprintf("cannot sort on %q: only indexed fields are sortable", name)}
		}
		req.Sort = &query.Sort{Field: f, Desc: desc}
	}

	if s := raw.Get(ParamFields); s != "" {
		for _, path := range strings.Split(s, ",") {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			head, _, _ := strings.Cut(path, ".")
			if !et.HasField(head) && !hasAdditional(et, head) {
				return &ParamError{Param: ParamFields, Reason: fmt.Sprintf("unknown field %q", head)}
			}
			req.Fields = append(req.Fields, path)
		}
	}

	if q, ok := raw[ParamText]; ok {
		if !et.IsSearch() {
			return &ParamError{Param: ParamText, Reason: "full-text search is not available for " + et.Name}
		}
		req.Text = strings.TrimSpace(strings.Join(q, " "))
	}
	return nil
}

func hasAdditional(et *metadata.EntityType, name string) bool {
	for _, af := range et.AdditionalFields {
		if af.Name == name {
			return true
		}
	}
	return false
}

func buildFilter(f *metadata.Field, op query.Op, key string, raw []string) (query.Filter, error) {
	var literals []string
	switch op {
	case query.OpIn, query.OpRange:
		for _, r := range raw {
			literals = append(literals, strings.Split(r, valueSeparator)...)
		}
	default:
		if len(raw) != 1 {
			return query.Filter{}, &ParamError{Param: key, Reason: fmt.Sprintf("operator %s takes a single value", op)}
		}
		literals = raw
	}
	if op == query.OpRange && len(literals) != 2 {
		return query.Filter{}, &ParamError{Param: key, Reason: "range takes exactly two values"}
	}
	if len(literals) == 0 {
		return query.Filter{}, &ParamError{Param: key, Reason: "missing value"}
	}

	values := make([]any, 0, len(literals))
	for _, lit := range literals {
		val, err := coerce(f, op, lit)
		if err != nil {
			return query.Filter{}, &ParamError{Param: key, Reason: err.Error()}
		}
		values = append(values, val)
	}
	return query.Filter{Field: f, Op: op, Values: values}, nil
}

// coerce converts a literal to the field's value type.
func coerce(f *metadata.Field, op query.Op, lit string) (any, error) {
	if lit == nullLiteral {
		if op != query.OpExact && op != query.OpIn {
			return nil, fmt.Errorf("null is only valid for exact and in")
		}
		if !f.Nullable {
			return nil, fmt.Errorf("%s is not nullable", f.Name)
		}
		return nil, nil
	}

	typ := f.Type
	switch f.Kind {
	case metadata.KindChoice:
		v, ok := f.ChoiceValue(lit)
		if !ok {
			return nil, fmt.Errorf("%q is not a valid choice for %s", lit, f.Name)
		}
		return v, nil
	case metadata.KindRelationSingle:
		typ = f.TargetType.ID().Type
	}
	return coerceType(typ, lit)
}

func coerceType(typ, lit string) (any, error) {
	switch typ {
	case metadata.TypeInt:
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", lit)
		}
		return n, nil
	case metadata.TypeFloat:
		n, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", lit)
		}
		return n, nil
	case metadata.TypeBool:
		switch lit {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not true or false", lit)
	case metadata.TypeTimestamp:
		t, err := cast.ToTimeE(lit)
		if err != nil {
			return nil, fmt.Errorf("%q is not a timestamp", lit)
		}
		return t.UTC(), nil
	case metadata.TypeDate:
		t, err := cast.ToTimeE(lit)
		if err != nil {
			return nil, fmt.Errorf("%q is not a date", lit)
		}
		return t.Format(time.DateOnly), nil
	default:
		return lit, nil
	}
}

func joinAnd(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

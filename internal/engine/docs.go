package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/sync/errgroup"

	"readapi/internal/metadata"
	"readapi/internal/node"
	"readapi/internal/query"
)

// Documentation describes the API surface of one entity type. It is plain
// data for an external templating layer.
type Documentation struct {
	Name             string      `json:"name"`
	Doc              string      `json:"doc,omitempty"`
	Endpoint         string      `json:"endpoint"`
	Backend          string      `json:"backend"`
	Fields           []FieldDoc  `json:"fields"`
	Filterable       []FilterDoc `json:"filterable"`
	Embeddable       []EmbedDoc  `json:"embeddable"`
	AdditionalFields []FieldDoc  `json:"additional_fields,omitempty"`
	Sortable         []string    `json:"sortable"`
	Example          *Example    `json:"example,omitempty"`
}

type FieldDoc struct {
	Name     string      `json:"name"`
	Kind     string      `json:"kind,omitempty"`
	Type     string      `json:"type,omitempty"`
	Nullable bool        `json:"nullable,omitempty"`
	Help     string      `json:"help,omitempty"`
	Target   string      `json:"target,omitempty"`
	Choices  []ChoiceDoc `json:"choices,omitempty"`
}

type ChoiceDoc struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

type FilterDoc struct {
	Field     string     `json:"field"`
	Rule      string     `json:"rule"`
	Requires  [][]string `json:"requires,omitempty"`
	Operators []string   `json:"operators"`
}

type EmbedDoc struct {
	Field  string `json:"field"`
	Target string `json:"target"`
	Many   bool   `json:"many"`
	// When is "always" for recurse_on fields and "single" for fields
	// embedded only in single-object responses.
	When string `json:"when"`
}

// Example is a live response produced through the normal query path.
type Example struct {
	Request  string     `json:"request"`
	Response *node.Node `json:"response,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Docs generates documentation from the registry and a sample query.
type Docs struct {
	svc          *Service
	basePath     string
	exampleLimit int
}

func NewDocs(svc *Service, basePath string, exampleLimit int) *Docs {
	if exampleLimit <= 0 {
		exampleLimit = 5
	}
	return &Docs{svc: svc, basePath: basePath, exampleLimit: exampleLimit}
}

// Describe documents et. Filterable fields come from Filterability, the same
// source request validation uses. Invalid example parameters are returned as
// an error; a failing example query is reported inside the example.
func (d *Docs) Describe(ctx context.Context, et *metadata.EntityType) (*Documentation, error) {
	doc := &Documentation{
		Name:     et.Name,
		Doc:      et.Doc,
		Endpoint: d.basePath + "/" + et.Name,
		Backend:  string(et.Backend),
	}

	for _, f := range et.Fields {
		fd := FieldDoc{Name: f.Name, Kind: string(f.Kind), Type: f.Type, Nullable: f.Nullable, Help: f.Help, Target: f.Target}
		for _, c := range f.Choices {
			fd.Choices = append(fd.Choices, ChoiceDoc{Value: c.Value, Label: c.Label})
		}
		doc.Fields = append(doc.Fields, fd)
		if f.Indexed && f.Kind != metadata.KindRelationMany {
			doc.Sortable = append(doc.Sortable, f.Name)
		}
	}

	for _, fl := range Filterability(et) {
		fd := FilterDoc{Field: fl.Field.Name, Rule: fl.Text(), Requires: fl.Requires}
		for _, op := range fl.Ops {
			fd.Operators = append(fd.Operators, string(op))
		}
		doc.Filterable = append(doc.Filterable, fd)
	}

	for _, f := range et.RelationFields() {
		when := ""
		switch {
		case et.EmbeddedIn(f.Name, false):
			when = "always"
		case et.EmbeddedIn(f.Name, true):
			when = "single"
		default:
			continue
		}
		doc.Embeddable = append(doc.Embeddable, EmbedDoc{
			Field:  f.Name,
			Target: f.Target,
			Many:   f.Kind == metadata.KindRelationMany,
			When:   when,
		})
	}

	for _, af := range et.AdditionalFields {
		doc.AdditionalFields = append(doc.AdditionalFields, FieldDoc{Name: af.Name, Help: af.Help})
	}

	example, err := d.example(ctx, et)
	if err != nil {
		return nil, err
	}
	doc.Example = example
	return doc, nil
}

func (d *Docs) example(ctx context.Context, et *metadata.EntityType) (*Example, error) {
	if et.ExampleID != "" {
		ex := &Example{Request: fmt.Sprintf("%s/%s/%s", d.basePath, et.Name, url.PathEscape(et.ExampleID))}
		n, err := d.svc.Get(ctx, et, et.ExampleID, &query.FilterRequest{})
		if err != nil {
			ex.Error = toAppError(err).Message
			return ex, nil
		}
		ex.Response = n
		return ex, nil
	}

	params := url.Values{}
	for k, v := range et.ExampleParams {
		params[k] = v
	}
	if params.Get(ParamLimit) == "" {
		params.Set(ParamLimit, fmt.Sprint(d.exampleLimit))
	}
	ex := &Example{Request: d.basePath + "/" + et.Name + "?" + params.Encode()}

	req, err := d.svc.Validate(et, params)
	if err != nil {
		return nil, fmt.Errorf("example parameters of %s: %w", et.Name, err)
	}
	n, err := d.svc.List(ctx, et, req)
	if err != nil {
		ex.Error = toAppError(err).Message
		return ex, nil
	}
	ex.Response = n
	return ex, nil
}

// DescribeAll documents every registered entity type concurrently, in
// registry order.
func (d *Docs) DescribeAll(ctx context.Context) ([]*Documentation, error) {
	types := d.svc.Registry().All()
	out := make([]*Documentation, len(types))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, et := range types {
		g.Go(func() error {
			doc, err := d.Describe(gctx, et)
			if err != nil {
				return err
			}
			out[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Check verifies that every entity's example parameters pass validation.
func (d *Docs) Check() error {
	var errs []error
	for _, et := range d.svc.Registry().All() {
		if et.ExampleID != "" {
			continue
		}
		if _, err := d.svc.validator.Validate(et, et.ExampleParams); err != nil {
			errs = append(errs, fmt.Errorf("example parameters of %s: %w", et.Name, err))
		}
	}
	return errors.Join(errs...)
}

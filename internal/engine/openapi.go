package engine

import (
	"fmt"
	"net/http"

	"github.com/swaggest/openapi-go/openapi3"

	"readapi/internal/metadata"
	"readapi/internal/query"
)

func ptr[T any](v T) *T { return &v }

// OpenAPI builds an OpenAPI 3 document for every registered endpoint. Query
// parameters come from Filterability, so the document lists exactly what
// validation accepts.
func OpenAPI(reg *metadata.Registry, basePath, title, version string, formats []string) (*openapi3.Spec, error) {
	spec := &openapi3.Spec{
		Openapi: "3.0.3",
		Info: openapi3.Info{
			Title:   title,
			Version: version,
		},
	}

	for _, et := range reg.All() {
		list := openapi3.Operation{
			Tags:        []string{et.Name},
			ID:          ptr("list_" + et.Name),
			Summary:     ptr("List " + et.Name),
			Description: nonEmpty(et.Doc),
			Parameters:  append(reservedParams(et, formats), filterParams(et)...),
			Responses:   responses(),
		}
		if err := spec.AddOperation(http.MethodGet, basePath+"/"+et.Name, list); err != nil {
			return nil, fmt.Errorf("openapi %s: %w", et.Name, err)
		}

		idSchema := typeSchema(et.ID().Type)
		single := openapi3.Operation{
			Tags:    []string{et.Name},
			ID:      ptr("get_" + et.Name),
			Summary: ptr("Get one " + et.Name),
			Parameters: append([]openapi3.ParameterOrRef{{
				Parameter: &openapi3.Parameter{
					Name:     "id",
					In:       openapi3.ParameterInPath,
					Required: ptr(true),
					Schema:   &openapi3.SchemaOrRef{Schema: idSchema},
				},
			}}, formatParams(formats)...),
			Responses: responses(),
		}
		if err := spec.AddOperation(http.MethodGet, basePath+"/"+et.Name+"/{id}", single); err != nil {
			return nil, fmt.Errorf("openapi %s: %w", et.Name, err)
		}
	}
	return spec, nil
}

func filterParams(et *metadata.EntityType) []openapi3.ParameterOrRef {
	var out []openapi3.ParameterOrRef
	for _, fl := range Filterability(et) {
		schema := filterSchema(fl.Field)
		out = append(out, queryParam(fl.Field.Name, fl.Text()+helpSuffix(fl.Field), schema))
		for _, op := range fl.Ops {
			if op == query.OpExact {
				continue
			}
			opSchema := schema
			if op == query.OpIn || op == query.OpRange {
				opSchema = stringSchema()
			}
			out = append(out, queryParam(fl.Field.Name+opSeparator+string(op), fmt.Sprintf("%s filter on %s.", op, fl.Field.Name), opSchema))
		}
	}
	return out
}

func reservedParams(et *metadata.EntityType, formats []string) []openapi3.ParameterOrRef {
	params := []openapi3.ParameterOrRef{
		queryParam(ParamOffset, "Number of records to skip.", typeSchema(metadata.TypeInt)),
		queryParam(ParamLimit, "Maximum number of records to return.", typeSchema(metadata.TypeInt)),
		queryParam(ParamSort, "Indexed field to sort on; prefix with - for descending order.", stringSchema()),
	}
	params = append(params, formatParams(formats)...)
	if et.IsSearch() {
		params = append(params, queryParam(ParamText, "Full-text query.", stringSchema()))
	}
	return params
}

func formatParams(formats []string) []openapi3.ParameterOrRef {
	enum := make([]interface{}, len(formats))
	for i, f := range formats {
		enum[i] = f
	}
	return []openapi3.ParameterOrRef{
		queryParam(ParamFormat, "Output format.", &openapi3.Schema{Type: ptr(openapi3.SchemaTypeString), Enum: enum}),
		queryParam(ParamCallback, "JSONP callback name.", stringSchema()),
		queryParam(ParamFields, "Comma separated fields to return; dotted paths select nested fields.", stringSchema()),
	}
}

func queryParam(name, description string, schema *openapi3.Schema) openapi3.ParameterOrRef {
	return openapi3.ParameterOrRef{
		Parameter: &openapi3.Parameter{
			Name:        name,
			In:          openapi3.ParameterInQuery,
			Description: nonEmpty(description),
			Schema:      &openapi3.SchemaOrRef{Schema: schema},
		},
	}
}

func filterSchema(f *metadata.Field) *openapi3.Schema {
	switch f.Kind {
	case metadata.KindChoice:
		enum := make([]interface{}, 0, 2*len(f.Choices))
		for _, c := range f.Choices {
			enum = append(enum, fmt.Sprint(c.Value), c.Label)
		}
		return &openapi3.Schema{Type: ptr(openapi3.SchemaTypeString), Enum: enum}
	case metadata.KindRelationSingle:
		return typeSchema(f.TargetType.ID().Type)
	default:
		return typeSchema(f.Type)
	}
}

func typeSchema(typ string) *openapi3.Schema {
	switch typ {
	case metadata.TypeInt:
		return &openapi3.Schema{Type: ptr(openapi3.SchemaTypeInteger)}
	case metadata.TypeFloat:
		return &openapi3.Schema{Type: ptr(openapi3.SchemaTypeNumber)}
	case metadata.TypeBool:
		return &openapi3.Schema{Type: ptr(openapi3.SchemaTypeBoolean)}
	case metadata.TypeTimestamp:
		return &openapi3.Schema{Type: ptr(openapi3.SchemaTypeString), Format: ptr("date-time")}
	case metadata.TypeDate:
		return &openapi3.Schema{Type: ptr(openapi3.SchemaTypeString), Format: ptr("date")}
	default:
		return stringSchema()
	}
}

func stringSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: ptr(openapi3.SchemaTypeString)}
}

func responses() openapi3.Responses {
	resp := func(desc string) openapi3.ResponseOrRef {
		return openapi3.ResponseOrRef{Response: &openapi3.Response{Description: desc}}
	}
	return openapi3.Responses{
		MapOfResponseOrRefValues: map[string]openapi3.ResponseOrRef{
			"200": resp("Success"),
			"400": resp("A parameter is not filterable or is malformed"),
			"404": resp("Unknown entity or identifier"),
			"500": resp("Internal error"),
		},
	}
}

func helpSuffix(f *metadata.Field) string {
	if f.Help == "" {
		return ""
	}
	return " " + f.Help
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

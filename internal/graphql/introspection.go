package graphql

import (
	"context"

	"github.com/99designs/gqlgen/graphql/introspection"
)

type includeDeprecatedArgs struct {
	IncludeDeprecated bool `json:"includeDeprecated"`
}

// introspection serves __schema and __type through gqlgen's schema wrappers.
func (e *executableSchema) introspection() map[string]fieldFunc {
	return map[string]fieldFunc{
		"__schema": value(schemaObject(introspection.WrapSchema(e.schema))),
		"__type": func(_ context.Context, ec *execContext, fc fieldContext) (any, error) {
			var args struct {
				Name string `json:"name"`
			}
			if err := ec.args(fc, &args); err != nil {
				return nil, err
			}
			return typeObject(introspection.WrapTypeFromDef(e.schema, e.schema.Types[args.Name])), nil
		},
	}
}

func schemaObject(s *introspection.Schema) *object {
	return &object{typeName: "__Schema", fields: map[string]fieldFunc{
		"description": value(s.Description()),
		"types": func(context.Context, *execContext, fieldContext) (any, error) {
			return typeObjects(s.Types()), nil
		},
		"queryType":        value(typeObject(s.QueryType())),
		"mutationType":     value(typeObject(s.MutationType())),
		"subscriptionType": value(typeObject(s.SubscriptionType())),
		"directives": func(context.Context, *execContext, fieldContext) (any, error) {
			ds := s.Directives()
			out := make([]*object, len(ds))
			for i := range ds {
				out[i] = directiveObject(&ds[i])
			}
			return out, nil
		},
	}}
}

func typeObjects(ts []introspection.Type) []*object {
	out := make([]*object, len(ts))
	for i := range ts {
		out[i] = typeObject(&ts[i])
	}
	return out
}

// typeObject maps t onto __Type. List-valued fields are null for kinds they do not apply to.
func typeObject(t *introspection.Type) *object {
	if t == nil {
		return nil
	}
	kind := t.Kind()
	only := func(kinds ...string) bool {
		for _, k := range kinds {
			if k == kind {
				return true
			}
		}
		return false
	}
	return &object{typeName: "__Type", fields: map[string]fieldFunc{
		"kind":           value(kind),
		"name":           value(t.Name()),
		"description":    value(t.Description()),
		"specifiedByURL": value(t.SpecifiedByURL()),
		"isOneOf":        value(t.IsOneOf()),
		"ofType": func(context.Context, *execContext, fieldContext) (any, error) {
			return typeObject(t.OfType()), nil
		},
		"fields": func(_ context.Context, ec *execContext, fc fieldContext) (any, error) {
			if !only("OBJECT", "INTERFACE") {
				return nil, nil
			}
			var args includeDeprecatedArgs
			if err := ec.args(fc, &args); err != nil {
				return nil, err
			}
			fs := t.Fields(args.IncludeDeprecated)
			out := make([]*object, len(fs))
			for i := range fs {
				out[i] = fieldObject(&fs[i])
			}
			return out, nil
		},
		"interfaces": func(context.Context, *execContext, fieldContext) (any, error) {
			if !only("OBJECT", "INTERFACE") {
				return nil, nil
			}
			return typeObjects(t.Interfaces()), nil
		},
		"possibleTypes": func(context.Context, *execContext, fieldContext) (any, error) {
			if !only("INTERFACE", "UNION") {
				return nil, nil
			}
			return typeObjects(t.PossibleTypes()), nil
		},
		"enumValues": func(_ context.Context, ec *execContext, fc fieldContext) (any, error) {
			if !only("ENUM") {
				return nil, nil
			}
			var args includeDeprecatedArgs
			if err := ec.args(fc, &args); err != nil {
				return nil, err
			}
			vs := t.EnumValues(args.IncludeDeprecated)
			out := make([]*object, len(vs))
			for i := range vs {
				v := &vs[i]
				out[i] = &object{typeName: "__EnumValue", fields: map[string]fieldFunc{
					"name":              value(v.Name),
					"description":       value(v.Description()),
					"isDeprecated":      value(v.IsDeprecated()),
					"deprecationReason": value(v.DeprecationReason()),
				}}
			}
			return out, nil
		},
		"inputFields": func(context.Context, *execContext, fieldContext) (any, error) {
			if !only("INPUT_OBJECT") {
				return nil, nil
			}
			return inputValueObjects(t.InputFields()), nil
		},
	}}
}

func fieldObject(f *introspection.Field) *object {
	return &object{typeName: "__Field", fields: map[string]fieldFunc{
		"name":        value(f.Name),
		"description": value(f.Description()),
		"args": func(context.Context, *execContext, fieldContext) (any, error) {
			return inputValueObjects(f.Args), nil
		},
		"type": func(context.Context, *execContext, fieldContext) (any, error) {
			return typeObject(f.Type), nil
		},
		"isDeprecated":      value(f.IsDeprecated()),
		"deprecationReason": value(f.DeprecationReason()),
	}}
}

func inputValueObjects(vs []introspection.InputValue) []*object {
	out := make([]*object, len(vs))
	for i := range vs {
		v := &vs[i]
		out[i] = &object{typeName: "__InputValue", fields: map[string]fieldFunc{
			"name":        value(v.Name),
			"description": value(v.Description()),
			"type": func(context.Context, *execContext, fieldContext) (any, error) {
				return typeObject(v.Type), nil
			},
			"defaultValue":      value(v.DefaultValue),
			"isDeprecated":      value(v.IsDeprecated()),
			"deprecationReason": value(v.DeprecationReason()),
		}}
	}
	return out
}

func directiveObject(d *introspection.Directive) *object {
	return &object{typeName: "__Directive", fields: map[string]fieldFunc{
		"name":         value(d.Name),
		"description":  value(d.Description()),
		"locations":    value(d.Locations),
		"isRepeatable": value(d.IsRepeatable),
		"args": func(context.Context, *execContext, fieldContext) (any, error) {
			return inputValueObjects(d.Args), nil
		},
	}}
}

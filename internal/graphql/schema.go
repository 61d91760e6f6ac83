// Package graphql serves the relay's GraphQL API. Streaming fields are delivered
// incrementally over the SSE and websocket transports and collected into a single
// response otherwise.
package graphql

import (
	"context"
	_ "embed"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema.graphqls
var sourceSchema string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: sourceSchema})

// Schema returns the parsed relay schema.
func Schema() *ast.Schema { return parsedSchema }

type executableSchema struct {
	schema   *ast.Schema
	resolver *Resolver
}

// NewExecutableSchema binds r to the relay schema.
func NewExecutableSchema(r *Resolver) graphql.ExecutableSchema {
	return &executableSchema{schema: parsedSchema, resolver: r}
}

func (e *executableSchema) Schema() *ast.Schema { return e.schema }

func (e *executableSchema) Complexity(_ context.Context, _, _ string, _ int, _ map[string]any) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	ec := newExecContext(opCtx, IsIncremental(ctx))
	switch opCtx.Operation.Operation {
	case ast.Query:
		root := e.resolver.query()
		for name, fn := range e.introspection() {
			root.fields[name] = fn
		}
		data := ec.resolveObject(ctx, root, opCtx.Operation.SelectionSet, nil, nil)
		return ec.responses(data)
	case ast.Mutation:
		data := ec.resolveObject(ctx, e.resolver.mutation(), opCtx.Operation.SelectionSet, nil, nil)
		return graphql.OneShot(ec.response(data))
	case ast.Subscription:
		return e.resolver.subscribe(ctx, ec)
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}
}

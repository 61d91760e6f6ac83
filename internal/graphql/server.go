package graphql

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/lru"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/tokligence/chatrelay/internal/dedup"
	"github.com/tokligence/chatrelay/internal/metrics"
)

type incrementalKey struct{}

// WithIncremental marks ctx as served by a transport that delivers multiple responses.
func WithIncremental(ctx context.Context) context.Context {
	return context.WithValue(ctx, incrementalKey{}, true)
}

// IsIncremental reports whether streamed lists should be delivered item by item.
func IsIncremental(ctx context.Context) bool {
	v, _ := ctx.Value(incrementalKey{}).(bool)
	return v
}

// Incremental marks SSE and websocket requests before they reach the GraphQL server.
func Incremental(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
			strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			r = r.WithContext(WithIncremental(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}

// NewServer builds the gqlgen server for r. Each operation gets its own dedup.Loader.
func NewServer(r *Resolver) *handler.Server {
	srv := handler.New(NewExecutableSchema(r))
	srv.AddTransport(transport.Websocket{KeepAlivePingInterval: 10 * time.Second})
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.SSE{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})

	srv.SetQueryCache(lru.New[*ast.QueryDocument](1000))
	srv.Use(extension.Introspection{})
	srv.Use(extension.AutomaticPersistedQuery{Cache: lru.New[string](100)})

	srv.AroundOperations(func(ctx context.Context, next graphql.OperationHandler) graphql.ResponseHandler {
		op := "unknown"
		if oc := graphql.GetOperationContext(ctx); oc != nil && oc.Operation != nil {
			op = string(oc.Operation.Operation)
		}
		metrics.GraphQLOperations.WithLabelValues(op).Inc()
		return next(dedup.NewContext(ctx, dedup.New()))
	})
	return srv
}

// NewHandler returns the HTTP handler serving r on every transport.
func NewHandler(r *Resolver) http.Handler {
	return Incremental(NewServer(r))
}

// NewPlaygroundHandler creates a GraphQL playground handler.
func NewPlaygroundHandler(endpoint string) http.Handler {
	return playground.Handler("chatrelay", endpoint)
}

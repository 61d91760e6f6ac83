package httpserver

import (
	"net/http"

	"github.com/tokligence/chatrelay/internal/graphql"
	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
)

type graphqlEndpoint struct {
	server *Server
}

func newGraphQLEndpoint(server *Server) protocol.Endpoint {
	return &graphqlEndpoint{server: server}
}

func (e *graphqlEndpoint) Name() string { return "graphql" }

// Routes accepts every method so POST, GET, SSE and websocket upgrades reach the
// transport chain.
func (e *graphqlEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: "*", Path: "/graphql", Handler: e.server.graphql},
	}
}

type playgroundEndpoint struct{}

func newPlaygroundEndpoint() protocol.Endpoint { return playgroundEndpoint{} }

func (playgroundEndpoint) Name() string { return "playground" }

func (playgroundEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/playground", Handler: graphql.NewPlaygroundHandler("/graphql"), Public: true},
	}
}

// Package protocol describes the route groups the HTTP server mounts.
package protocol

import "net/http"

// EndpointRoute is one method+path served by an endpoint.
type EndpointRoute struct {
	Method string
	Path   string
	// Method "*" matches every method.
	Handler http.Handler
	// Public routes skip authentication and rate limiting.
	Public bool
}

// Endpoint is a named group of routes.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}

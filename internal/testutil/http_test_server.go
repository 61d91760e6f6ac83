// Package testutil holds helpers shared by HTTP-level tests.
package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
)

// IPv4Server is an HTTP server on 127.0.0.1. Unlike httptest.Server it never binds
// the IPv6 loopback, which some sandboxes lack.
type IPv4Server struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
	closeOnce sync.Once
}

// NewIPv4Server starts handler on an ephemeral port and closes it when the test ends.
// The test is skipped when tcp4 loopback is unavailable.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		server:    &http.Server{Handler: handler},
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client bound to the server's transport.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Close shuts the server down. It is safe to call more than once.
func (s *IPv4Server) Close() {
	s.closeOnce.Do(func() {
		// streaming handlers may still hold connections; do not wait for them
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_ = s.server.Shutdown(ctx)
		_ = s.server.Close()
		s.transport.CloseIdleConnections()
	})
}

// Package api holds what the quill server and its CLI share: the
// endpoint contract tying an HTTP route to a cobra command, a small
// JSON client for the server, and output rendering for command results.
package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint is one API operation. A single value describes both sides of
// it: the route the server mounts and the CLI command that calls that
// route over HTTP, so the two cannot drift apart.
type Endpoint interface {
	// Route returns the method, path pattern and handler to mount.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the store and
	// pipeline wired before it can serve.
	RequiresInit() bool

	// Command builds the CLI command for this operation. getServerURL
	// is resolved per invocation so the --server flag is honored.
	Command(getServerURL func() string) *cobra.Command
}

// Registry collects endpoints and mounts their routes.
type Registry struct {
	endpoints []Endpoint
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes mounts every registered endpoint on mux. Handlers that
// need initialized services are wrapped with gate.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, gate func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = gate(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

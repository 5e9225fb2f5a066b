/*
Package server implements the application's network transport layer.
It initializes the HTTP server, configures timeouts, and exposes the plan
pipeline, the session history and the transcript store over JSON and WebSocket.
*/
package server

import (
	"fmt"
	"net/http"
	"time"

	"NutriPlan/internal/planner"
	"NutriPlan/internal/transcript"
)

// Deps are the collaborators the server is built from.
type Deps struct {
	Port      int
	Pipeline  *planner.Pipeline
	Store     transcript.Store
	RateLimit float64 // plan requests per second per client; 0 disables limiting

	// CompletionTimeout bounds a backend call; the write timeout is derived from it.
	CompletionTimeout time.Duration
}

// Server defines the configuration and dependencies for the HTTP service.
type Server struct {
	// port specifies the TCP port the server will listen on.
	port int

	// pipeline handles plan requests for the single session.
	pipeline *planner.Pipeline

	// store persists the conversation on explicit save.
	store transcript.Store

	rateLimit float64
	startedAt time.Time
}

// New builds a Server without binding a port. Tests use it with RegisterRoutes.
func New(deps Deps) *Server {
	port := deps.Port
	if port == 0 {
		port = 8080
	}
	return &Server{
		port:      port,
		pipeline:  deps.Pipeline,
		store:     deps.Store,
		rateLimit: deps.RateLimit,
		startedAt: time.Now(),
	}
}

// NewServer returns a configured *http.Server with production-ready timeouts.
func NewServer(deps Deps) *http.Server {
	newApp := New(deps)

	// A plan can take as long as the backend allows; leave room to write the reply.
	writeTimeout := 30 * time.Second
	if t := deps.CompletionTimeout + 10*time.Second; t > writeTimeout {
		writeTimeout = t
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", newApp.port),
		Handler:      newApp.RegisterRoutes(), // Injected from routes.go
		IdleTimeout:  time.Minute,             // Time to wait for the next request on keep-alive connections.
		ReadTimeout:  10 * time.Second,        // Maximum duration for reading the entire request.
		WriteTimeout: writeTimeout,            // Maximum duration before timing out writes of the response.
	}

	return server
}

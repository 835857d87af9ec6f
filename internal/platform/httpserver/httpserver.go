// Package httpserver builds the process's HTTP server. Handler timeouts
// are applied per route group by the middleware stack; the server itself
// only bounds the connection-level phases.
package httpserver

import (
	"net/http"
	"time"
)

func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// internal/server/timeouts.go
//
// Edge HTTP server construction.
//
// Context
// -------
// One listener fronts both surfaces: tenant artifact traffic on resolved
// hostnames and the management API under /api/.  Tenant responses are
// pre-rendered static files, so the write budget can stay tight; the only
// long-lived work (publishing, domain polling) happens off-request.
//
//   • ReadTimeout   – abort slow-loris header dribble (10 s)
//   • WriteTimeout  – static artifacts and small JSON bodies fit well
//                     inside 15 s even on slow links
//   • IdleTimeout   – keep-alives from browsers idling on a tenant page
//                     are closed after 60 s
package server

import (
	"net/http"
	"time"
)

// New constructs the edge *http.Server around the assembled handler chain.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// TLSConfig is injected by the caller when TLS terminates here
		// rather than at the fronting proxy.
	}
}

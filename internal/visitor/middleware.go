// internal/visitor/middleware.go
//
// Access-log middleware for tenant traffic.
//
// Context
// -------
// Sits outside the host-routing middleware, so by the time the wrapped
// handler returns, the request context carries the resolved site (when
// the hostname routed anywhere).  One INFO line per request gives each
// tenant's traffic a place to show up; UA and geo details ride along at
// DEBUG.
package visitor

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/siteloom/loom/internal/routing"
)

// statusRecorder captures the downstream status code for the log line.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Log enriches the request context with visitor Info and writes one
// access-log line per request.
func Log(geo *GeoDB, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ip := clientIP(r)

		info := &Info{
			UA:        parseUA(r.UserAgent(), r.Header.Get("Accept-Language")),
			Geo:       geo.Lookup(ip),
			Timestamp: start.UTC(),
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), ctxKey{}, info)
		next.ServeHTTP(rec, r.WithContext(ctx))

		fields := []any{
			"host", r.Host,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", info.Geo.IP,
			"country", info.Geo.CountryISO,
			"bot", info.UA.IsBot,
		}
		// The routing middleware tags the shared request header when a
		// hostname routes to a site; context values set downstream do
		// not propagate back up.
		if siteID := r.Header.Get(routing.SiteHeader); siteID != "" {
			fields = append(fields, "site", siteID)
		}
		zap.S().Infow("access", fields...)
		zap.S().Debugw("visitor detail",
			"browser", info.UA.Browser,
			"version", info.UA.Version,
			"os", info.UA.OS,
			"device", info.UA.Device,
			"lang", info.UA.Language,
			"city", info.Geo.City,
		)
	})
}

// clientIP extracts the left-most address from X-Forwarded-For or
// X-Real-Ip, falling back to r.RemoteAddr.
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip
			}
		}
	}
	if xrip := r.Header.Get("X-Real-Ip"); xrip != "" {
		if ip := net.ParseIP(strings.TrimSpace(xrip)); ip != nil {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return net.ParseIP(host)
	}
	return nil
}

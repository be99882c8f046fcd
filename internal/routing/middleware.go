// internal/routing/middleware.go
//
// Host-resolution middleware (import-cycle safe).
//
// Context
// -------
// Every inbound request is classified before application routing runs.
// Reserved path prefixes (platform API, metrics, static assets, the
// authenticated app) are never tenant content and bypass resolution.
// Everything else is mapped hostname → site and rewritten onto the
// internal per-site rendering path.  A lightweight interface—HostResolver—
// keeps this package independent of *resolver*'s concrete cache, so tests
// can substitute a deterministic stub.
//
// Workflow
// --------
//   1. cmd/web wires routing.Middleware(cache, opts) early in the chain.
//   2. Hit, published      → rewrite to /_sites/{id}{path}, tag site id.
//   3. Hit, unpublished    → maintenance page, HTTP 200 (not an error).
//   4. Miss                → platform "site not found" page, HTTP 404.
//   5. Resolver blow-up    → 302 to the platform landing page.  An
//      anonymous visitor never sees a stack trace.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.

package routing

import (
	"context"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/siteloom/loom/internal/fault"
	"github.com/siteloom/loom/internal/resolver"
)

// SitePrefix is the internal path prefix tenant requests are rewritten to.
const SitePrefix = "/_sites/"

// SiteHeader carries the resolved site id to downstream handlers that
// cannot reach the request context (e.g., a fronting render farm).
const SiteHeader = "X-Loom-Site"

// reservedPrefixes are platform surfaces, never tenant content.
var reservedPrefixes = []string{"/api/", "/metrics", "/static/", "/app/"}

// HostResolver is the minimal contract the middleware needs.  The concrete
// *resolver.Cache satisfies it.
type HostResolver interface {
	Resolve(ctx context.Context, hostname string) (resolver.Resolution, error)
}

// Options carries the platform pages the middleware falls back to.
type Options struct {
	// LandingURL receives redirects when resolution itself fails.
	LandingURL string
}

type ctxKey struct{}

// SiteFromContext returns the site id tagged by the middleware, or "".
func SiteFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Reserved reports whether path belongs to a platform surface.
func Reserved(path string) bool {
	for _, p := range reservedPrefixes {
		if path == p || len(path) >= len(p) && path[:len(p)] == p {
			return true
		}
	}
	return false
}

// Middleware returns the edge wrapper.  It must run before application
// routing.
func Middleware(res HostResolver, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Reserved(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			rsl, err := res.Resolve(r.Context(), r.Host)
			switch {
			case err == nil && rsl.Published:
				serveSite(w, r, next, rsl.SiteID)
			case err == nil:
				maintenancePage(w)
			case fault.Class(err) == fault.NotFound:
				notFoundPage(w)
			default:
				// Routing failures must never surface an error page to an
				// anonymous visitor.
				zap.L().Error("host resolution failed",
					zap.String("host", r.Host), zap.Error(err))
				http.Redirect(w, r, opts.LandingURL, http.StatusFound)
			}
		})
	}
}

// serveSite rewrites the request onto the per-site rendering path,
// preserving the original path and query string, and tags the site id via
// header and context.
//
// The inbound path is cleaned before the site id is prepended.  A raw
// ".." segment would otherwise survive the rewrite and, once the edge
// file server resolves it, cross into another site's artifact tree.
func serveSite(w http.ResponseWriter, r *http.Request, next http.Handler, siteID string) {
	if hasDotDot(r.URL.Path) {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	clean := path.Clean("/" + r.URL.Path)
	if clean != "/" && strings.HasSuffix(r.URL.Path, "/") {
		clean += "/" // keep directory requests as directory requests
	}
	r.URL.Path = SitePrefix + siteID + clean
	r.Header.Set(SiteHeader, siteID)
	next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, siteID)))
}

// hasDotDot reports whether any path segment is "..".
func hasDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func maintenancePage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!doctype html>
<title>Back soon</title>
<h1>This site is offline for maintenance</h1>
<p>The owner has not published it yet.  Please check back later.</p>
`))
}

func notFoundPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(`<!doctype html>
<title>Site not found</title>
<h1>There is no site here</h1>
<p>The address may be mistyped, or the site may have moved.</p>
`))
}

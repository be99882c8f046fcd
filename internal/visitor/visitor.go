// internal/visitor/visitor.go
//
// Per-request visitor metadata for tenant site traffic.
//
// Context
// -------
// The edge serves many tenants from one process, so the access log is
// the only place a tenant's traffic is visible.  This package collects
// what the log line needs: parsed user agent, best-effort geolocation,
// and the client address, all inert values that are safe to log or
// JSON-encode.
//
// Dependencies
// • github.com/avct/uasurfer        (UA parsing)
// • github.com/oschwald/geoip2-golang (MaxMind lookup)
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package visitor

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	surfer "github.com/avct/uasurfer"
	"github.com/oschwald/geoip2-golang"
)

// UA holds the parsed user-agent attributes the access log records.
type UA struct {
	Raw      string
	Browser  string
	Version  string
	OS       string
	Device   string // "Desktop", "Phone", "Tablet", "Bot", ...
	IsBot    bool
	Language string // first tag from Accept-Language
}

// Geo holds IP-based location hints.  Best effort; empty when the
// database has no match or is not loaded.
type Geo struct {
	IP         net.IP
	CountryISO string
	City       string
}

// Info is attached to the request context by the Log middleware.
type Info struct {
	UA        UA
	Geo       Geo
	Timestamp time.Time
}

type ctxKey struct{}

// FromContext returns the Info stored by the Log middleware, or nil if
// the middleware has not run.
func FromContext(ctx context.Context) *Info {
	v, _ := ctx.Value(ctxKey{}).(*Info)
	return v
}

// GeoDB wraps the MaxMind reader so callers can treat "no database
// configured" and "lookup miss" the same way.
type GeoDB struct {
	reader *geoip2.Reader
}

// OpenGeoDB opens a GeoLite2-City database.  An empty path returns a
// usable no-op handle.
func OpenGeoDB(path string) (*GeoDB, error) {
	if path == "" {
		return &GeoDB{}, nil
	}
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoDB{reader: r}, nil
}

// Close releases the underlying reader.
func (g *GeoDB) Close() {
	if g.reader != nil {
		_ = g.reader.Close()
	}
}

// Lookup returns location hints for ip.
func (g *GeoDB) Lookup(ip net.IP) Geo {
	if g == nil || g.reader == nil || ip == nil {
		return Geo{IP: ip}
	}
	rec, err := g.reader.City(ip)
	if err != nil {
		return Geo{IP: ip}
	}
	return Geo{
		IP:         ip,
		CountryISO: rec.Country.IsoCode,
		City:       rec.City.Names["en"],
	}
}

// parseUA converts the raw headers into our UA struct.
func parseUA(uaHeader, acceptLang string) UA {
	u := surfer.Parse(uaHeader)

	osName := strings.TrimPrefix(u.OS.Name.String(), "OS")
	if osName == "MacOSX" {
		osName = "macOS"
	}

	bot := u.IsBot()
	device := deviceString(u.DeviceType)
	if bot {
		device = "Bot"
	}

	return UA{
		Raw:      uaHeader,
		Browser:  strings.TrimPrefix(u.Browser.Name.String(), "Browser"),
		Version:  versionString(u.Browser.Version),
		OS:       osName,
		Device:   device,
		IsBot:    bot,
		Language: primaryLang(acceptLang),
	}
}

// versionString builds "major.minor.patch" and trims trailing ".0".
func versionString(v surfer.Version) string {
	out := strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
	for strings.HasSuffix(out, ".0") {
		out = strings.TrimSuffix(out, ".0")
	}
	if out == "" {
		return "0"
	}
	return out
}

func deviceString(dt surfer.DeviceType) string {
	switch dt {
	case surfer.DeviceComputer:
		return "Desktop"
	case surfer.DevicePhone:
		return "Phone"
	case surfer.DeviceTablet:
		return "Tablet"
	case surfer.DeviceTV:
		return "TV"
	case surfer.DeviceConsole:
		return "Console"
	case surfer.DeviceWearable:
		return "Wearable"
	default:
		return "Unknown"
	}
}

// primaryLang extracts the first language subtag before any ";q=" rule.
func primaryLang(al string) string {
	if al == "" {
		return ""
	}
	tag := strings.TrimSpace(strings.Split(al, ",")[0])
	if i := strings.Index(tag, ";"); i != -1 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

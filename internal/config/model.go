// internal/config/model.go
//
// Typed configuration model for Loom.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                        – dotenv values,
//   • `conf/global.yaml`                     – primary static file,
//   • `LOOM_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* unmarshalling, so the model never
// stores Vault URIs—only plain strings.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables plus the platform's own hostnames.  The
// resolver treats PlatformDomain and its www alias as reserved: they never
// route to tenant content.
type HTTP struct {
	ListenAddr     string `koanf:"listen_addr" validate:"required,hostname_port"`
	ForceHTTPS     bool   `koanf:"force_https"`
	PlatformDomain string `koanf:"platform_domain" validate:"required,fqdn"`
	LandingURL     string `koanf:"landing_url" validate:"required,url"`
}

//
// Database section
//

// Database holds the control-plane DSN.  The password portion may live in
// Vault (`vault:` URI) and is injected at load time, keeping credentials
// out of flat files and git history.
type Database struct {
	DSN      string `koanf:"dsn"      validate:"required"`
	Password string `koanf:"password"`
}

//
// Redis section
//

// Redis configures the lease-lock backend.  When Addr is empty the
// orchestrator falls back to an in-process lock table (single node only).
type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

//
// Publish section
//

// Publish holds the orchestrator budgets.  Each stage carries its own
// timeout; Budget caps the whole workflow including domain verification.
type Publish struct {
	Workers       int           `koanf:"workers" validate:"min=1"`
	RenderTimeout time.Duration `koanf:"render_timeout" validate:"required"`
	UploadTimeout time.Duration `koanf:"upload_timeout" validate:"required"`
	UploadRetries uint64        `koanf:"upload_retries"`
	Budget        time.Duration `koanf:"budget" validate:"required"`
	LockTTL       time.Duration `koanf:"lock_ttl" validate:"required"`
}

//
// Domains section
//

// Domains configures custom-domain verification polling.
type Domains struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"required"`
	PollBudget   time.Duration `koanf:"poll_budget" validate:"required"`
	ChallengeTTL time.Duration `koanf:"challenge_ttl" validate:"required"`
	IngressCNAME string        `koanf:"ingress_cname" validate:"required,fqdn"`
}

//
// Resolver section
//

// Resolver tunes the hostname cache.
type Resolver struct {
	IdleTTL    time.Duration `koanf:"idle_ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

//
// Render / storage sections
//

// Render points at the on-disk template sets used by the default renderer.
type Render struct {
	ThemesDir string `koanf:"themes_dir" validate:"required"`
}

// Storage configures the artifact store.  RootDir backs the filesystem
// implementation; a CDN-backed implementation ignores it.
type Storage struct {
	RootDir string `koanf:"root_dir" validate:"required"`
}

// Geo holds the optional GeoLite2 database path for access-log enrichment.
// Empty disables geo lookups.
type Geo struct {
	CityDB string `koanf:"city_db"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or LOOM_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP     HTTP     `koanf:"http"`
	Database Database `koanf:"database"`
	Redis    Redis    `koanf:"redis"`
	Publish  Publish  `koanf:"publish"`
	Domains  Domains  `koanf:"domains"`
	Resolver Resolver `koanf:"resolver"`
	Render   Render   `koanf:"render"`
	Storage  Storage  `koanf:"storage"`
	Geo      Geo      `koanf:"geo"`
	Paths    Paths    `koanf:"-"` // not loaded from config files
}

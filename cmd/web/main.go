// cmd/web/main.go
//
// Loom – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Start daily rotating logger (tees to console when running in a TTY).
//
//  2. Load layered config (.env → conf/global.yaml → LOOM_ env overrides,
//     Vault-resolved secrets).
//
//  3. Open the control-plane DB and log active-site count.
//
//  4. Build the publish lease locker (Redis when configured, in-process
//     fallback otherwise).
//
//  5. Build the hostname resolver cache (lazy-loads each binding on
//     first hit, write-through invalidated).
//
//  6. Start the domain verification engine and resume interrupted
//     verifications.
//
//  7. Build renderer, artifact storage, publisher, and the publish
//     orchestrator; resume interrupted publishes.
//
//  8. Assemble the handler chain:
//
//     • /metrics            – Prometheus
//     • /api/               – management API
//     • everything else     – host routing → per-site static serving
//
//     wrapped in security headers, access logging, and (optionally)
//     HTTPS enforcement.
//
// Large comment blocks are framed by blank “//” lines; inline comments
// use a single “//”.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/siteloom/loom/internal/api"
	"github.com/siteloom/loom/internal/config"
	"github.com/siteloom/loom/internal/database"
	"github.com/siteloom/loom/internal/lock"
	"github.com/siteloom/loom/internal/logger"
	"github.com/siteloom/loom/internal/middleware"
	"github.com/siteloom/loom/internal/publish"
	"github.com/siteloom/loom/internal/publisher"
	"github.com/siteloom/loom/internal/render"
	"github.com/siteloom/loom/internal/resolver"
	"github.com/siteloom/loom/internal/routing"
	"github.com/siteloom/loom/internal/server"
	"github.com/siteloom/loom/internal/site"
	"github.com/siteloom/loom/internal/verify"
	"github.com/siteloom/loom/internal/visitor"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	rootDir, _ := os.Getwd()
	logOut, err := logger.New(rootDir, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	//
	// ── 1.  Config ──────────────────────────────────────────────────────
	//
	cfg, err := config.Load()
	if err != nil {
		logOut.Fatalf("load config: %v", err)
	}

	//
	// ── 2.  Control-plane DB ────────────────────────────────────────────
	//
	dsn := strings.Replace(cfg.Database.DSN, "{password}", cfg.Database.Password, 1)
	logOut.Info("connecting to control-plane DB …")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.OpenWithOptions(ctx, dsn, database.Options{})
	cancel()
	if err != nil {
		logOut.Fatalf("connect control-plane DB: %v", err)
	}
	defer db.Close()
	logOut.Info("control-plane DB online")

	// Log active-site count as an early sanity check.
	if active, err := site.AllActive(db); err == nil {
		logOut.Infof("%d active site(s) found", len(active))
	}

	//
	// ── 3.  Publish lease locker ────────────────────────────────────────
	//
	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		rl, err := lock.NewRedisLocker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logOut.Fatalf("connect redis: %v", err)
		}
		defer rl.Close()
		locker = rl
		logOut.Infof("redis lease locker online at %s", cfg.Redis.Addr)
	} else {
		locker = lock.NewMemoryLocker()
		logOut.Warn("redis not configured; using in-process lease locker (single node only)")
	}

	//
	// ── 4.  Hostname resolver cache ─────────────────────────────────────
	//
	reserved := []string{cfg.HTTP.PlatformDomain, "www." + cfg.HTTP.PlatformDomain}
	cache := resolver.New(resolver.SQLStore{DB: db}, reserved,
		cfg.Resolver.IdleTTL, cfg.Resolver.MaxEntries)
	defer cache.Close()

	//
	// ── 5.  Domain verification engine ──────────────────────────────────
	//
	engine := verify.New(db, verify.DNSProver{IngressCNAME: cfg.Domains.IngressCNAME}, cache,
		verify.Config{
			PollInterval: cfg.Domains.PollInterval,
			PollBudget:   cfg.Domains.PollBudget,
			ChallengeTTL: cfg.Domains.ChallengeTTL,
		})
	defer engine.Close()
	if err := engine.Resume(context.Background()); err != nil {
		logOut.Errorf("resume domain verifications: %v", err)
	}

	//
	// ── 6.  Publisher and orchestrator ──────────────────────────────────
	//
	store := publisher.FSStorage{
		Root:       cfg.Storage.RootDir,
		URLPattern: "https://" + cfg.HTTP.PlatformDomain + routing.SitePrefix + "%s/",
	}
	orch := publish.New(db,
		render.TemplateRenderer{BaseDir: cfg.Render.ThemesDir},
		publisher.Publisher{
			Storage: store,
			Timeout: cfg.Publish.UploadTimeout,
			Retries: cfg.Publish.UploadRetries,
		},
		locker, engine, cache,
		publish.Config{
			PlatformDomain: cfg.HTTP.PlatformDomain,
			Workers:        cfg.Publish.Workers,
			RenderTimeout:  cfg.Publish.RenderTimeout,
			Budget:         cfg.Publish.Budget,
			LockTTL:        cfg.Publish.LockTTL,
		})
	if err := orch.Resume(context.Background()); err != nil {
		logOut.Errorf("resume publishes: %v", err)
	}

	//
	// ── 7.  Geo database for access logs (optional) ─────────────────────
	//
	geo, err := visitor.OpenGeoDB(cfg.Geo.CityDB)
	if err != nil {
		logOut.Fatalf("open geo DB: %v", err)
	}
	defer geo.Close()

	//
	// ── 8.  Handler chain ───────────────────────────────────────────────
	//
	mgmt := &api.Handler{
		DB:             db,
		Orch:           orch,
		Engine:         engine,
		Cache:          cache,
		PlatformDomain: cfg.HTTP.PlatformDomain,
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/api", mgmt.Routes())

	// Tenant traffic: host routing rewrites onto /_sites/{id}/…, which a
	// plain file server satisfies from the live artifact tree.
	sites := http.StripPrefix(strings.TrimSuffix(routing.SitePrefix, "/"),
		http.FileServer(http.Dir(store.Root+"/live")))
	r.NotFound(routing.Middleware(cache, routing.Options{LandingURL: cfg.HTTP.LandingURL})(sites).ServeHTTP)

	var root http.Handler = visitor.Log(geo, middleware.Security(r))
	if cfg.HTTP.ForceHTTPS {
		known := func(ctx context.Context, host string) bool {
			rsl, err := cache.Resolve(ctx, host)
			return err == nil && rsl.Published
		}
		root = middleware.ForceHTTPS(known, root)
	}

	//
	// ── 9.  Serve ───────────────────────────────────────────────────────
	//
	srv := server.New(cfg.HTTP.ListenAddr, root)

	stop, cancelStop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancelStop()

	// Reconciliation: a deployment left PENDING past twice the publish
	// budget has lost its worker (crash mid-checkpoint, expired lease).
	go func() {
		t := time.NewTicker(cfg.Publish.Budget)
		defer t.Stop()
		for {
			select {
			case <-stop.Done():
				return
			case <-t.C:
				n, err := orch.Reap(stop, 2*cfg.Publish.Budget)
				if err != nil {
					logOut.Errorf("reap stalled publishes: %v", err)
				} else if n > 0 {
					logOut.Warnf("failed %d stalled publish(es)", n)
				}
			}
		}
	}()

	go func() {
		logOut.Infof("listening on %s", cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logOut.Fatalf("http server: %v", err)
		}
	}()

	<-stop.Done()
	logOut.Info("shutting down …")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Errorw("shutdown", "err", err)
	}
}

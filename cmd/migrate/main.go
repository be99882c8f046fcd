// cmd/migrate/main.go
//
// Loom – schema migration entry point.
//
// Applies the goose migrations under db/migrations to the control-plane
// database.  Runs the same layered config loader as cmd/web, so the DSN
// and Vault-resolved password come from one place.
//
//	migrate -command up       apply pending migrations
//	migrate -command status   show applied and pending versions
//	migrate -command down     roll back the latest (or -target N)
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/siteloom/loom/internal/config"
	"github.com/siteloom/loom/internal/database"
	"github.com/siteloom/loom/internal/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	rootDir, _ := os.Getwd()
	logOut, err := logger.New(rootDir, true)
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logOut.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dsn := strings.Replace(cfg.Database.DSN, "{password}", cfg.Database.Password, 1)
	db, err := database.OpenWithOptions(ctx, dsn, database.Options{})
	if err != nil {
		logOut.Fatalf("connect control-plane DB: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect("mysql"); err != nil {
		logOut.Fatalf("configure goose: %v", err)
	}
	dir := filepath.Join(cfg.Paths.Root, "db", "migrations")

	switch *command {
	case "up":
		if err := goose.UpContext(ctx, db.DB, dir); err != nil {
			logOut.Fatalf("apply migrations: %v", err)
		}
	case "status":
		if err := goose.StatusContext(ctx, db.DB, dir); err != nil {
			logOut.Fatalf("migration status: %v", err)
		}
	case "down":
		if *target > 0 {
			err = goose.DownToContext(ctx, db.DB, dir, *target)
		} else {
			err = goose.DownContext(ctx, db.DB, dir)
		}
		if err != nil {
			logOut.Fatalf("roll back migrations: %v", err)
		}
	default:
		logOut.Fatalf("unsupported command %q", *command)
	}

	logOut.Infof("migration command %q completed", *command)
}

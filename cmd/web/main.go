// cmd/web/main.go
//
// stencil – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Console logger on stderr until the configured one is installed.
//
//  2. Optional Vault client when VAULT_ADDR is set, so `vault:` secret
//     references resolve during config load.  Its token renewal runs in the
//     same errgroup as the service; either one ending cancels the other.
//
//  3. Configs from <base>/configs/configs.yml, <base>/../.env, and the
//     process environment.  The `logging` section replaces the boot logger.
//
//  4. Database connect with the configured retry budget, tables created.
//
//  5. chi router: panic recovery, access log, security headers, optional
//     CORS, /healthz, and /metrics.
//
//  6. Serve until SIGINT or SIGTERM, then drain and close the pool.
//
// The base directory is STENCIL_BASE_DIR, or ./service.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/stencil/internal/config"
	"github.com/yanizio/stencil/internal/database"
	"github.com/yanizio/stencil/internal/logger"
	"github.com/yanizio/stencil/internal/middleware"
	"github.com/yanizio/stencil/internal/models"
	"github.com/yanizio/stencil/internal/server"
	"github.com/yanizio/stencil/internal/vault"
)

func main() {
	boot, _, err := logger.Build(logger.Config{})
	if err != nil {
		panic(err)
	}
	logger.Install(boot)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		zap.S().Fatalw("stencil exited", "error", err)
	}
}

// run supervises two members: the service itself and, when Vault is in
// use, token renewal.  Whichever ends first cancels the other.
func run(ctx context.Context) error {
	base := os.Getenv("STENCIL_BASE_DIR")
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		base = filepath.Join(wd, "service")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var opts []config.Option
	if os.Getenv("VAULT_ADDR") != "" {
		vc, err := vault.New(zap.S())
		if err != nil {
			return err
		}
		g.Go(func() error { return vc.Run(gctx) })
		opts = append(opts, config.WithSecretResolver(vc))
	}

	g.Go(func() error {
		defer cancel()
		return serve(gctx, base, opts)
	})
	return g.Wait()
}

// serve loads configuration, connects the database, and serves HTTP until
// ctx ends.
func serve(ctx context.Context, base string, opts []config.Option) error {
	//
	// ── 1.  Configuration ───────────────────────────────────────────────
	//
	cfg, err := config.New(base, opts...)
	if err != nil {
		return err
	}
	defer cfg.Close()
	defer func() { _ = zap.L().Sync() }()

	//
	// ── 2.  Database ────────────────────────────────────────────────────
	//
	db := database.New(cfg.DB,
		database.WithModels(models.All()...),
		database.WithLogger(zap.L().Named("database")),
	)
	if err := db.Connect(ctx); err != nil {
		return err
	}
	defer db.Close()

	//
	// ── 3.  Router ──────────────────────────────────────────────────────
	//
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog(zap.L().Named("http")))
	r.Use(middleware.Security)
	if cfg.Server.EnableCORS {
		r.Use(middleware.CORS)
	}
	r.Get("/healthz", server.Health(db))
	r.Handle("/metrics", promhttp.Handler())

	//
	// ── 4.  Serve ───────────────────────────────────────────────────────
	//
	return server.Run(ctx, server.New(cfg.Server.Addr(), r))
}

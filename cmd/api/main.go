package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"flowsite.io/internal/audit"
	"flowsite.io/internal/auth"
	"flowsite.io/internal/config"
	"flowsite.io/internal/httpapi"
	"flowsite.io/internal/identity"
	"flowsite.io/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	devUser := flag.String("dev-user", "", "email:password registered with the in-memory identity provider")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	provider, err := newProvider(cfg, *devUser)
	if err != nil {
		log.Fatalf("identity provider: %v", err)
	}

	deps := httpapi.Deps{Provider: provider}
	if db != nil {
		store := audit.NewPGStore(db)
		deps.Profiles = auth.NewPGProfileStore(db)
		deps.Tracker = audit.NewTracker(store)
		deps.AuditLog = store
	} else {
		obs.Warn("database_unconfigured", map[string]any{"detail": "profiles and audit rows are kept in memory"})
		store := audit.NewMemoryStore()
		deps.Profiles = auth.NewMemoryProfileStore()
		deps.Tracker = audit.NewTracker(store)
		deps.AuditLog = store
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, deps,
		httpapi.WithLanding(cfg.LandingPath),
		httpapi.WithSiteURL(cfg.SiteURL),
		httpapi.WithCookiePrefix(cfg.CookiePrefix),
		httpapi.WithSecureCookies(cfg.CookieSecure),
		httpapi.WithPersistentSessions(cfg.PersistentSessions),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithTrustedProxies(trusted...),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Log("info", "server_starting", map[string]any{"version": version, "addr": srv.Addr})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Log("info", "server_stopping", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	obs.Log("info", "server_stopped", nil)
}

func newProvider(cfg *config.Config, devUser string) (identity.Provider, error) {
	if cfg.AuthURL != "" {
		return identity.NewGoTrue(cfg.AuthURL, cfg.AuthAnonKey, identity.WithTimeout(cfg.AuthTimeout))
	}
	mem, err := identity.NewMemory(cfg.DevAuthSecret)
	if err != nil {
		return nil, err
	}
	if email, password, ok := strings.Cut(devUser, ":"); ok {
		if _, err := mem.AddUser(email, password); err != nil {
			return nil, err
		}
	}
	obs.Warn("identity_in_memory", map[string]any{"detail": "accounts are lost on restart"})
	return mem, nil
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clanledger.org/internal/authz"
	"clanledger.org/internal/claims"
	"clanledger.org/internal/entries"
	"clanledger.org/internal/httpapi"
	"clanledger.org/internal/obs"
	"clanledger.org/internal/pricing"
	"clanledger.org/internal/roles"
	"clanledger.org/internal/store/pg"
	"clanledger.org/internal/users"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("CLANLEDGER_PG_DSN")
	if dsn == "" {
		log.Fatal("CLANLEDGER_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	registry, err := roles.NewRegistry(store.Roles())
	if err != nil {
		log.Fatalf("roles registry: %v", err)
	}
	guard, err := authz.NewGuard(registry, os.Getenv("CLANLEDGER_ROOT_EXTERNAL_ID"))
	if err != nil {
		log.Fatalf("authz guard: %v", err)
	}
	resolver, err := pricing.NewResolver(store.Pricing())
	if err != nil {
		log.Fatalf("pricing resolver: %v", err)
	}
	recorder := store.Audit()

	claimSvc, err := claims.NewService(store.Claims(), resolver, guard, recorder)
	if err != nil {
		log.Fatalf("claims service: %v", err)
	}
	entrySvc, err := entries.NewService(store.Entries(), resolver, recorder)
	if err != nil {
		log.Fatalf("entries service: %v", err)
	}
	userSvc, err := users.NewService(store.Users(), guard, recorder)
	if err != nil {
		log.Fatalf("users service: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Version:        version,
		Maintenance:    os.Getenv("CLANLEDGER_MAINTENANCE") == "1",
		RootSecretHash: os.Getenv("CLANLEDGER_ROOT_SECRET_HASH"),
		Guard:          guard,
		Registry:       registry,
		Claims:         claimSvc,
		Entries:        entrySvc,
		Users:          userSvc,
		Pricing:        resolver,
		Audit:          recorder,
		ReadyProbe:     httpapi.ReadyProbe{DB: store.DB()},
	})

	addr := os.Getenv("CLANLEDGER_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting clanledger-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

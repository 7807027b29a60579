package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soapbox.chat/internal/audit"
	"soapbox.chat/internal/bus"
	"soapbox.chat/internal/lock"
	"soapbox.chat/internal/message"
	"soapbox.chat/internal/obs"
	"soapbox.chat/internal/registry"
	"soapbox.chat/internal/router"
	"soapbox.chat/internal/session"
	"soapbox.chat/internal/store"
	"soapbox.chat/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("SOAPBOX_COMMIT"))

	secret := os.Getenv("SOAPBOX_AUTH_SECRET")
	if secret == "" {
		log.Fatal("SOAPBOX_AUTH_SECRET is required")
	}
	signer, err := session.NewHS256Signer([]byte(secret))
	if err != nil {
		log.Fatalf("signer: %v", err)
	}

	var (
		st      store.Store
		probe   router.ReadyProbe
		pgStore *pg.Store
	)
	if dsn := os.Getenv("SOAPBOX_PG_DSN"); dsn != "" {
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		st = pgStore
		probe = router.ReadyProbe{DB: pgStore.DB()}
	} else {
		st = store.NewInMemory()
	}

	var auditOpts []audit.Option
	if os.Getenv("SOAPBOX_STRICT_AUDIT") == "1" {
		auditOpts = append(auditOpts, audit.WithStrict())
	}
	auditlog := audit.New(st, auditOpts...)

	reg, err := registry.New(registry.BcryptHasher{})
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	sessions := session.New(signer, reg)

	var lk *lock.Lock
	events := bus.New(func() bus.Event { return lk.StatusEvent() })
	lk = lock.New(auditlog, events)
	messages := message.New(st, lk, auditlog, events)

	api := router.New(reg, sessions, lk, messages, auditlog, events, version,
		router.WithReadyProbe(probe))

	stopReconcile := events.StartReconcile(2 * time.Second)
	defer stopReconcile()
	stopSweeper := api.Presence().StartSweeper(time.Second)
	defer stopSweeper()

	addr := os.Getenv("SOAPBOX_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting soapbox-chatd %s on %s", version, srv.Addr)

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
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

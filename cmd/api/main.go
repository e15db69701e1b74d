package main

import (
	"context"
	"crypto/rand"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"payvault.org/internal/audit"
	"payvault.org/internal/auth"
	"payvault.org/internal/config"
	"payvault.org/internal/credential"
	"payvault.org/internal/guard"
	"payvault.org/internal/httpapi"
	"payvault.org/internal/obs"
	"payvault.org/internal/payment"
	"payvault.org/internal/store/pg"
	"payvault.org/internal/stream"
	"payvault.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev" // set via -ldflags at release builds
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(os.Getenv("PAYVAULT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Secrets. With a database the pepper must be stable across restarts
	// or every stored credential becomes unverifiable.
	if cfg.PGDSN != "" && cfg.Pepper == "" {
		log.Fatal("PAYVAULT_PEPPER is required when a database is configured")
	}
	authSecret := []byte(cfg.AuthSecret)
	if len(authSecret) == 0 {
		authSecret = ephemeralSecret("PAYVAULT_AUTH_SECRET")
	}
	pepper := []byte(cfg.Pepper)
	if len(pepper) == 0 {
		pepper = ephemeralSecret("PAYVAULT_PEPPER")
	}

	hasher, err := credential.New(credential.Config{
		Strategy:   cfg.HashStrategy,
		Pepper:     pepper,
		BcryptCost: cfg.BcryptCost,
		Argon2: credential.Argon2idParams{
			Memory:      cfg.Argon2Memory,
			Time:        cfg.Argon2Time,
			Parallelism: cfg.Argon2Parallelism,
		},
	})
	if err != nil {
		log.Fatalf("configure hasher: %v", err)
	}
	pool := credential.NewPool(hasher, int64(cfg.HashWorkers))

	issuer, err := token.NewIssuer(authSecret, token.WithTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("configure token issuer: %v", err)
	}

	// Abuse counters: Redis when configured, so lockouts hold across
	// instances; otherwise in-process.
	var counters guard.CounterStore
	var memCounters *guard.MemoryCounters
	if cfg.RedisAddr != "" {
		counters = guard.NewRedisCounters(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		memCounters = guard.NewMemoryCounters()
		counters = memCounters
	}
	g := guard.New(counters, guard.WithPolicy(guard.ClassLogin, guard.Policy{
		Threshold: cfg.LoginThreshold,
		Window:    cfg.LoginWindow,
		Lockout:   cfg.LoginLockout,
	}))

	// Stores: Postgres when a DSN is set, in-memory otherwise.
	var (
		identities auth.IdentityStore
		events     audit.Store
		payments   payment.Service
		readyProbe httpapi.ReadyProbe
		svcOpts    []auth.ServiceOption
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer store.Close()
		identities = store.Identities()
		events = store.Events()
		payments = store.Payments()
		svcOpts = append(svcOpts, auth.WithResetTokens(store.ResetTokens()))
		readyProbe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		identities = auth.NewMemoryIdentities()
		events = audit.NewMemoryStore()
		payments = payment.NewInMemory()
		log.Print("no PAYVAULT_PG_DSN set, state is in-memory and lost on restart")
	}

	activity := stream.New()
	recorder := audit.NewRecorder(events, audit.WithSink(func(ev audit.Event) {
		activity.Publish(stream.FromAudit(ev))
	}))

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	recorder.StartRetentionLoop(rootCtx, time.Hour)
	if memCounters != nil {
		memCounters.StartJanitor(rootCtx, time.Minute)
	}

	svc, err := auth.NewService(identities, pool, issuer, g, recorder, svcOpts...)
	if err != nil {
		log.Fatalf("wire auth service: %v", err)
	}

	// HTTP API. Password reset delivery stays unwired here: the token is
	// handed to the integration hook, never to the HTTP response.
	api := httpapi.New(readyProbe, version, svc, payments, g, recorder, activity,
		httpapi.WithCORSOrigin(cfg.CORSOrigin),
		httpapi.WithBodyLimit(cfg.MaxBodyBytes),
		httpapi.WithQuota(cfg.QuotaWindow, cfg.QuotaMax),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting payvault-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	<-sig
	log.Println("Shutting down...")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// ephemeralSecret returns a random secret for development runs. Every
// restart invalidates whatever the previous secret signed.
func ephemeralSecret(envVar string) []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("generate secret: %v", err)
	}
	log.Printf("WARNING: %s not set, using an ephemeral secret", envVar)
	return buf
}

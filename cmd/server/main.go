package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"matchdeck/trust/internal/audit"
	auditrepo "matchdeck/trust/internal/audit/repository"
	"matchdeck/trust/internal/billing"
	"matchdeck/trust/internal/config"
	"matchdeck/trust/internal/db"
	"matchdeck/trust/internal/entitlement/handler"
	entrepo "matchdeck/trust/internal/entitlement/repository"
	"matchdeck/trust/internal/entitlement/service"
	"matchdeck/trust/internal/identity"
	"matchdeck/trust/internal/ratelimit"
	"matchdeck/trust/internal/server"
	"matchdeck/trust/internal/server/middleware"
	"matchdeck/trust/internal/telemetry"
	otelsetup "matchdeck/trust/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, "matchdeck-trust", false)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	emitter := otelsetup.NewEventEmitter(providers.LoggerProvider)

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	identityClient := identity.NewClient(cfg.IdentityURL, cfg.IdentityAnonKey, cfg.IdentityServiceKey)

	var billingClient service.BillingVerifier
	if cfg.BillingServiceAccount != "" {
		raw := []byte(cfg.BillingServiceAccount)
		if !strings.HasPrefix(strings.TrimSpace(cfg.BillingServiceAccount), "{") {
			raw, err = os.ReadFile(cfg.BillingServiceAccount)
			if err != nil {
				log.Fatalf("billing credentials: %v", err)
			}
		}
		account, err := billing.ParseServiceAccount(raw)
		if err != nil {
			log.Fatalf("billing credentials: %v", err)
		}
		billingClient = billing.NewClient(account, cfg.BillingPackageName)
	}

	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(database), middleware.GetClientIP)

	verifier := service.NewVerifier(
		entrepo.NewPostgresRepository(database),
		billingClient,
		cfg.MockBilling,
		[]string{"md_monthly", "md_yearly"},
		auditor,
	)

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewRedis(rdb, "verify", cfg.RateLimitPerMinute, time.Minute)
	} else {
		limiter = ratelimit.NewFixedWindow(cfg.RateLimitPerMinute, time.Minute)
	}

	var previewPattern *regexp.Regexp
	if cfg.PreviewOriginPattern != "" {
		previewPattern, err = regexp.Compile(cfg.PreviewOriginPattern)
		if err != nil {
			log.Fatalf("preview origin pattern: %v", err)
		}
	}

	router := server.NewRouter(&server.Deps{
		AllowedOrigins: cfg.AllowedOriginsList(),
		PreviewPattern: previewPattern,
		Limiter:        limiter,
		TokenVerifier:  identityClient,
		Entitlement:    handler.NewEntitlement(verifier),
		RateLimitAudit: func(r *http.Request) {
			ip := middleware.ClientIP(r)
			auditor.LogEvent(r.Context(), "", audit.ActionRateLimited, "verify-purchase", "")
			telemetry.EmitAsync(emitter, r.Context(), &telemetry.Event{
				EventType: audit.ActionRateLimited,
				Outcome:   "rejected",
				IP:        ip,
				CreatedAt: time.Now().UTC(),
			})
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// Let in-flight async telemetry emits drain before the providers go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}

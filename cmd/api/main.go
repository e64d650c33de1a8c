// Command api boots the ingestion core: it wires configuration, storage,
// tenant resolution, idempotency, topic dispatch, job fan-out, and the two
// inbound transports (commerce webhooks, inbound mail) into one HTTP
// server. Bootstrap here follows the teacher's sequential-construction-
// with-graceful-fallback style (internal/infra Redis wiring, optional
// federation store) — each optional dependency logs and degrades rather
// than failing the whole process.
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ocx/ingestcore/internal/blob"
	"github.com/ocx/ingestcore/internal/bootstrap"
	"github.com/ocx/ingestcore/internal/commerce"
	"github.com/ocx/ingestcore/internal/config"
	"github.com/ocx/ingestcore/internal/dispatch"
	"github.com/ocx/ingestcore/internal/handlers"
	"github.com/ocx/ingestcore/internal/health"
	"github.com/ocx/ingestcore/internal/idempotency"
	"github.com/ocx/ingestcore/internal/ingress"
	"github.com/ocx/ingestcore/internal/ingress/mail"
	"github.com/ocx/ingestcore/internal/ingress/webhook"
	"github.com/ocx/ingestcore/internal/jobs"
	"github.com/ocx/ingestcore/internal/livestatus"
	"github.com/ocx/ingestcore/internal/oauth"
	"github.com/ocx/ingestcore/internal/ratelimit"
	"github.com/ocx/ingestcore/internal/seal"
	"github.com/ocx/ingestcore/internal/tenancy"
)

func main() {
	cfg := config.Get()

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	slog.Info("database connected", "max_open_conns", cfg.Database.MaxOpenConns)

	keyring, err := buildKeyring(cfg)
	if err != nil {
		log.Fatalf("build seal keyring: %v", err)
	}

	registry := tenancy.NewPostgresRegistry(db, cfg.CredentialCacheTTL())
	scope := tenancy.NewScope(db)
	store := idempotency.NewPostgresStore(db)

	metrics := health.NewMetrics()
	dispatchRegistry := dispatch.NewRegistry()
	dispatchRegistry.Scope = scope

	jobDispatcher, closeJobs := buildJobDispatcher(cfg)
	if closeJobs != nil {
		defer closeJobs()
	}
	outbox := jobs.NewOutboxDispatcher(jobDispatcher, db, cfg.EnqueueTimeout(), slog.Default())
	flusher := jobs.NewFlusher(jobDispatcher, db, time.Duration(cfg.Jobs.OutboxFlushSec)*time.Second, cfg.Jobs.OutboxMaxAttempts, slog.Default())

	blobStore := blob.New(cfg.Blob.ProjectURL, cfg.Blob.ServiceRoleKey, cfg.Blob.Bucket)

	h := &handlers.Handlers{Jobs: outbox, Blob: blobStore, Clock: func() int64 { return time.Now().UnixMilli() }}
	registerHandlers(dispatchRegistry, h)

	monitor := health.NewMonitor(db, store, scope, dispatchRegistry, metrics)
	broadcaster := livestatus.New()
	defer broadcaster.Close()

	// Redis infrastructure — rate limiting, graceful fallback (grounded on
	// the teacher's internal/infra.NewGoRedisAdapter wiring).
	var limiter *ratelimit.Limiter
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			slog.Warn("redis ping failed, inbound rate limiting disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			limiter = ratelimit.New(rdb, cfg.Mail.RateLimitPerMinute, time.Minute)
			slog.Info("rate limiter wired against redis", "addr", cfg.Redis.Addr)
		}
	} else {
		slog.Warn("redis disabled, inbound rate limiting is a no-op")
	}

	webhookAdapter := webhook.New(keyring.WebhookSecret, []byte(cfg.Commerce.AppSecret), "Shopify")
	mailAdapter := mail.New(keyring.WebhookSecret, []byte(cfg.Mail.WebhookSecret))
	mailAdapter.SpamThreshold = cfg.Classifier.SpamThreshold

	webhookPipeline := &ingress.Pipeline{
		Adapter: webhookAdapter, Registry: registry, Store: store,
		Dispatcher: dispatchRegistry, Deadline: cfg.RequestDeadline(), Log: slog.Default(),
	}
	mailPipeline := &ingress.Pipeline{
		Adapter: mailAdapter, Registry: registry, Store: store,
		Dispatcher: dispatchRegistry, Deadline: cfg.RequestDeadline(), Log: slog.Default(),
	}

	subscriptionAPI := commerce.NewSubscriptionClient(registry, keyring.AccessToken, cfg.Commerce.APIVersion)
	registrar := &bootstrap.Registrar{DB: db, API: subscriptionAPI, Monitor: monitor, CallbackBaseURL: cfg.Commerce.CallbackBaseURL}

	exchanger := commerce.NewTokenExchanger(cfg.Commerce.ClientID, cfg.Commerce.ClientSecret)
	handshake := oauth.New(oauth.Config{
		ClientID:     cfg.Commerce.ClientID,
		ClientSecret: cfg.Commerce.ClientSecret,
		Scopes:       cfg.Commerce.Scopes,
		RedirectURL:  cfg.Commerce.RedirectURL,
	}, registry, oauth.NewMemoryStateStore(randomState), exchanger, keyring.AccessToken)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/webhooks/commerce/{shop}", func(w http.ResponseWriter, r *http.Request) {
		outcome := webhookPipeline.Handle(r.Context(), r)
		w.WriteHeader(outcome.Status)
		w.Write([]byte(outcome.Body))
	}).Methods(http.MethodPost)

	router.HandleFunc("/webhooks/mail", func(w http.ResponseWriter, r *http.Request) {
		outcome := mailPipeline.Handle(r.Context(), r)
		w.WriteHeader(outcome.Status)
		w.Write([]byte(outcome.Body))
	}).Methods(http.MethodPost)

	router.HandleFunc("/oauth/install", func(w http.ResponseWriter, r *http.Request) {
		shop := r.URL.Query().Get("shop")
		if shop == "" {
			http.Error(w, "missing shop parameter", http.StatusBadRequest)
			return
		}
		redirectURL, err := handshake.InitiateURL(shop)
		if err != nil {
			http.Error(w, "could not start install", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, redirectURL, http.StatusFound)
	}).Methods(http.MethodGet)

	router.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		if err := handshake.HandleCallback(r.Context(), r.URL.Query()); err != nil {
			slog.Error("oauth callback failed", "error", err)
			http.Error(w, "install failed", http.StatusBadRequest)
			return
		}
		shop := r.URL.Query().Get("shop")
		tenantID, found, err := registry.ResolveByShop(r.Context(), shop)
		if !found || err != nil {
			tenantID = shop
		}
		if err := registrar.RegisterAll(r.Context(), tenantID, shop); err != nil {
			slog.Warn("webhook registration incomplete after install", "shop", shop, "error", err)
		}
		for _, status := range monitor.Registrations() {
			broadcaster.PublishRegistrationStatus(status)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("installed"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/events/{tenantId}/{eventId}/retry", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := monitor.Retry(r.Context(), vars["tenantId"], vars["eventId"]); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)

	router.PathPrefix("/live/").Handler(http.StripPrefix("/live", broadcaster.Handler()))

	if limiter != nil {
		router.Use(rateLimitMiddleware(limiter))
	}
	router.Use(requestLoggingMiddleware)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	go flusher.Run(shutdownCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("received shutdown signal, shutting down gracefully")
		shutdownCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("ingestion core starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
	slog.Info("server stopped")
}

// buildKeyring decodes the seal master keys from their env-provided hex
// form and binds the two per-purpose sealers spec §4.A requires.
func buildKeyring(cfg *config.Config) (*seal.Keyring, error) {
	masterKey, err := hex.DecodeString(cfg.Seal.MasterKeyHex)
	if err != nil {
		return nil, err
	}
	var previousKey []byte
	if cfg.Seal.PreviousKeyHex != "" {
		previousKey, err = hex.DecodeString(cfg.Seal.PreviousKeyHex)
		if err != nil {
			return nil, err
		}
	}
	grace := time.Duration(cfg.Seal.RotationGraceSec) * time.Second
	return seal.NewKeyring(masterKey, previousKey, grace)
}

// buildJobDispatcher selects the job dispatcher adapter per cfg.Jobs.Backend
// (spec §9 "one adapter per environment"), falling back to an in-memory
// dispatcher for local development and tests. The returned close func, if
// non-nil, releases the adapter's network client on shutdown.
func buildJobDispatcher(cfg *config.Config) (jobs.Dispatcher, func()) {
	switch cfg.Jobs.Backend {
	case "cloudtasks":
		d, err := jobs.NewCloudTasksDispatcher(context.Background(), cfg.Jobs.CloudTasksQueue, cfg.Jobs.CloudTasksWorkerURL, cfg.Jobs.CloudTasksServiceAcct)
		if err != nil {
			slog.Warn("cloud tasks dispatcher unavailable, falling back to in-memory", "error", err)
			return jobs.NewMemoryDispatcher(), nil
		}
		return d, func() { d.Close() }
	case "pubsub":
		d, err := jobs.NewPubSubDispatcher(context.Background(), cfg.Jobs.PubSubProjectID)
		if err != nil {
			slog.Warn("pubsub dispatcher unavailable, falling back to in-memory", "error", err)
			return jobs.NewMemoryDispatcher(), nil
		}
		return d, func() { d.Close() }
	default:
		slog.Info("job dispatcher backend is in-memory", "backend", cfg.Jobs.Backend)
		return jobs.NewMemoryDispatcher(), nil
	}
}

// registerHandlers binds every topic dispatch must route to its domain
// handler (spec §4.I). GDPR topics are routed here even though
// internal/bootstrap never registers them with the platform (spec §9):
// delivery still happens whenever Shopify's Partner dashboard sends one.
func registerHandlers(r *dispatch.Registry, h *handlers.Handlers) {
	r.Register("orders/create", "orders", h.OrderCreate)
	r.Register("orders/updated", "orders", h.OrderUpdated)
	r.Register("orders/paid", "orders", h.OrderPaid)
	r.Register("orders/cancelled", "orders", h.OrderCancelled)
	r.Register("orders/fulfilled", "fulfillments", h.OrderFulfilled)
	r.Register("fulfillments/create", "fulfillments", h.OrderFulfilled)
	r.Register("fulfillments/update", "fulfillments", h.OrderFulfilled)
	r.Register("products/create", "products", h.ProductUpsert)
	r.Register("products/update", "products", h.ProductUpsert)
	r.Register("products/delete", "products", h.ProductDelete)
	r.Register("customers/create", "customers", h.CustomerUpsert)
	r.Register("customers/update", "customers", h.CustomerUpsert)
	r.Register("customers/delete", "customers", h.CustomerDelete)
	r.Register("refunds/create", "refunds", h.Refund)
	r.Register("app/uninstalled", "app", h.AppUninstalled)
	r.Register("customers/redact", "gdpr", h.GDPRCustomersRedact)
	r.Register("shop/redact", "gdpr", h.GDPRShopRedact)
	r.Register("customers/data_request", "gdpr", h.GDPRCustomersDataRequest)
	r.Register("inbound.mail.treasury", "treasury", h.Treasury)
	r.Register("inbound.mail.receipts", "receipts", h.Receipts)
	r.Register("inbound.mail.support", "support", h.Support)
	r.Register("inbound.mail.creator", "creator", h.Creator)
	r.Register("inbound.mail.general", "support", h.Support)
}

// rateLimitMiddleware applies one sliding window per request path to every
// route. All tenants and senders on a path share that window; requests are
// not limited per tenant or per sender.
func rateLimitMiddleware(limiter *ratelimit.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), "inbound:"+r.URL.Path, time.Now())
			if err != nil {
				slog.Warn("rate limiter check failed, allowing request", "error", err)
			} else if !allowed {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func randomState() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

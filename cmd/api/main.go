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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runnershigh/stravasync/internal/actions"
	"github.com/runnershigh/stravasync/internal/api"
	"github.com/runnershigh/stravasync/internal/auth"
	"github.com/runnershigh/stravasync/internal/config"
	"github.com/runnershigh/stravasync/internal/export"
	"github.com/runnershigh/stravasync/internal/store/postgres"
	"github.com/runnershigh/stravasync/internal/strava"
	"github.com/runnershigh/stravasync/internal/token"
	httptransport "github.com/runnershigh/stravasync/internal/transport/http"
	"github.com/runnershigh/stravasync/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	baseURL := strings.TrimRight(cfg.CallbackURL, "/")
	oauth := strava.NewOAuth(strava.OAuthConfig{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		AuthURL:      cfg.StravaAuthURL,
		TokenURL:     cfg.StravaTokenURL,
		RedirectURL:  baseURL + "/auth/callback",
	})
	client := strava.NewClient(cfg.StravaAPIBaseURL, strava.WithMaxAttempts(cfg.RetryMaxAttempts))
	refresher := token.NewRefresher(store, oauth)

	processor := webhook.NewProcessor(refresher, []webhook.Action{
		actions.NewAnnotate(client, actions.AnnotateConfig{
			Marker:       cfg.AnnotationMarker,
			AppendAlways: cfg.AnnotateAppendAlways,
		}),
		actions.NewArchive(client, store),
	}, webhook.WithTimeout(cfg.WebhookTimeout))

	objectStore, err := buildObjectStore(cfg)
	if err != nil {
		log.Fatalf("failed to build export store: %v", err)
	}
	exports := export.NewManager(refresher, client, objectStore,
		export.WithBudget(cfg.ExportBudget),
		export.WithPageSize(cfg.ExportPageSize),
	)

	handler := api.NewHandler(api.HandlerConfig{
		OAuth:       oauth,
		Store:       store,
		Dispatcher:  processor,
		Exports:     exports,
		VerifyToken: cfg.VerifyToken,
		Session: auth.Config{
			Secret: cfg.SessionSecret,
			Issuer: cfg.SessionIssuer,
			TTL:    cfg.SessionTTL,
		},
	})

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	handler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address: cfg.HTTPAddress,
	}, router)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("stravasync listening on %s (env=%s)", cfg.HTTPAddress, cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := processor.Drain(shutdownCtx); err != nil {
		log.Printf("webhook drain interrupted: %v", err)
	}
	if err := exports.Shutdown(shutdownCtx); err != nil {
		log.Printf("export shutdown interrupted: %v", err)
	}
}

// buildObjectStore picks object storage when a bucket is configured and the
// local filesystem otherwise.
func buildObjectStore(cfg config.Config) (export.ObjectStore, error) {
	if cfg.S3Bucket != "" {
		return export.NewS3Store(export.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	return export.NewFSStore(cfg.ExportDir)
}

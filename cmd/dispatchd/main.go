// Command dispatchd runs the HTTP API and the three matching-engine
// workers in one process, grounded on the teacher's cmd/server/main.go.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridehail/internal/api"
	"ridehail/internal/auth"
	"ridehail/internal/config"
	"ridehail/internal/geo"
	"ridehail/internal/matching"
	"ridehail/internal/notify"
	"ridehail/internal/ridestore"
	"ridehail/internal/storage"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, sessions, pool := mustInitStores(ctx, cfg)
	locator := mustInitLocator(ctx, cfg)
	bus := notify.NewBus()

	engine := &matching.Engine{
		Store:             store,
		Locator:           locator,
		Bus:               bus,
		OfferTimeout:      cfg.OfferTimeout,
		DispatchInterval:  cfg.DispatchInterval,
		ExpiryInterval:    cfg.ExpiryInterval,
		CleanupInterval:   cfg.CleanupInterval,
		StaleThreshold:    cfg.StaleThreshold,
		BaseRadiusKM:      cfg.BaseRadiusKM,
		RadiusIncrementKM: cfg.RadiusIncrementKM,
	}
	if pool != nil {
		engine.Events = &storage.EventRecorder{Pool: pool}
	}
	go engine.Run(ctx)

	r := chi.NewRouter()
	api.AttachRoutes(r, engine, store, sessions, bus, cfg.AuthTokenTTL, pool)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("dispatch core listening on %s (env=%s)", cfg.HTTPAddr, cfg.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func mustInitStores(ctx context.Context, cfg config.Config) (ridestore.Store, auth.Store, *pgxpool.Pool) {
	if cfg.DatabaseURL == "" {
		if cfg.Env == "prod" {
			log.Fatal("DATABASE_URL required in prod")
		}
		log.Printf("no DATABASE_URL set, using in-memory ride store")
		return ridestore.NewMemoryStore(), auth.NewInMemoryStore(), nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := ridestore.DefaultPool(dialCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if err := storage.ApplySchema(dialCtx, pool); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}
	log.Printf("using PostgreSQL persistence")
	return ridestore.NewPostgresStore(pool), auth.NewPostgresStore(pool), pool
}

func mustInitLocator(ctx context.Context, cfg config.Config) geo.Locator {
	if cfg.RedisURL == "" {
		log.Printf("no REDIS_URL set, using in-memory geo locator")
		return geo.NewInMemoryLocator()
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("redis URL parse error, falling back to in-memory geo locator: %v", err)
		return geo.NewInMemoryLocator()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis unreachable, falling back to in-memory geo locator: %v", err)
		if cfg.Env == "prod" {
			log.Fatal("redis reachable required in prod")
		}
		return geo.NewInMemoryLocator()
	}
	log.Printf("using Redis geo index")
	return geo.NewRedisLocator(client)
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rougecommerce/backend/internal/allocation"
	"rougecommerce/backend/internal/cache"
	"rougecommerce/backend/internal/config"
	"rougecommerce/backend/internal/courier"
	"rougecommerce/backend/internal/httpapi"
	"rougecommerce/backend/internal/jobs"
	"rougecommerce/backend/internal/service"
	"rougecommerce/backend/internal/store"
	"rougecommerce/backend/internal/store/memory"
	pgstore "rougecommerce/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory (set DATABASE_URL for persistence)")
	}

	tokenCache := cache.TokenCache(cache.NoopTokenCache{})
	availabilityCache := cache.AvailabilityCache(cache.NoopAvailabilityCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop caches", err)
		} else {
			tokenCache = redisCache
			availabilityCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	if err := cfg.Courier.Validate(); err != nil {
		log.Printf("WARN: %v; courier dispatch and sync will fail until configured", err)
	}
	courierClient := courier.NewHTTPClient(courier.Config{
		BaseURL:      cfg.Courier.BaseURL,
		ClientID:     cfg.Courier.ClientID,
		ClientSecret: cfg.Courier.ClientSecret,
		Username:     cfg.Courier.Username,
		Password:     cfg.Courier.Password,
	}, tokenCache)

	planner := allocation.NewEngine(availabilityCache, 0)
	svc := service.New(repo, planner, courierClient)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	jobsCtx, jobsCancel := context.WithCancel(context.Background())
	runner := jobs.NewRunner(svc, jobs.Config{
		DispatchInterval: cfg.DispatchInterval(),
		SyncInterval:     cfg.SyncInterval(),
		BatchLimit:       cfg.SyncBatchLimit,
	})
	runner.Start(jobsCtx)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("fulfillment backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	jobsCancel()
	runner.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

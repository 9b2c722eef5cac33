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

	"github.com/gorilla/mux"
	"github.com/mallshop/mall-backend/internal/api"
	"github.com/mallshop/mall-backend/internal/auth"
	"github.com/mallshop/mall-backend/internal/cache"
	"github.com/mallshop/mall-backend/internal/db"
	"github.com/mallshop/mall-backend/internal/metrics"
	"github.com/mallshop/mall-backend/internal/services"
	"github.com/mallshop/mall-backend/pkg/config"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize OpenTelemetry metrics
	ctx := context.Background()
	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down meter provider: %v", err)
		}
	}()

	// Initialize database
	database, err := db.NewDB(cfg.GetDSN(), cfg.OTELServiceName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	appMetrics.SetDBSystem(database.Dialect())

	if cfg.RunMigrations {
		if err := database.RunMigrations(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	} else {
		log.Println("RUN_MIGRATIONS=false, assuming database schema already exists")
	}

	productCache, closeCache := newProductCache(ctx, cfg)
	defer closeCache()

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry)

	// Initialize services
	productService := services.NewProductService(database, appMetrics, productCache)
	cartService := services.NewCartService(database, appMetrics)
	orderService := services.NewOrderService(database, appMetrics, cfg.StrictOrderTransitions)
	userService := services.NewUserService(database, appMetrics, tokens, cfg.IsAdmin)

	// Initialize app
	app := api.NewApp(database, appMetrics, tokens, productService, cartService, orderService, userService)

	// Setup router
	router := mux.NewRouter()
	app.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.GetAppPortInt()),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", server.Addr)
		log.Printf("OTLP endpoint: %s", cfg.OTELExporterOTLPEndpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// newProductCache picks Redis when REDIS_ADDR is set and falls back to the
// in-process cache when it is empty or unreachable.
func newProductCache(ctx context.Context, cfg *config.Config) (cache.ProductCache, func()) {
	if cfg.RedisAddr == "" {
		log.Printf("Using in-memory product cache (ttl=%s)", cfg.ProductCacheTTL)
		return cache.NewMemoryCache(cfg.ProductCacheTTL), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis at %s unavailable, using in-memory product cache: %v", cfg.RedisAddr, err)
		client.Close()
		return cache.NewMemoryCache(cfg.ProductCacheTTL), func() {}
	}

	log.Printf("Using Redis product cache at %s (ttl=%s)", cfg.RedisAddr, cfg.ProductCacheTTL)
	return cache.NewRedisCache(client, cfg.ProductCacheTTL), func() {
		if err := client.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}
}

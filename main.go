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

	"dizi-proxy/work/catalog"
	"dizi-proxy/work/config"
	"dizi-proxy/work/handlers"
	"dizi-proxy/work/logger"
	"dizi-proxy/work/proxy"
	"dizi-proxy/work/scraper"
	"dizi-proxy/work/sites"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// open the catalog store
	store, err := catalog.OpenSQLite(cfg.CatalogDB)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer store.Close()

	// seed the catalog when a JSON file is configured
	if cfg.CatalogJSON != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		count, err := store.ImportJSON(ctx, cfg.CatalogJSON)
		cancel()
		if err != nil {
			logger.Warn("{main - main} Catalog seed import failed: %v", err)
		} else {
			logger.Info("{main - main} Imported %d catalog entries from %s", count, cfg.CatalogJSON)
		}
	}

	// resolver sidecar client
	resolver := scraper.NewHTTP(cfg.ScraperURL, cfg.ResolveTimeout)

	// create the proxy instance
	proxyInstance, err := proxy.New(cfg, store, resolver)
	if err != nil {
		log.Fatalf("Failed to create proxy: %v", err)
	}
	defer proxyInstance.Close()

	// start background cache sweeps
	proxyInstance.Start()

	// setup HTTP routes
	router := mux.NewRouter()
	handlers.Register(router, proxyInstance)

	addr := fmt.Sprintf(":%d", cfg.Port)

	// show info
	logger.Info("Starting Dizi Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Listen Addr: %s", addr)
	logger.Info("  - Token TTL: %s", cfg.TokenTTL)
	logger.Info("  - Expose All Variants: %v", cfg.ExposeAllVariants)
	logger.Info("  - Scraper URL: %s", cfg.ScraperURL)
	logger.Info("  - Catalog DB: %s", cfg.CatalogDB)
	logger.Info("  - Supported Sites: %v", sites.Names())
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// segment transfers run long; no write timeout
		IdleTimeout: 120 * time.Second,
	}

	// shut down cleanly on SIGINT/SIGTERM
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Info("{main - main} Shutdown requested...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("{main - main} Shutdown failed: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}

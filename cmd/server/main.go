// Package main is the entry point for the CARTAR server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cartar/server/internal/api"
	"github.com/cartar/server/internal/cache"
	"github.com/cartar/server/internal/config"
	"github.com/cartar/server/internal/exprstore"
	"github.com/cartar/server/internal/render"
	"github.com/cartar/server/internal/service"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional .env file with CARTAR_* overrides")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(cfg.Log)

	log.Printf("Starting %s server on port %d", title(cfg), cfg.Server.Port)

	ctx := context.Background()

	store, err := exprstore.Open(cfg.Data.Backend, cfg.Data.Path, exprstore.Options{
		GTExTissues: cfg.Data.GTExTissues,
	})
	if err != nil {
		log.Fatalf("Failed to open %s expression store %s: %v", cfg.Data.Backend, cfg.Data.Path, err)
	}
	defer store.Close()

	if tumors, err := store.Tumors(ctx); err != nil {
		log.Warnf("Could not list tumors: %v", err)
	} else {
		log.WithFields(log.Fields{
			"backend": cfg.Data.Backend,
			"path":    cfg.Data.Path,
			"tumors":  len(tumors),
		}).Info("Expression store ready")
	}

	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB: cfg.Cache.PlotSizeMB,
		PlotTTL:         time.Duration(cfg.Cache.PlotTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QuerySize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	renderer := render.NewRenderer(render.Config{
		Width:  cfg.Render.Width,
		Height: cfg.Render.Height,
	})
	defaultPlot, err := render.ParsePlotKind(cfg.Render.DefaultPlot)
	if err != nil {
		log.Fatalf("Invalid render.default_plot: %v", err)
	}

	opts := cfg.CompareOptions()
	comparison := service.NewComparisonService(service.ComparisonServiceConfig{
		Store:    store,
		Cache:    cacheManager,
		Renderer: renderer,
		Options:  opts,
	})
	correlation := service.NewCorrelationService(service.CorrelationServiceConfig{
		Store:    store,
		Cache:    cacheManager,
		Renderer: renderer,
	})
	cellLines := service.NewCellLineService(service.CellLineServiceConfig{
		Store:    store,
		Cache:    cacheManager,
		Renderer: renderer,
	})
	log.Printf("Comparator: method=%s continuity=%v min_group_size=%d",
		opts.Method, opts.Continuity, opts.MinGroupSize)

	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Screen.MaxConcurrent,
		SQLitePath:    cfg.Screen.SQLitePath,
		RetentionDays: cfg.Screen.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job manager: %v", err)
	}
	log.Printf("Screen job manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Screen.MaxConcurrent, cfg.Screen.RetentionDays, cfg.Screen.SQLitePath)

	screen := service.NewScreenService(service.ScreenServiceConfig{
		Store:   store,
		Options: opts,
		Workers: cfg.Screen.Workers,
	})
	jobManager.Executor = screen.ExecuteScreenJob

	jobManager.Start()
	defer jobManager.Stop()

	router := api.NewRouter(api.RouterConfig{
		Services:         api.NewServices(store, comparison, correlation, cellLines, cfg.Server.Title),
		CORSOrigins:      cfg.Server.CORSOrigins,
		JobManager:       jobManager,
		CompressionLevel: cfg.Server.CompressionLevel,
		DefaultPlot:      defaultPlot,
		CacheStats:       cacheManager.Stats,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func setupLogging(cfg config.LogConfig) {
	if cfg.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func title(cfg *config.Config) string {
	if cfg.Server.Title != "" {
		return cfg.Server.Title
	}
	return "CARTAR"
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ngoyal88/sqlrecorder/pkg/api"
	"github.com/ngoyal88/sqlrecorder/pkg/cache"
	"github.com/ngoyal88/sqlrecorder/pkg/config"
	"github.com/ngoyal88/sqlrecorder/pkg/database"
	"github.com/ngoyal88/sqlrecorder/pkg/logging"
	"github.com/ngoyal88/sqlrecorder/pkg/middleware"
	"github.com/ngoyal88/sqlrecorder/pkg/notes"
	"github.com/ngoyal88/sqlrecorder/pkg/recorder"
	"github.com/ngoyal88/sqlrecorder/pkg/storage"
	"github.com/ngoyal88/sqlrecorder/pkg/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load Config with hot reload
	boot := logging.NewDefault()
	cfgStore, err := config.LoadAndWatch(boot)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgStore.Get()
	if cfg == nil {
		log.Fatal("Config could not be read")
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 2. Trace store: Redis when enabled, otherwise in-process
	opts := storage.Options{ListLimit: cfg.Recorder.ListLimit, DetailTTL: cfg.Recorder.DetailTTL}
	var rdb *cache.Client
	var store storage.Store
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Could not connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		store = storage.NewRedisStore(rdb, opts)
		logger.Info("Connected to Redis", zap.String("address", cfg.Redis.Address))
	} else {
		store = memory.New(opts)
		logger.Warn("Redis disabled, traces are kept in memory and lost on restart")
	}

	ctrl := recorder.NewController(store).CaptureStacks(cfg.Recorder.CaptureStack)

	// 3. Database through the recording driver
	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Could not open database", zap.Error(err))
	}
	defer db.Close()

	app := notes.New(db, database.DialectOf(cfg.Database.Driver), logger)
	if err := app.Migrate(ctx); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}

	// 4. Routes
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.Auth.AdminKey == "" {
		logger.Warn("No admin key configured, /recorder endpoints are open")
	}
	api.NewRecorderAPI(ctrl, store, cfg.Auth.AdminKey, logger).RegisterRoutes(router)
	app.RegisterRoutes(router)

	// 5. Chain Middleware (order matters!)
	// Recording sits inside the rate limiter so rejected requests never start a trace.
	var handler http.Handler = router
	handler = middleware.RecordQueries(ctrl, logger)(handler)
	handler = middleware.NewRateLimiter(rdb, cfgStore, logger)(handler)
	handler = middleware.RequestLogger(logger)(handler)

	if len(cfg.Server.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "X-Admin-Key"},
		}).Handler(handler)
	}

	// 6. Start Server
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("\n🚀 SQL Recorder Active:")
	fmt.Println("   - Metrics:         http://localhost" + cfg.Server.Port + "/metrics")
	fmt.Println("   - Health Check:    http://localhost" + cfg.Server.Port + "/health")
	fmt.Println("   - Recorder API:    http://localhost" + cfg.Server.Port + "/recorder/status")
	fmt.Println("   - Demo App:        http://localhost" + cfg.Server.Port + "/app/notes")
	fmt.Println("\n📊 Configuration can be hot-reloaded by editing configs/config.yaml")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Server listening", zap.String("addr", cfg.Server.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

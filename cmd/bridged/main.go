package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/pkg/bridge"
	"github.com/kr8tiv/cctp-relayer/pkg/circle"
	"github.com/kr8tiv/cctp-relayer/pkg/config"
	"github.com/kr8tiv/cctp-relayer/pkg/events"
	"github.com/kr8tiv/cctp-relayer/pkg/evm"
	"github.com/kr8tiv/cctp-relayer/pkg/pgutil"
	"github.com/kr8tiv/cctp-relayer/pkg/redisdb"
	"github.com/kr8tiv/cctp-relayer/pkg/safety"
	solanaclient "github.com/kr8tiv/cctp-relayer/pkg/solana"
	"github.com/kr8tiv/cctp-relayer/pkg/store"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting CCTP bridge daemon", zap.Bool("dry_run", cfg.Bridge.DryRun))

	// Initialize database
	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	jobStore := store.NewStore(db)
	logger.Info("Database connection established")

	// Initialize Redis
	rdb, err := redisdb.Connect(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()
	publisher := events.NewPublisher(rdb, logger)

	// Initialize chain clients
	baseClient, err := evm.NewClient(&cfg.Base, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Base client", zap.Error(err))
	}
	defer baseClient.Close()

	solClient, err := solanaclient.NewClient(&cfg.Solana, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Solana client", zap.Error(err))
	}

	attestations := circle.NewClient(&cfg.Circle, logger)

	// Initialize safety system
	safetySystem := safety.NewSystem(&cfg.Safety, safety.NewRedisKV(rdb), jobStore, publisher, logger)

	// Wire the bridge machinery and start the engine
	controller := bridge.NewController(&cfg.Bridge, &cfg.Circle, jobStore, baseClient, solClient, attestations, publisher, logger)
	trigger := bridge.NewTrigger(&cfg.Bridge, jobStore, baseClient, safetySystem, controller, logger)
	engine := bridge.NewEngine(&cfg.Bridge, trigger, controller, jobStore, safetySystem, logger)

	ctx := context.Background()
	engine.Start(ctx)
	defer engine.Stop()

	// Setup HTTP server for API and metrics
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint (liveness)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness endpoint - checks the database connection
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	// Metrics endpoint
	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled")
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs", handleListJobs(jobStore, logger))
		r.Get("/jobs/{id}", handleGetJob(jobStore, logger))
		r.Get("/status", handleGetStatus(safetySystem, cfg, logger))
		r.Post("/killswitch", handleActivateKillSwitch(safetySystem, logger))
		r.Delete("/killswitch", handleDeactivateKillSwitch(safetySystem, logger))
		r.Post("/losshalt/clear", handleClearLossHalt(safetySystem, logger))
	})

	// Start HTTP server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("address", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, gracefully shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Bridge daemon stopped")
}

type jobLister interface {
	ListJobs(ctx context.Context, limit int) ([]*store.BridgeJob, error)
	Job(ctx context.Context, id int64) (*store.BridgeJob, error)
}

func handleListJobs(jobStore jobLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := jobStore.ListJobs(r.Context(), 100)
		if err != nil {
			logger.Error("Failed to list jobs", zap.Error(err))
			http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"jobs": jobs}); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}

func handleGetJob(jobStore jobLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid job id", http.StatusBadRequest)
			return
		}

		job, err := jobStore.Job(r.Context(), id)
		if err != nil {
			logger.Error("Failed to get job", zap.Error(err), zap.Int64("id", id))
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(job); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}

func handleGetStatus(safetySystem *safety.System, cfg *config.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		killed, err := safetySystem.IsKilled(r.Context())
		if err != nil {
			logger.Error("Failed to read kill switch", zap.Error(err))
			http.Error(w, "Failed to read status", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "running",
			"dry_run":     cfg.Bridge.DryRun,
			"kill_switch": killed,
		}); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}

func handleActivateKillSwitch(safetySystem *safety.System, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reason == "" {
			http.Error(w, "A reason is required", http.StatusBadRequest)
			return
		}

		if err := safetySystem.ActivateKillSwitch(r.Context(), body.Reason); err != nil {
			logger.Error("Failed to activate kill switch", zap.Error(err))
			http.Error(w, "Failed to activate kill switch", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeactivateKillSwitch(safetySystem *safety.System, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := safetySystem.DeactivateKillSwitch(r.Context()); err != nil {
			logger.Error("Failed to deactivate kill switch", zap.Error(err))
			http.Error(w, "Failed to deactivate kill switch", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClearLossHalt(safetySystem *safety.System, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := safetySystem.ClearLossHalt(r.Context()); err != nil {
			logger.Error("Failed to clear loss halt", zap.Error(err))
			http.Error(w, "Failed to clear loss halt", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

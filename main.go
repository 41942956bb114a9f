package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ironpathAPI/handlers"
	"ironpathAPI/internal/cache"
	"ironpathAPI/internal/config"
	"ironpathAPI/internal/workers"
	"ironpathAPI/middleware"
	"ironpathAPI/services"
)

var (
	cfg                *config.Config
	dbPool             *pgxpool.Pool
	cacheClient        *cache.Cache
	userLocks          *services.UserLocks
	progressionService *services.ProgressionService
	questService       *services.QuestService
	streakService      *services.StreakService
	dayService         *services.DayService
	dungeonService     *services.DungeonService
	playerService      *services.PlayerService
)

func init() {
	cfg = config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to parse database URL:", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	dbPool, err = pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatal("Failed to create connection pool:", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Successfully connected to Postgres")

	cacheClient = cache.New(ctx, cfg.RedisURL)

	userLocks = services.NewUserLocks()
	progressionService = services.NewProgressionService(cfg)
	questService = services.NewQuestService(dbPool, progressionService, userLocks, cfg)
	streakService = services.NewStreakService(dbPool, userLocks, cfg)
	dayService = services.NewDayService(dbPool, questService, progressionService, streakService, userLocks, cfg)
	dungeonService = services.NewDungeonService(dbPool, progressionService, userLocks, cfg)
	playerService = services.NewPlayerService(dbPool, cacheClient, progressionService, cfg)

	middleware.InitPrometheus()
	services.InitMetrics()
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
		cacheClient.Close()
	}()

	// Initialize handlers
	questHandler := handlers.NewQuestHandler(questService)
	dayHandler := handlers.NewDayHandler(dayService, streakService)
	dungeonHandler := handlers.NewDungeonHandler(dungeonService)
	playerHandler := handlers.NewPlayerHandler(playerService, cfg.JWTSecret)

	r := mux.NewRouter()

	go middleware.CleanupVisitors()
	go userLocks.Cleanup()
	workers.StartDaySweeper(dayService, cfg.SweepInterval)

	r.Use(middleware.RateLimitMiddleware)
	r.Use(middleware.MonitorMiddleware)

	metricsAuth := middleware.BasicAuthMiddleware(cfg.MetricsUser, cfg.MetricsPass)
	r.Handle("/metrics", metricsAuth(promhttp.Handler()))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := dbPool.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "ironpath-api"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// API V1 SUBROUTER
	// -------------------------------------------------------------------------
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/player/register", playerHandler.Register).Methods("POST")

	// -------------------------------------------------------------------------
	// PROTECTED ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	protected.HandleFunc("/quests", questHandler.GetQuests).Methods("GET")
	protected.HandleFunc("/quests/{id}/progress", questHandler.SubmitProgress).Methods("POST")
	protected.HandleFunc("/quests/{id}/reset", questHandler.ResetQuest).Methods("POST")

	protected.HandleFunc("/day/status", dayHandler.GetDayStatus).Methods("GET")
	protected.HandleFunc("/day/reconciliation/{questId}", dayHandler.SubmitReconciliation).Methods("POST")
	protected.HandleFunc("/day/close", dayHandler.CloseDay).Methods("POST")

	protected.HandleFunc("/streak/recover", dayHandler.RecoverStreak).Methods("POST")

	protected.HandleFunc("/dungeons", dungeonHandler.GetDungeons).Methods("GET")
	protected.HandleFunc("/dungeons/active", dungeonHandler.GetActiveRun).Methods("GET")
	protected.HandleFunc("/dungeons/{id}/enter", dungeonHandler.EnterDungeon).Methods("POST")
	protected.HandleFunc("/dungeons/{id}/abandon", dungeonHandler.AbandonRun).Methods("POST")
	protected.HandleFunc("/dungeons/runs/{runId}/objectives/{index}", dungeonHandler.SubmitObjective).Methods("POST")

	protected.HandleFunc("/player", playerHandler.GetProfile).Methods("GET")
	protected.HandleFunc("/player/settings", playerHandler.UpdateSettings).Methods("PUT")
	protected.HandleFunc("/player/leaderboard", playerHandler.GetLeaderboard).Methods("GET")
	protected.HandleFunc("/player/xp-events", playerHandler.GetXPEvents).Methods("GET")

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	server := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scoreboardAPI/handlers"
	"scoreboardAPI/internal/config"
	"scoreboardAPI/internal/game"
	"scoreboardAPI/middleware"
	"scoreboardAPI/services"

	_ "net/http/pprof"
)

var (
	dbPool        *pgxpool.Pool
	gameState     *game.Game
	recordService *services.RecordService
	pushHub       *services.PushHub
	worker        *services.ScoreboardWorker
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set")
	}

	configPath := os.Getenv("GAME_CONFIG")
	if configPath == "" {
		configPath = "./game.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("Failed to load game config:", err)
	}
	log.Printf("Loaded game config from %s", configPath)

	syncInterval := 10 * time.Second
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		syncInterval, err = time.ParseDuration(v)
		if err != nil || syncInterval <= 0 {
			log.Fatal("Invalid SYNC_INTERVAL:", v)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dbURL)
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

	gameState = game.New(cfg)
	recordService = services.NewRecordService(dbPool)
	pushHub = services.NewPushHub()
	worker = services.NewScoreboardWorker(gameState, recordService, pushHub, syncInterval)

	middleware.InitPrometheus()
	services.InitPrometheus()
}

// warmUp loads the registries and runs the first full batch so the boards
// are readable before the server accepts traffic.
func warmUp() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := worker.Reload(ctx); err != nil {
		log.Fatal("Failed to load game state:", err)
	}
	report, err := worker.SyncNow(ctx)
	if err != nil {
		// Reads answer NO_GAME until a later batch succeeds.
		log.Printf("Initial scoreboard batch failed: %v", err)
		return
	}
	log.Printf("Initial scoreboard batch %s: %d submissions in %v", report.ID, report.Replayed, report.Duration)
}

func main() {
	defer func() {
		log.Println("Closing database connection pool...")
		dbPool.Close()
	}()

	warmUp()

	go pushHub.Run()
	worker.Start()

	gameHandler := handlers.NewGameHandler(gameState, worker)
	pushHandler := handlers.NewPushHandler(pushHub)

	r := mux.NewRouter()

	standardRouter := r.PathPrefix("/").Subrouter()
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))
	standardRouter.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(http.DefaultServeMux))

	standardRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := dbPool.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "database connection failed"}`))
			return
		}
		if !gameState.Stats().Computed {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "scoreboard not computed"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "scoreboard-api"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// API V1 SUBROUTER
	// -------------------------------------------------------------------------
	api := standardRouter.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.OptionalAuthMiddleware(gameState))

	api.HandleFunc("/game_info", gameHandler.GetGameInfo).Methods("GET")
	api.HandleFunc("/game", gameHandler.GetGame).Methods("GET")
	api.HandleFunc("/board/{key}", gameHandler.GetBoard).Methods("GET")
	api.HandleFunc("/triggers", gameHandler.GetTriggers).Methods("GET")
	api.HandleFunc("/stats", gameHandler.GetStats).Methods("GET")
	api.HandleFunc("/announcements", gameHandler.GetAnnouncements).Methods("GET")
	api.HandleFunc("/ws", pushHandler.Subscribe).Methods("GET")

	// -------------------------------------------------------------------------
	// PROTECTED ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(gameState))

	protected.HandleFunc("/submit", gameHandler.SubmitFlag).Methods("POST")
	protected.HandleFunc("/update_profile", gameHandler.UpdateProfile).Methods("POST")
	protected.HandleFunc("/agree_term", gameHandler.AgreeTerms).Methods("POST")

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	worker.Stop()
	pushHub.Stop()

	log.Println("Server shutdown complete")
}

/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the effort accounting engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Create job runner, API handler and scheduler
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags take their defaults from the environment, so either works:
    -port / PORT                  HTTP server port (default: 8080)
    -db / DB_PATH                 SQLite database path (default: effort.db)
                                  Use ":memory:" for in-memory
    -home-office / HOME_OFFICE    Destiny treated as no travel
    -interval / SCHEDULER_INTERVAL  Cycle interval, Go duration (default: 1h)
    -no-scheduler                 Disable the background cycle

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections, drain active requests (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/effort.db" -home-office="Madrid"
  ./server -db=":memory:" -no-scheduler

SEE ALSO:
  - api/server.go: Router configuration
  - api/jobs.go: Named batch jobs
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meridian/effort-engine/api"
	"github.com/meridian/effort-engine/store/sqlite"
)

func main() {
	// .env is optional; flags below read the loaded environment.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("DB_PATH", "effort.db"), "SQLite database path")
	homeOffice := flag.String("home-office", envString("HOME_OFFICE", ""), "destiny treated as no travel")
	interval := flag.Duration("interval", envDuration("SCHEDULER_INTERVAL", time.Hour), "scheduler cycle interval")
	noScheduler := flag.Bool("no-scheduler", false, "disable the background cycle")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	runner := api.NewRunner(store, *homeOffice)
	handler := api.NewHandler(store, runner)
	router := api.NewRouter(handler)

	scheduler := api.NewScheduler(runner)
	scheduler.CheckInterval = *interval
	scheduler.Enabled = !*noScheduler
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

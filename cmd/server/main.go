/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the booking engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize SQLite store
  3. Wire the booking engine and event publisher
  4. Configure HTTP router and start the trip sweeper
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: booking.db)
           Use ":memory:" for an in-memory database

ENVIRONMENT:
  RABBITMQ_URL   AMQP broker for booking events; empty disables events
  MAX_TOP_UP     Cap for a single credit top-up (default: 10000)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper and close the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/booking.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
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
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/roadline/booking-engine/api"
	"github.com/roadline/booking-engine/booking"
	"github.com/roadline/booking-engine/events"
	"github.com/roadline/booking-engine/store/sqlite"
)

func main() {
	// .env is optional; real env vars win.
	_ = godotenv.Load()

	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "booking.db", "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Limits
	limits := booking.DefaultLimits()
	if raw := os.Getenv("MAX_TOP_UP"); raw != "" {
		if v, err := booking.ParseMoney(raw); err == nil && v.IsPositive() {
			limits.MaxTopUp = v
		} else {
			log.Printf("Warning: ignoring invalid MAX_TOP_UP %q", raw)
		}
	}

	// Engine and event publisher
	engine := booking.NewEngine(store, nil, limits)

	var publisher events.Publisher = events.Nop{}
	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		publisher = events.NewAMQP(url)
	}

	// Handler and router
	handler := api.NewHandler(store, engine, publisher)
	router := api.NewRouter(handler)

	// Background trip completion
	sweeper := api.NewTripSweeper(engine)
	sweeper.Start()
	defer sweeper.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
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

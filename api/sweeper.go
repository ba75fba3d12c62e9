/*
sweeper.go - Automated trip completion

PURPOSE:
  Periodically finds active trips whose departure has passed and marks
  them, along with their active tickets, as completed. Completed tickets
  can no longer be cancelled, which keeps refunds bounded to future trips.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates the actual sweep to the engine, which takes the per-trip
    locks so a sweep never races a purchase or cancellation
  - A grace period keeps just-departed trips untouched briefly, so a
    clock skew between nodes does not complete a trip that is still
    boarding

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Grace: Delay after departure before completion (default: 1 hour)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewTripSweeper(engine)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - booking/engine.go: CompleteDepartedTrips
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/roadline/booking-engine/booking"
)

// TripSweeper completes departed trips in the background.
type TripSweeper struct {
	Engine        *booking.Engine
	CheckInterval time.Duration
	Grace         time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewTripSweeper creates a new sweeper.
func NewTripSweeper(engine *booking.Engine) *TripSweeper {
	return &TripSweeper{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Grace:         1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (ts *TripSweeper) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	ts.ticker = time.NewTicker(ts.CheckInterval)
	ts.wg.Add(1)

	go ts.run()

	log.Printf("[Sweeper] Started with check interval: %v", ts.CheckInterval)
}

// Stop stops the sweeper.
func (ts *TripSweeper) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.ticker != nil {
		ts.ticker.Stop()
		close(ts.stop)
		ts.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (ts *TripSweeper) run() {
	defer ts.wg.Done()

	// Run immediately on start
	ts.sweep()

	for {
		select {
		case <-ts.ticker.C:
			ts.sweep()
		case <-ts.stop:
			return
		}
	}
}

func (ts *TripSweeper) sweep() {
	ctx := context.Background()

	swept, err := ts.Engine.CompleteDepartedTrips(ctx, ts.Grace)
	if err != nil {
		log.Printf("[Sweeper] Error completing departed trips: %v", err)
		return
	}
	if swept > 0 {
		log.Printf("[Sweeper] Completed %d departed trip(s)", swept)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ts *TripSweeper) RunNow() {
	ts.sweep()
}

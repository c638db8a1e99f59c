/*
scheduler.go - Automated allocation and reconciliation scheduler

PURPOSE:
  Periodically runs the engine cycle for the current month:
  capacity -> allocate -> reconcile. Capacity ceilings come first so
  reconciliation always sees a fresh maximum; allocation folds newly
  submitted liquidations in between.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each stage records its own RunRecord via the job runner
  - A failed stage is logged and the cycle continues; the next tick
    retries from the top

USAGE:
  scheduler := NewScheduler(runner)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - jobs.go: the named jobs this scheduler triggers
  - handlers.go: TriggerJob endpoint (manual runs)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler drives the periodic engine cycle.
type Scheduler struct {
	Runner        *Runner
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler over the job runner.
func NewScheduler(runner *Runner) *Scheduler {
	return &Scheduler{
		Runner:        runner,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.cycle()

	for {
		select {
		case <-s.ticker.C:
			s.cycle()
		case <-s.stop:
			return
		}
	}
}

// RunNow triggers one cycle outside the ticker cadence.
func (s *Scheduler) RunNow() {
	s.cycle()
}

// cycle runs one capacity -> allocate -> reconcile pass for the current
// month.
func (s *Scheduler) cycle() {
	ctx := context.Background()
	now := time.Now().UTC()
	params := JobParams{Year: now.Year(), Month: now.Month()}

	log.Printf("[Scheduler] Starting cycle for %04d-%02d", params.Year, int(params.Month))

	for _, job := range []string{JobCapacity, JobAllocate, JobReconcile} {
		if _, err := s.Runner.Run(ctx, job, params); err != nil {
			log.Printf("[Scheduler] %s failed: %v", job, err)
		}
	}
}

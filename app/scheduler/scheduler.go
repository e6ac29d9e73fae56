package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/newswright/app/pipeline"
)

// CycleRunner runs one pipeline cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (pipeline.Stats, error)
}

// Scheduler drives repeated pipeline cycles. A single goroutine runs the
// cycles, so two cycles never overlap. Stop only interrupts the wait
// between cycles; an in-flight cycle always runs to completion rather
// than being cancelled mid-stage.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(runner CycleRunner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.runCycle()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.runCycle()
			}
		}
	}()
}

// Stop signals the loop and blocks until the current cycle, if any, has
// finished.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) runCycle() {
	// The cycle deliberately gets a context Stop does not cancel; committed
	// state survives either way and the next cycle resumes from the store.
	if _, err := s.runner.RunCycle(context.Background()); err != nil {
		slog.Error("Cycle aborted", "error", err)
	}
}

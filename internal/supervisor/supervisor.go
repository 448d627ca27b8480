// Package supervisor sequences the bridge's startup and shutdown: an
// ordered multi-stage start, signal-driven cancellation, and a
// reverse-order, budgeted stop.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Stage is one ordered startup step. Start must block until the stage
// is ready (or fail); Stop tears it down and may block up to the
// shutdown budget.
type Stage struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// Supervisor runs stages in order, then waits for a termination signal
// or a stage failure, then stops every started stage in reverse order
// within a fixed budget.
type Supervisor struct {
	stages        []Stage
	shutdownBudget time.Duration
	log           *slog.Logger
}

func New(log *slog.Logger, shutdownBudget time.Duration) *Supervisor {
	return &Supervisor{shutdownBudget: shutdownBudget, log: log}
}

// Add appends a stage to the startup sequence.
func (s *Supervisor) Add(stage Stage) {
	s.stages = append(s.stages, stage)
}

// Run starts every stage in order, then blocks until SIGINT/SIGTERM (or
// ctx is cancelled), then stops every successfully-started stage in
// reverse order. A second SIGTERM/SIGINT during shutdown forces an
// immediate exit rather than waiting out the budget.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := make([]Stage, 0, len(s.stages))
	for _, stage := range s.stages {
		s.log.Info("supervisor: starting stage", "stage", stage.Name)
		if err := stage.Start(runCtx); err != nil {
			s.log.Error("supervisor: stage failed to start", "stage", stage.Name, "error", err)
			s.shutdown(started)
			return fmt.Errorf("supervisor: stage %s: %w", stage.Name, err)
		}
		started = append(started, stage)
	}
	s.log.Info("supervisor: all stages started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-runCtx.Done():
	case sig := <-sigCh:
		s.log.Info("supervisor: shutdown signal received", "signal", sig.String())
	}

	cancel()

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	done := make(chan struct{})
	go func() {
		s.shutdown(started)
		close(done)
	}()

	select {
	case <-done:
	case <-forceCh:
		s.log.Warn("supervisor: second signal received, forcing exit")
		os.Exit(1)
	}
	return nil
}

// shutdown stops every stage in reverse start order, sequentially, so a
// stage that depends on one started before it is never torn down
// first. The whole sequence shares one budget.
func (s *Supervisor) shutdown(started []Stage) {
	if len(started) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownBudget)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		stage := started[i]
		if stage.Stop == nil {
			continue
		}
		s.log.Info("supervisor: stopping stage", "stage", stage.Name)
		if err := stage.Stop(ctx); err != nil {
			s.log.Error("supervisor: stage failed to stop cleanly", "stage", stage.Name, "error", err)
		}
	}
}

package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"clinicops/pkg/logger"
)

func TestWorker_SweepsOnInterval(t *testing.T) {
	var sweeps atomic.Int64
	worker := NewWorker(
		func(context.Context) (int64, error) {
			sweeps.Add(1)
			return 1, nil
		},
		10*time.Millisecond,
		logger.New(logger.Config{Level: "error", Format: logger.JSON, Service: "test"}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for sweeps.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 sweeps, got %d", sweeps.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

func TestWorker_SurvivesSweepErrors(t *testing.T) {
	var sweeps atomic.Int64
	worker := NewWorker(
		func(context.Context) (int64, error) {
			sweeps.Add(1)
			return 0, context.DeadlineExceeded
		},
		10*time.Millisecond,
		logger.New(logger.Config{Level: "error", Format: logger.JSON, Service: "test"}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	worker.Run(ctx)

	if sweeps.Load() < 2 {
		t.Errorf("worker must keep sweeping after errors, got %d sweeps", sweeps.Load())
	}
}

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

// blockingScheduler runs until its context ends.
type blockingScheduler struct {
	stopped chan struct{}
}

func (s *blockingScheduler) Start(ctx context.Context) error {
	<-ctx.Done()
	close(s.stopped)
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervise_ListenFailureIsReturned(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	sched := &blockingScheduler{stopped: make(chan struct{})}
	httpServer := &http.Server{Addr: taken.Addr().String(), Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- supervise(context.Background(), quietLogger(), httpServer, sched) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("supervise returned nil for a server that could not listen")
		}
		if !strings.Contains(err.Error(), "ops server") {
			t.Errorf("error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervise did not return")
	}

	select {
	case <-sched.stopped:
	default:
		t.Error("scheduler was not stopped")
	}
}

func TestSupervise_CleanShutdown(t *testing.T) {
	sched := &blockingScheduler{stopped: make(chan struct{})}
	httpServer := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- supervise(ctx, quietLogger(), httpServer, sched) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("supervise = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervise did not return")
	}
}

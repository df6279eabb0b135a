package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/pruner-io/pruner/internal/control"
	"github.com/pruner-io/pruner/internal/core/config"
)

func TestGracefulShutdown(t *testing.T) {
	// Memory-mode config: enough to start every component without
	// external dependencies.
	cfg := config.Default()
	cfg.Server.Port = 0

	app, err := control.NewApp(cfg)
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	startError := make(chan error, 1)
	go func() {
		startError <- app.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(500 * time.Millisecond)

	// Trigger shutdown
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	select {
	case err := <-startError:
		if err != nil && err != context.Canceled {
			t.Errorf("App.Start returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Error("App.Start did not return within 10s of Stop")
	}
}

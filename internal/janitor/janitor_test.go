package janitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/memoria/internal/memory"
)

type countingCleaner struct {
	calls atomic.Int64
}

func (c *countingCleaner) Cleanup(_ context.Context, _ memory.CleanupOptions) (memory.CleanupResult, error) {
	c.calls.Add(1)
	return memory.CleanupResult{ExpiredEntries: 1}, nil
}

func TestSweepWithoutLease(t *testing.T) {
	cleaner := &countingCleaner{}
	j, err := New(cleaner, "", time.Minute, time.Minute, memory.CleanupOptions{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	j.Sweep(context.Background())
	j.Sweep(context.Background())
	if n := cleaner.calls.Load(); n != 2 {
		t.Errorf("cleanup calls = %d, want 2", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cleaner := &countingCleaner{}
	j, err := New(cleaner, "", 10*time.Millisecond, time.Minute, memory.CleanupOptions{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if cleaner.calls.Load() == 0 {
		t.Error("no sweeps ran before cancel")
	}
}

func TestLeaseExcludesSecondSweeper(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	defer container.Terminate(ctx)

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("redis connection string: %v", err)
	}

	first := &countingCleaner{}
	second := &countingCleaner{}
	j1, err := New(first, url, time.Minute, time.Minute, memory.CleanupOptions{}, zap.NewNop())
	if err != nil {
		t.Fatalf("janitor 1: %v", err)
	}
	defer j1.Close()
	j2, err := New(second, url, time.Minute, time.Minute, memory.CleanupOptions{}, zap.NewNop())
	if err != nil {
		t.Fatalf("janitor 2: %v", err)
	}
	defer j2.Close()

	j1.Sweep(ctx)
	j2.Sweep(ctx)

	if first.calls.Load() != 1 {
		t.Errorf("first sweeper ran %d times, want 1", first.calls.Load())
	}
	if second.calls.Load() != 0 {
		t.Errorf("second sweeper ran %d times, want 0 while lease is held", second.calls.Load())
	}
}

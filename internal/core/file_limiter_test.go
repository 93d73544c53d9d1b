package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFileLimiter_AcquireRelease(t *testing.T) {
	limiter := NewFileLimiter(2, time.Second)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		if got := limiter.ActiveCount(); got != i {
			t.Errorf("ActiveCount = %d, want %d", got, i)
		}
	}
	if got := limiter.Available(); got != 0 {
		t.Errorf("Available = %d, want 0", got)
	}

	limiter.Release()
	limiter.Release()
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after release = %d, want 0", got)
	}
}

func TestFileLimiter_TimesOutWhenFull(t *testing.T) {
	limiter := NewFileLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	if err := limiter.Acquire(ctx); !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("expected ErrTooManyFiles, got %v", err)
	}
	if limiter.TryAcquire() {
		t.Error("TryAcquire should fail when full")
	}
}

func TestFileLimiter_NeverExceedsMax(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewFileLimiter(maxConcurrent, time.Second)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		maxObserved int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer limiter.Release()

			mu.Lock()
			if n := limiter.ActiveCount(); n > maxObserved {
				maxObserved = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("observed %d concurrent files, max %d", maxObserved, maxConcurrent)
	}
}

func TestFileLimiter_ContextCancelled(t *testing.T) {
	limiter := NewFileLimiter(1, 5*time.Second)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- limiter.Acquire(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after cancellation")
	}
}

func TestFileLimiter_WaitForDrain(t *testing.T) {
	limiter := NewFileLimiter(2, time.Second)
	_ = limiter.Acquire(context.Background())

	done := make(chan error, 1)
	go func() { done <- limiter.WaitForDrain(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitForDrain returned while a file was running")
	case <-time.After(50 * time.Millisecond):
	}

	limiter.Release()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForDrain: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not return after release")
	}
}

func TestFileLimiter_StatusAndDefaults(t *testing.T) {
	limiter := NewFileLimiter(0, 0)
	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentFiles {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentFiles)
	}

	_ = limiter.Acquire(context.Background())
	status := limiter.Status()
	if status.Active != 1 || status.Available != DefaultMaxConcurrentFiles-1 {
		t.Errorf("Status = %+v", status)
	}
	limiter.Release()
}

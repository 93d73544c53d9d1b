package core

// file_limiter.go bounds how many FileUnits import at once in this process.
//
// Each running file owns its own executor pool, so the store sees at most
// maxConcurrent * workers calls in flight. When all slots are occupied a
// caller waits up to maxWait before getting ErrTooManyFiles.
//
// WaitForDrain blocks until all running files complete, for shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyFiles is returned when all file slots are occupied and the wait
// timeout expires.
var ErrTooManyFiles = errors.New("too many concurrent file imports")

// DefaultMaxConcurrentFiles is the default limit for parallel file imports.
const DefaultMaxConcurrentFiles = 4

// DefaultMaxWaitTime is how long to wait for a slot before giving up.
const DefaultMaxWaitTime = 30 * time.Second

// FileLimiter is a semaphore over running file imports.
type FileLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewFileLimiter creates a limiter that allows at most maxConcurrent files.
func NewFileLimiter(maxConcurrent int, maxWait time.Duration) *FileLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentFiles
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &FileLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire takes a slot, waiting up to maxWait. The caller must Release it.
func (l *FileLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyFiles

	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking.
func (l *FileLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *FileLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of files currently importing.
func (l *FileLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the slot count.
func (l *FileLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of available slots.
func (l *FileLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no file holds a slot or ctx is done.
func (l *FileLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// LimiterStatus is a snapshot of the limiter, served by the status endpoint.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *FileLimiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}

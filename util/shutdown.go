package util

import (
	"context"
	"sync"
)

// ShutdownGuard coordinates stopping a group of goroutines. Goroutines started with Go observe
// ShuttingDown or Context and ShutdownAndWait blocks until all of them returned.
type ShutdownGuard struct {
	mu           sync.Mutex
	wg           sync.WaitGroup
	ShuttingDown chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewShutdownGuard creates a new ShutdownGuard whose context derives from parent.
func NewShutdownGuard(parent context.Context) *ShutdownGuard {
	ctx, cancel := context.WithCancel(parent)
	return &ShutdownGuard{
		ShuttingDown: make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Context is cancelled when shutdown is initiated.
func (s *ShutdownGuard) Context() context.Context {
	return s.ctx
}

// Go runs fn in a goroutine tracked by the guard.
func (s *ShutdownGuard) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// InitiateShutdown signals to all goroutines that they should return.
func (s *ShutdownGuard) InitiateShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.ShuttingDown:
		// already closed
	default:
		close(s.ShuttingDown)
		s.cancel()
	}
}

// ShutdownAndWait initiates a shutdown, and waits for all goroutines to finish.
func (s *ShutdownGuard) ShutdownAndWait() {
	s.InitiateShutdown()
	s.wg.Wait()
}

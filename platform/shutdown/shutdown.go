// Package shutdown coordinates graceful teardown. Components register hooks
// at wire-up time; when SIGINT or SIGTERM arrives every hook runs
// concurrently under one grace period, then the done channel closes.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rohanthewiz/logger"
)

const gracePeriod = 15 * time.Second

// HookFunc is one teardown step. It receives the remaining grace period.
type HookFunc func(grace time.Duration) error

// Service collects shutdown hooks and watches for termination signals
type Service struct {
	mu       sync.Mutex
	hooks    []HookFunc
	stopping bool
}

// NewService creates an empty shutdown service
func NewService() *Service {
	return &Service{}
}

// RegisterHook adds a teardown step. Hooks registered after shutdown has
// begun are ignored.
func (s *Service) RegisterHook(fn HookFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	s.hooks = append(s.hooks, fn)
}

// Stopping reports whether shutdown has begun
func (s *Service) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Watch waits for SIGINT or SIGTERM in a background goroutine, runs all
// hooks, and closes done when teardown finishes or the grace period lapses
func (s *Service) Watch(done chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)

		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig.String())

		s.mu.Lock()
		s.stopping = true
		hooks := s.hooks
		s.mu.Unlock()

		var wg sync.WaitGroup
		for i, hook := range hooks {
			wg.Add(1)
			go func(n int, fn HookFunc) {
				defer wg.Done()
				if err := fn(gracePeriod); err != nil {
					logger.LogErr(err, "shutdown hook failed")
				}
				logger.Debug("Shutdown hook completed", "hook", n)
			}(i, hook)
		}

		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("All shutdown hooks completed")
		case <-time.After(gracePeriod):
			logger.Info("Shutdown hooks timed out", "grace", gracePeriod.String())
		}
	}()
}

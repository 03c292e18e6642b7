package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mabletask/agent/logger"
)

// Safe wraps a Store so that no storage failure ever reaches the caller.
// The first error or panic from the wrapped store switches the remaining
// operations to an in-memory overlay for the lifetime of the Safe value,
// which is one page load.
type Safe struct {
	inner    Store
	mem      *MemoryStore
	log      logger.Logger
	mu       sync.Mutex
	degraded bool
}

// NewSafe wraps inner. A nil inner starts degraded.
func NewSafe(inner Store, now func() time.Time, log logger.Logger) *Safe {
	return &Safe{
		inner:    inner,
		mem:      NewMemoryStore(now),
		log:      log,
		degraded: inner == nil,
	}
}

// Degraded reports whether the wrapped store has failed during this load.
func (s *Safe) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Get returns the value for key, or false when absent or unavailable.
func (s *Safe) Get(ctx context.Context, key string) (string, bool) {
	if !s.Degraded() {
		var (
			val string
			ok  bool
		)
		err := s.call("get", key, func() error {
			var err error
			val, ok, err = s.inner.Get(ctx, key)
			return err
		})
		if err == nil {
			return val, ok
		}
	}
	val, ok, _ := s.mem.Get(ctx, key)
	return val, ok
}

// Set stores value under key with the given ttl.
func (s *Safe) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if !s.Degraded() {
		err := s.call("set", key, func() error {
			return s.inner.Set(ctx, key, value, ttl)
		})
		if err == nil {
			return
		}
	}
	_ = s.mem.Set(ctx, key, value, ttl)
}

// Delete removes key.
func (s *Safe) Delete(ctx context.Context, key string) {
	if !s.Degraded() {
		if err := s.call("delete", key, func() error { return s.inner.Delete(ctx, key) }); err == nil {
			return
		}
	}
	_ = s.mem.Delete(ctx, key)
}

func (s *Safe) call(op, key string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("storage panic: %v", r)
		}
		if err != nil {
			s.degrade(op, key, err)
		}
	}()
	return fn()
}

func (s *Safe) degrade(op, key string, err error) {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()

	s.log.Debug("Storage unavailable, continuing in memory",
		logger.String("op", op),
		logger.String("key", key),
		logger.Error(err),
	)
}

package reactive

import (
	"context"
	"sync"
	"time"
)

// Signal is a resettable level flag. While set, Wait returns immediately;
// while clear, Wait blocks until Set or context cancellation.
//
// The zero value is a cleared Signal.
type Signal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

func NewSignal(set bool) *Signal {
	s := &Signal{}
	if set {
		s.Set()
	}
	return s
}

func (s *Signal) lazy() {
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
}

func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lazy()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Done returns a channel closed once the signal is set. The channel is
// replaced on Clear, so callers re-fetch it after every wakeup.
func (s *Signal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lazy()
	return s.ch
}

// Wait blocks until the signal is set or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package trading

import (
	"context"
	"sync"
)

// Surface is the order-entry surface shared by every stager on a page: an
// optional programmatic client, an optional markup trigger, and the host
// window's focus events.
type Surface struct {
	client  Client
	trigger Trigger

	// stage serialises Clear..Publish so adds from two sessions never
	// interleave on the shared client.
	stage sync.Mutex

	mu      sync.Mutex
	waiters map[chan struct{}]struct{}
}

// NewSurface creates a surface. Either collaborator may be nil.
func NewSurface(client Client, trigger Trigger) *Surface {
	return &Surface{
		client:  client,
		trigger: trigger,
		waiters: make(map[chan struct{}]struct{}),
	}
}

// programmatic reports whether the client is present and ready. It is
// evaluated once per session.
func (s *Surface) programmatic(ctx context.Context) bool {
	return s.client != nil && s.client.Ready(ctx)
}

// NotifyFocus signals every waiting session that the host window regained
// focus or became visible.
func (s *Surface) NotifyFocus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Waiting returns the number of sessions subscribed to focus events.
func (s *Surface) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// subscribeFocus registers a focus listener. The returned func unregisters it.
func (s *Surface) subscribeFocus() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.waiters[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.waiters, ch)
		s.mu.Unlock()
	}
}

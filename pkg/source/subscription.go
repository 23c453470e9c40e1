package source

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is one reader attached to a cache: an optional snapshot
// captured atomically with the live registration, then a bounded live tail.
//
// The consumer loop should select on Events and Done together. Once Done is
// closed no further Events reads should be attempted; whatever is still
// buffered is intentionally abandoned.
type Subscription struct {
	id       uuid.UUID
	snapshot []RowEvent
	resume   uint64
	events   chan RowEvent

	cache *Cache

	done   chan struct{}
	reason *TerminalError
	once   sync.Once
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uuid.UUID { return s.id }

// Snapshot returns the synthetic Insert events captured at registration, in
// stable but unspecified order. Nil when the subscription is live-only.
func (s *Subscription) Snapshot() []RowEvent { return s.snapshot }

// ResumeToken is the cache frontier at registration. Every row whose event
// had a token at or below it is in Snapshot; events on Events carry tokens
// at or above it (equal when registration lands inside a timestamp batch).
// The snapshot/live split is positional, not token-based.
func (s *Subscription) ResumeToken() uint64 { return s.resume }

// Events is the live tail. The channel is never closed; termination is
// signalled through Done.
func (s *Subscription) Events() <-chan RowEvent { return s.events }

// Done is closed when the subscription terminates for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription terminated: nil for caller cancellation,
// a TerminalError otherwise. Valid only after Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	if s.reason == nil {
		return nil
	}
	return s.reason
}

// Close cancels the subscription. It is prompt and idempotent: the cache
// forgets the subscriber, buffered events are dropped, and Done closes with
// a nil reason.
func (s *Subscription) Close() {
	s.cache.unsubscribe(s.id)
	s.terminate(nil)
}

func (s *Subscription) terminate(reason *TerminalError) {
	s.once.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

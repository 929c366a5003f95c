package domain

import "sync"

// CompletionRendezvous is a one-shot signal: it can be signaled at most
// once, any number of goroutines may wait on it concurrently, and once
// signaled the result is visible to every waiter. This replaces the
// source's condition-variable-plus-mutable-field pattern (§9) with a
// channel closed exactly once via sync.Once — the close happens-before
// every receive, so no separate lock is needed to read the result once
// Wait returns.
type CompletionRendezvous struct {
	done   chan struct{}
	once   sync.Once
	result JudgeResult
}

// NewCompletionRendezvous returns an unsignaled rendezvous.
func NewCompletionRendezvous() *CompletionRendezvous {
	return &CompletionRendezvous{done: make(chan struct{})}
}

// Signal records result and wakes every current and future waiter. Only the
// first call has any effect; subsequent calls are silently ignored so that
// "signaled at most once" holds even under buggy double-completion.
func (c *CompletionRendezvous) Signal(result JudgeResult) {
	c.once.Do(func() {
		c.result = result
		close(c.done)
	})
}

// Wait blocks until Signal has been called, then returns the signaled
// result.
func (c *CompletionRendezvous) Wait() JudgeResult {
	<-c.done
	return c.result
}

// Done returns the underlying channel, closed once Signal has run. Useful
// for select-based waiting (e.g. alongside a context's Done channel).
func (c *CompletionRendezvous) Done() <-chan struct{} {
	return c.done
}

package domain

import (
	"sync"
	"testing"
	"time"
)

func TestCompletionRendezvousSignalOnce(t *testing.T) {
	c := NewCompletionRendezvous()
	c.Signal(SuccessResult("first"))
	c.Signal(ErrorResult("second")) // must be ignored

	got := c.Wait()
	payload, ok := got.Payload()
	if !ok || payload != "first" {
		t.Fatalf("expected first signal to win, got payload=%q ok=%v", payload, ok)
	}
}

func TestCompletionRendezvousManyWaiters(t *testing.T) {
	c := NewCompletionRendezvous()
	const n = 50
	var wg sync.WaitGroup
	results := make([]JudgeResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Wait()
		}(i)
	}

	time.Sleep(10 * time.Millisecond) // give waiters a chance to block
	c.Signal(SuccessResult("done"))
	wg.Wait()

	for i, r := range results {
		if payload, ok := r.Payload(); !ok || payload != "done" {
			t.Errorf("waiter %d got payload=%q ok=%v, want done/true", i, payload, ok)
		}
	}
}

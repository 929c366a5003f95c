package vmworker

import (
	"context"
	"time"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/logging"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/metrics"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/runner"
)

// Run is the worker loop: block until live if dormant, then forever
// dequeue the next request, wait for capacity, admit it as a single
// critical section, and spawn its execution. Returns when ctx is done or
// when the worker is marked dead after going live; a worker marked dead
// while still dormant keeps this loop blocked on the dormancy gate until
// ctx is done.
func (w *Worker) Run(ctx context.Context) {
	select {
	case <-w.liveGate:
	case <-ctx.Done():
		return
	}

	for {
		req, ok := w.dequeueBlocking(ctx)
		if !ok {
			return
		}

		if !w.waitForCapacity(ctx, req.CPUs, req.MemoryMB) {
			return
		}

		w.admit(req)
		go w.execute(ctx, req)
	}
}

// dequeueBlocking waits until the queue is non-empty and pops its head, or
// returns false if ctx is done or the worker has gone dead.
func (w *Worker) dequeueBlocking(ctx context.Context) (*domain.JudgeRequest, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 && w.state != Dead {
		if ctx.Err() != nil {
			return nil, false
		}
		w.cond.Wait()
	}
	if w.state == Dead || len(w.queue) == 0 {
		return nil, false
	}
	req := w.queue[0]
	w.queue = w.queue[1:]
	return req, true
}

// waitForCapacity polls at capacityPollInterval until the worker's free
// pools can satisfy (cpus, memoryMB), or ctx is done / the worker dies.
func (w *Worker) waitForCapacity(ctx context.Context, cpus, memoryMB int) bool {
	ticker := time.NewTicker(capacityPollInterval)
	defer ticker.Stop()

	for {
		if w.HasCapacity(cpus, memoryMB) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if w.State() == Dead {
				return false
			}
		}
	}
}

// admit is the single critical section that both decrements idle_count and
// reserves capacity. It does not re-check capacity: Run is the only caller
// that reserves capacity, so the pools can only have grown since
// waitForCapacity saw them sufficient.
func (w *Worker) admit(req *domain.JudgeRequest) {
	w.mu.Lock()
	w.idleCount--
	w.freeCPU -= req.CPUs
	w.freeMemoryMB -= req.MemoryMB
	w.busy++
	w.stopIdleTimerLocked()
	w.mu.Unlock()
}

// execute runs req against the worker's runner channel and always signals
// its completion rendezvous before returning, restoring the capacity
// admit reserved regardless of outcome.
func (w *Worker) execute(ctx context.Context, req *domain.JudgeRequest) {
	defer w.release(req)
	defer w.recoverInternal(req)

	machineName := w.MachineName()
	ch, ok := w.registry.Get(machineName)
	if !ok {
		w.complete(req, domain.ErrorResult(domain.CauseRunnerUnreachable))
		return
	}

	params := runner.StartParams{
		EvaluationSettings: req.EvaluationSettings,
		BenchmarkInstances: req.BenchmarkInstances,
		SubmissionURL:      req.Submission.SourceURL,
		ValidatorURL:       req.Submission.ValidatorURL,
	}

	reply, err := ch.SendCommand(ctx, runner.Start, params)
	if err != nil {
		cause := runner.ClassifyTransportError(err)
		logging.Op().Warn("runner execution failed", "machine_name", machineName, "error", err, "cause", cause)
		w.complete(req, domain.ErrorResult(cause))
		return
	}

	if !reply.OK {
		w.complete(req, domain.ErrorResult(reply.Cause))
		return
	}

	w.complete(req, domain.SuccessResult(string(reply.Result)))
}

// release restores the capacity admit reserved and re-arms the idle
// eviction timer if the worker has gone quiet.
func (w *Worker) release(req *domain.JudgeRequest) {
	w.mu.Lock()
	w.freeCPU += req.CPUs
	w.freeMemoryMB += req.MemoryMB
	w.busy--
	idle := w.busy == 0 && len(w.queue) == 0
	w.mu.Unlock()

	w.cond.Broadcast()
	if idle {
		w.armIdleTimer()
	}
}

// recoverInternal converts a panic during execution into a
// judge_internal_error result instead of crashing the worker loop, so that
// every path through execute signals the rendezvous (I4).
func (w *Worker) recoverInternal(req *domain.JudgeRequest) {
	if r := recover(); r != nil {
		logging.Op().Error("panic during request execution", "panic", r)
		req.Completion.Signal(domain.ErrorResult(domain.CauseInternalError))
		metrics.RecordRequestCompleted(w.profile.Name, "error")
	}
}

func (w *Worker) complete(req *domain.JudgeRequest, result domain.JudgeResult) {
	req.Completion.Signal(result)
	outcome := "success"
	if !result.IsSuccess() {
		outcome = "error"
	}
	metrics.RecordRequestCompleted(w.profile.Name, outcome)
}

// armIdleTimer starts (or restarts) the idle-eviction countdown. Called
// only when the worker has just become not-busy. A MaxVMIdle of zero fires
// immediately; NoDownSizing suppresses eviction entirely.
func (w *Worker) armIdleTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.noDownSizing || w.onIdleExpire == nil {
		return
	}
	w.stopIdleTimerLocked()
	if w.maxVMIdle <= 0 {
		go w.onIdleExpire(w)
		return
	}
	w.idleTimer = time.AfterFunc(w.maxVMIdle, func() {
		w.mu.Lock()
		hook := w.onIdleExpire
		w.mu.Unlock()
		if hook != nil {
			hook(w)
		}
	})
}

// stopIdleTimerLocked cancels any pending idle-eviction timer. Must be
// called with w.mu held.
func (w *Worker) stopIdleTimerLocked() {
	if w.idleTimer != nil {
		w.idleTimer.Stop()
		w.idleTimer = nil
	}
}

// Package vmworker implements the per-VM scheduling unit: one Worker owns
// exactly one VM's capacity and, once live, one runner connection.
//
// # Design rationale
//
// Each VM is expensive to provision and cheap to keep warm, so a Worker is
// built in two stages. It is born *dormant*, sized to the request that
// triggered its provisioning, with no VM handle and no runner connection.
// Once a matching physical VM's runner connects, the owning VMSSManager's
// discovery pass binds the Worker to it — rewriting its capacity to the
// VM's measured, overhead-adjusted size — and flips it live. From that
// point on the Worker behaves identically regardless of how it was born.
//
// # Concurrency model
//
// A single mutex guards free_cpu, free_memory, idle_count and the FIFO
// submission queue; it is held only for the in-memory bookkeeping, never
// across a runner round-trip. admit is the one critical section that both
// decrements idle_count and reserves capacity for a request the worker loop
// has already dequeued; since the worker loop is the only place capacity is
// reserved, free capacity can only grow between the loop's capacity check
// and admit. A condition variable bound to the same mutex wakes the worker
// loop's dequeue when the queue gains a request or the worker dies; the
// wait for free capacity polls at capacityPollInterval. A dormancy gate (a
// channel closed exactly once) wakes the loop when the worker transitions
// from dormant to live.
//
// # Invariants
//
//   - 0 <= free_cpu <= total_cpu and 0 <= free_memory <= total_memory at all times.
//   - 0 <= idle_count <= maxIdle at all times.
//   - Capacity subtracted on admission is restored exactly on completion.
//
// # Failure behaviour
//
// No execution path may return without signaling the request's completion
// rendezvous: a missing or failed runner channel yields
// domain.CauseRunnerUnreachable, a runner-reported failure propagates the
// runner's own cause string verbatim, and any unexpected internal error
// yields domain.CauseInternalError. Every path restores the reserved
// capacity before returning.
package vmworker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/cloudfacade"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/logging"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/metrics"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/registry"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/runner"
)

// ErrIdleQueueFull is returned by Submit when idle_count has already
// reached maxIdle; the caller should have consulted HasIdleSlot first.
var ErrIdleQueueFull = errors.New("vmworker: idle queue full")

// State is a VMWorker's position in the dormant -> live -> dead lifecycle.
type State int32

const (
	Dormant State = iota
	Live
	Dead
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "dormant"
	case Live:
		return "live"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// HealthCheckTimeout bounds how long a CHECK command may take before the
// worker is considered unresponsive.
const HealthCheckTimeout = 3 * time.Second

// capacityPollInterval is the granularity at which the worker loop re-polls
// for free capacity once a dequeued request cannot yet be admitted.
const capacityPollInterval = time.Second

// Worker owns one VM's capacity and, once live, its runner channel.
type Worker struct {
	mu   sync.Mutex
	cond *sync.Cond

	state State

	profile  domain.MachineProfile
	vmssName string
	vm       cloudfacade.VM
	machineName string

	totalCPU, totalMemoryMB int
	freeCPU, freeMemoryMB   int

	queue     []*domain.JudgeRequest
	idleCount int
	maxIdle   int

	busy int // number of executions currently in flight

	liveGate chan struct{}
	liveOnce sync.Once

	registry *registry.RunnerRegistry

	idleTimer    *time.Timer
	maxVMIdle    time.Duration
	noDownSizing bool
	onIdleExpire func(w *Worker)

	dead bool
}

// NewDormantWorker constructs a Worker sized to the request that triggered
// its provisioning. It has no VM handle or runner connection until Bind is
// called by a discovery pass.
func NewDormantWorker(profile domain.MachineProfile, cpus, memoryMB, maxIdle int, reg *registry.RunnerRegistry, maxVMIdle time.Duration, noDownSizing bool) *Worker {
	w := &Worker{
		state:        Dormant,
		profile:      profile,
		totalCPU:     cpus,
		totalMemoryMB: memoryMB,
		freeCPU:      cpus,
		freeMemoryMB: memoryMB,
		maxIdle:      maxIdle,
		liveGate:     make(chan struct{}),
		registry:     reg,
		maxVMIdle:    maxVMIdle,
		noDownSizing: noDownSizing,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// NewLiveWorker constructs a Worker already bound to a physical VM whose
// runner has connected — the case where discovery finds a new VM with no
// dormant worker waiting to claim it.
func NewLiveWorker(profile domain.MachineProfile, vmssName string, vm cloudfacade.VM, machineName string, cpus, memoryMB, maxIdle int, reg *registry.RunnerRegistry, maxVMIdle time.Duration, noDownSizing bool) *Worker {
	w := NewDormantWorker(profile, cpus, memoryMB, maxIdle, reg, maxVMIdle, noDownSizing)
	w.vmssName = vmssName
	w.vm = vm
	w.machineName = machineName
	w.state = Live
	close(w.liveGate)
	w.liveOnce.Do(func() {})
	return w
}

// Bind rebinds a dormant worker to a discovered physical VM, overwriting
// its provisional sizing with the VM's measured, overhead-adjusted
// capacity, and releases any goroutine blocked in the worker loop's
// dormancy wait.
func (w *Worker) Bind(vmssName string, vm cloudfacade.VM, machineName string, cpus, memoryMB int) {
	w.mu.Lock()
	w.vmssName = vmssName
	w.vm = vm
	w.machineName = machineName
	w.totalCPU = cpus
	w.totalMemoryMB = memoryMB
	w.freeCPU = cpus
	w.freeMemoryMB = memoryMB
	w.state = Live
	w.mu.Unlock()

	w.liveOnce.Do(func() { close(w.liveGate) })
	w.cond.Broadcast()
	metrics.RecordVMCreated(w.profile.Name)
}

// LiveSignal returns the channel that closes exactly once the worker
// transitions from dormant to live, for callers that need to bound how
// long they wait for that transition (e.g. a provisioning timeout).
func (w *Worker) LiveSignal() <-chan struct{} {
	return w.liveGate
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// MachineName returns the bound runner's machine name, or "" if dormant.
func (w *Worker) MachineName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.machineName
}

// VM returns the bound VM handle. Only meaningful once live.
func (w *Worker) VM() cloudfacade.VM {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vm
}

// HasIdleSlot reports whether idle_count is currently below maxIdle.
func (w *Worker) HasIdleSlot() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idleCount < w.maxIdle
}

// HasCapacity reports whether the worker's free pools currently cover the
// given resource request.
func (w *Worker) HasCapacity(cpus, memoryMB int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.freeCPU >= cpus && w.freeMemoryMB >= memoryMB
}

// IsBusy reports whether the worker has any in-flight execution or any
// queued-but-not-yet-admitted request.
func (w *Worker) IsBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy > 0 || len(w.queue) > 0
}

// Submit enqueues req, incrementing idle_count under the worker's lock. It
// fails with ErrIdleQueueFull if idle_count has reached maxIdle by the time
// the lock is acquired, even if the caller observed HasIdleSlot() true
// moments earlier.
func (w *Worker) Submit(req *domain.JudgeRequest) error {
	w.mu.Lock()
	if w.idleCount >= w.maxIdle {
		w.mu.Unlock()
		return ErrIdleQueueFull
	}
	w.idleCount++
	w.queue = append(w.queue, req)
	w.stopIdleTimerLocked()
	w.mu.Unlock()

	w.cond.Broadcast()
	return nil
}

// SetIdleEvictionHook installs the callback the worker loop invokes when
// MaxVMIdle elapses with the worker not busy. The owning VMSSManager uses
// this to remove the worker from its table and request VM deletion.
func (w *Worker) SetIdleEvictionHook(fn func(w *Worker)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onIdleExpire = fn
}

// Profile returns the machine profile this worker belongs to.
func (w *Worker) Profile() domain.MachineProfile { return w.profile }

// VMSSName returns the name of the VMSS this worker's VM belongs to.
func (w *Worker) VMSSName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vmssName
}

// MarkDead transitions the worker to Dead and drains its queue, signaling
// every still-queued request with cause. Used both by a failed health
// check and by provisioning timeout.
func (w *Worker) MarkDead(cause string) {
	w.mu.Lock()
	w.state = Dead
	w.dead = true
	drained := w.queue
	w.queue = nil
	w.idleCount = 0
	w.mu.Unlock()

	w.cond.Broadcast()
	metrics.RecordVMMarkedDead(w.profile.Name)

	for _, req := range drained {
		req.Completion.Signal(domain.ErrorResult(cause))
		metrics.RecordRequestCompleted(w.profile.Name, "error")
	}
}

// HealthCheck sends a CHECK command with a 3-second timeout and reports
// whether the runner answered "ok" in time. Only meaningful once live; a
// dormant worker is trivially considered healthy (there is nothing to
// check yet).
func (w *Worker) HealthCheck(ctx context.Context) bool {
	machineName := w.MachineName()
	if machineName == "" {
		return true
	}
	ch, ok := w.registry.Get(machineName)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	if err := runner.Ping(ctx, ch); err != nil {
		logging.Op().Warn("worker health check failed", "machine_name", machineName, "error", err)
		return false
	}
	return true
}

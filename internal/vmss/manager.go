// Package vmss implements the per-machine-profile scheduling tier: a
// Manager owns every VMWorker provisioned for one VMSS, dispatches
// incoming requests onto them by first-fit, grows capacity and discovers
// newly-provisioned VMs, and reaps workers that fail a health check or sit
// idle past their budget.
//
// # Design rationale
//
// Placement is strictly live-before-dormant: a request only ever triggers
// a new VM when neither an already-running VM nor one already being
// provisioned can take it. This mirrors the source's JudgeVMSS.submit, but
// replaces its single capacity_lock serializing the whole add-capacity-then-
// retry sequence with a non-blocking path — grow_capacity runs in its own
// goroutine so the dispatcher loop is never stalled waiting on a cloud API
// round-trip plus a bounded discovery poll.
//
// # Concurrency model
//
// The workers map and dormant_workers queue are guarded by one mutex, held
// only for map/slice mutation and short iterations, never across a runner
// or cloud-façade call. The submission queue is a buffered channel; the
// dispatcher loop is the sole consumer, so FIFO order falls out of channel
// semantics for free.
//
// # Invariants
//
//   - Placement passes run live workers before dormant workers; live
//     workers are tried in map iteration order (not insertion order),
//     dormant workers in FIFO order; the first admissible worker wins.
//   - Provisioning triggers exactly once per unplaceable request: no
//     coalescing of concurrent grow_capacity calls is attempted, per spec.
//
// # Failure behaviour
//
// A cloud-façade failure inside growCapacity is logged and left in place:
// the dormant worker it was growing capacity for keeps its queued request,
// to be picked up by a later discovery pass. Discovery polling for a
// runner connection is bounded by PROVISION_TIMEOUT; on expiry the dormant
// worker is marked dead and its queue drained with Error("provisioning_timeout").
package vmss

import (
	"context"
	"sync"
	"time"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/cloudfacade"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/logging"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/metrics"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/registry"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/vmworker"
)

// Options configures a Manager's sizing and timing knobs, sourced from
// internal/config.SchedulerConfig.
type Options struct {
	MinCPUs               int
	MinMemoryMB           int
	MaxVMIdle             time.Duration
	NoDownSizing          bool
	ProvisionTimeout      time.Duration
	ProvisionPollInterval time.Duration
	MaxIdleQueue          int
}

// Manager owns every VMWorker provisioned under one VMSS — one Manager per
// MachineProfile.
type Manager struct {
	name    string
	profile domain.MachineProfile
	facade  cloudfacade.Facade
	registry *registry.RunnerRegistry
	opts    Options

	mu             sync.Mutex
	workers        map[string]*vmworker.Worker // VM name -> worker
	dormantWorkers []*vmworker.Worker          // FIFO
	tooSmallVMs    map[string]bool             // VM name -> permanently rejected as VMTooSmall

	submissionQueue chan *domain.JudgeRequest

	onEmpty func(m *Manager)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Manager bound to an already-existing VMSS handle
// (either freshly created or discovered at startup) and starts its
// dispatcher and discovery loops. The caller must eventually cancel the
// returned context (via Close) to stop them.
func New(parent context.Context, name string, profile domain.MachineProfile, facade cloudfacade.Facade, reg *registry.RunnerRegistry, opts Options) *Manager {
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		name:            name,
		profile:         profile,
		facade:          facade,
		registry:        reg,
		opts:            opts,
		workers:         make(map[string]*vmworker.Worker),
		tooSmallVMs:     make(map[string]bool),
		submissionQueue: make(chan *domain.JudgeRequest, 256),
		ctx:             ctx,
		cancel:          cancel,
	}

	m.wg.Add(2)
	go func() { defer m.wg.Done(); m.dispatchLoop() }()
	go func() { defer m.wg.Done(); m.discoveryLoop() }()

	return m
}

// Name returns the VMSS name this manager owns.
func (m *Manager) Name() string { return m.name }

// Close stops the dispatcher and discovery loops and waits for them to exit.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// SetEmptyHook installs the callback invoked after an idle eviction, a
// health-check reap, or a provisioning timeout leaves the manager's worker
// set, dormant queue, and submission queue all empty — the evaluator uses
// this to delete the VMSS and drop the manager,
// symmetric with per-VM idle eviction. Never fires when NoDownSizing is set.
func (m *Manager) SetEmptyHook(fn func(m *Manager)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEmpty = fn
}

// IsEmpty reports whether this manager currently owns no workers, no
// dormant workers, and has nothing queued.
func (m *Manager) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers) == 0 && len(m.dormantWorkers) == 0 && len(m.submissionQueue) == 0
}

// Quiesce deletes this manager's VMSS through the cloud façade and stops
// its loops. The caller (the evaluator) is responsible for removing the
// manager from its own table first.
func (m *Manager) Quiesce(ctx context.Context) error {
	m.Close()
	return m.facade.DeleteVMSS(ctx, m.name)
}

// checkEmptyAndNotify fires the empty hook, if any, once the manager has
// just lost its last worker. A freshly constructed manager mid-provisioning
// is never considered empty by this path — it is only called from the
// eviction/reap/timeout sites below, never from New. The hook runs on its
// own goroutine: it may call Quiesce, which calls Close, which waits on
// m.wg — and checkEmptyAndNotify can be invoked from a goroutine that is a
// member of m.wg (discoveryLoop's health sweep), so running it inline would
// deadlock Close.
func (m *Manager) checkEmptyAndNotify() {
	if m.opts.NoDownSizing {
		return
	}
	hook := func() func(*Manager) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.onEmpty
	}()
	if hook == nil || !m.IsEmpty() {
		return
	}
	go hook(m)
}

// Submit enqueues req onto this manager's submission queue. The caller
// (the Evaluator's dispatcher) has already matched req's machine profile
// to this manager.
func (m *Manager) Submit(req *domain.JudgeRequest) {
	select {
	case m.submissionQueue <- req:
	case <-m.ctx.Done():
		req.Completion.Signal(domain.ErrorResult(domain.CauseInternalError))
	}
	metrics.RecordRequestSubmitted(m.profile.Name)
}

// dispatchLoop owns the per-VMSS submission queue: each dequeued request
// runs the live-then-dormant placement passes, provisioning a new dormant
// worker only if neither pass could place it.
func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case req := <-m.submissionQueue:
			m.place(req)
		}
	}
}

func (m *Manager) place(req *domain.JudgeRequest) {
	start := time.Now()
	defer m.updateGauges()

	if w := m.placeOnLive(req); w != nil {
		metrics.ObserveDispatchLatency(m.profile.Name, "live", time.Since(start).Seconds())
		return
	}
	if w := m.placeOnDormant(req); w != nil {
		metrics.ObserveDispatchLatency(m.profile.Name, "dormant", time.Since(start).Seconds())
		return
	}
	m.provision(req)
}

// updateGauges refreshes the per-profile queue-depth and live/dormant
// worker count gauges. Called after any placement or membership change.
func (m *Manager) updateGauges() {
	m.mu.Lock()
	live := len(m.workers)
	dormant := len(m.dormantWorkers)
	m.mu.Unlock()

	metrics.SetQueueDepth(m.profile.Name, len(m.submissionQueue))
	metrics.SetLiveWorkers(m.profile.Name, live)
	metrics.SetDormantWorkers(m.profile.Name, dormant)
}

// placeOnLive runs the live-worker placement pass: the first worker with
// either free capacity or an idle slot wins.
func (m *Manager) placeOnLive(req *domain.JudgeRequest) *vmworker.Worker {
	m.mu.Lock()
	candidates := make([]*vmworker.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		candidates = append(candidates, w)
	}
	m.mu.Unlock()

	for _, w := range candidates {
		if w.State() != vmworker.Live {
			continue
		}
		if w.HasCapacity(req.CPUs, req.MemoryMB) || w.HasIdleSlot() {
			if err := w.Submit(req); err == nil {
				return w
			}
		}
	}
	return nil
}

// placeOnDormant runs the dormant-worker placement pass in FIFO order.
// Capacity is by construction sufficient for a dormant worker's own
// progenitor request; only idle-slot availability gates later requests.
func (m *Manager) placeOnDormant(req *domain.JudgeRequest) *vmworker.Worker {
	m.mu.Lock()
	candidates := make([]*vmworker.Worker, len(m.dormantWorkers))
	copy(candidates, m.dormantWorkers)
	m.mu.Unlock()

	for _, w := range candidates {
		if w.State() != vmworker.Dormant {
			continue
		}
		if w.HasIdleSlot() {
			if err := w.Submit(req); err == nil {
				return w
			}
		}
	}
	return nil
}

// provision creates a new dormant worker sized to req, enqueues req onto
// it, pushes it onto dormant_workers, and fires growCapacity
// asynchronously — exactly once per unplaceable request, with no
// coalescing of concurrent grow attempts.
func (m *Manager) provision(req *domain.JudgeRequest) {
	w := vmworker.NewDormantWorker(m.profile, req.CPUs, req.MemoryMB, m.opts.MaxIdleQueue, m.registry, m.opts.MaxVMIdle, m.opts.NoDownSizing)
	w.SetIdleEvictionHook(m.evictIdleWorker)

	if err := w.Submit(req); err != nil {
		// A brand-new worker's idle queue cannot be full; this only
		// happens if MaxIdleQueue is misconfigured to zero.
		logging.Op().Error("failed to submit progenitor request onto new dormant worker", "error", err)
		req.Completion.Signal(domain.ErrorResult(domain.CauseInternalError))
		return
	}

	m.mu.Lock()
	m.dormantWorkers = append(m.dormantWorkers, w)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() { defer m.wg.Done(); w.Run(m.ctx) }()

	start := time.Now()
	go m.growCapacity()
	go m.awaitProvisioning(w, start)
}

// growCapacity reads the VMSS's current capacity, increases it by one
// through the cloud façade, then runs a discovery pass. A façade failure
// is logged and swallowed: the dormant worker it was growing capacity for
// keeps its queued request for a later discovery pass to pick up.
func (m *Manager) growCapacity() {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.ProvisionTimeout)
	defer cancel()

	current, err := m.facade.GetVMSS(ctx, m.name)
	if err != nil {
		logging.Op().Warn("grow_capacity: failed to read vmss", "vmss", m.name, "error", err)
		return
	}
	if err := m.facade.SetCapacity(ctx, m.name, current.Capacity+1); err != nil {
		logging.Op().Warn("grow_capacity: failed to set capacity", "vmss", m.name, "error", err)
		return
	}

	m.discover(ctx)
}

// awaitProvisioning bounds how long a freshly provisioned dormant worker
// may wait for a physical VM to bind to it. Discovery passes run
// independently (on the ticker and right after growCapacity); this
// goroutine only enforces the timeout and records how long provisioning
// took once the worker goes live.
func (m *Manager) awaitProvisioning(w *vmworker.Worker, start time.Time) {
	timer := time.NewTimer(m.opts.ProvisionTimeout)
	defer timer.Stop()

	select {
	case <-w.LiveSignal():
		metrics.ObserveProvisionLatency(m.profile.Name, time.Since(start).Seconds())
		return
	case <-timer.C:
		m.mu.Lock()
		m.removeDormantLocked(w)
		m.mu.Unlock()
		logging.Op().Warn("provisioning timed out", "profile", m.profile.Name)
		metrics.RecordProvisionTimeout(m.profile.Name)
		w.MarkDead(domain.CauseProvisionTimeout)
		m.checkEmptyAndNotify()
	case <-m.ctx.Done():
	}
}

func (m *Manager) removeDormantLocked(target *vmworker.Worker) {
	for i, w := range m.dormantWorkers {
		if w == target {
			m.dormantWorkers = append(m.dormantWorkers[:i], m.dormantWorkers[i+1:]...)
			return
		}
	}
}

// evictIdleWorker is the hook a Worker calls when its idle timer expires.
// It removes the worker from the live table and asks the cloud façade to
// delete its VM, non-blocking.
func (m *Manager) evictIdleWorker(w *vmworker.Worker) {
	m.mu.Lock()
	vmName := w.VM().Name
	delete(m.workers, vmName)
	m.mu.Unlock()

	logging.Op().Info("evicting idle worker", "vm", vmName, "profile", m.profile.Name)
	metrics.RecordIdleEviction(m.profile.Name)
	metrics.RecordVMDestroyed(m.profile.Name, "idle_evicted")
	m.updateGauges()
	m.checkEmptyAndNotify()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.facade.DeleteVM(ctx, m.name, w.VM().ID); err != nil {
			logging.Op().Warn("failed to delete idle vm", "vm", vmName, "error", err)
		}
	}()
}

package vmss

import (
	"context"
	"time"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/cloudfacade"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/logging"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/metrics"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/vmworker"
)

// discoveryLoop runs refresh_workers on a fixed tick — ProvisionPollInterval
// by default, satisfying the "poll at 1-second granularity" floor — and
// additionally wakes early whenever the registry's Notifier reports a
// runner connect, so a freshly connected VM is adopted without waiting out
// the rest of the current tick. A missed or coalesced notification is never
// fatal: the next tick re-checks regardless.
func (m *Manager) discoveryLoop() {
	interval := m.opts.ProvisionPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	connected := m.registry.Subscribe()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.discover(m.ctx)
		case <-connected:
			m.discover(m.ctx)
		}
	}
}

// discover is one refresh_workers pass: adopt any physical VM not already
// in workers, then sweep the existing worker table for failed health checks.
func (m *Manager) discover(ctx context.Context) {
	vms, err := m.facade.ListVMs(ctx, m.name)
	if err != nil {
		logging.Op().Warn("discovery: failed to list vms", "vmss", m.name, "error", err)
	} else {
		for _, vm := range vms {
			m.mu.Lock()
			_, known := m.workers[vm.Name]
			tooSmall := m.tooSmallVMs[vm.Name]
			m.mu.Unlock()
			if known || tooSmall {
				continue
			}
			m.adoptVM(ctx, vm)
		}
	}

	m.healthSweep(ctx)
}

// adoptVM implements refresh_workers steps a-d for a single VM not yet in
// workers: resolve its machine name, wait (by virtue of being retried every
// tick) for its runner to connect, measure its overhead-adjusted size, bind
// it to the head of dormant_workers or construct a fresh live worker, and
// install it.
func (m *Manager) adoptVM(ctx context.Context, vm cloudfacade.VM) {
	machineName, err := m.facade.GetVMMachineName(ctx, m.name, vm.ID)
	if err != nil {
		logging.Op().Warn("discovery: failed to resolve machine name", "vm", vm.Name, "error", err)
		return
	}
	if !m.registry.IsConnected(machineName) {
		return
	}

	rawCPU, rawMemoryMB, err := m.facade.GetVMSize(ctx, m.name, vm.ID)
	if err != nil {
		logging.Op().Warn("discovery: failed to query vm size", "vm", vm.Name, "error", err)
		return
	}

	cpus := rawCPU - m.opts.MinCPUs
	memoryMB := rawMemoryMB - m.opts.MinMemoryMB
	if cpus <= 0 || memoryMB <= 0 {
		logging.Op().Error("vm too small after overhead", "vm", vm.Name, "raw_cpu", rawCPU, "raw_memory_mb", rawMemoryMB)
		metrics.RecordVMTooSmall(m.profile.Name)
		m.mu.Lock()
		m.tooSmallVMs[vm.Name] = true
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	var w *vmworker.Worker
	if len(m.dormantWorkers) > 0 {
		w = m.dormantWorkers[0]
		m.dormantWorkers = m.dormantWorkers[1:]
	}
	m.mu.Unlock()

	if w != nil {
		w.Bind(m.name, vm, machineName, cpus, memoryMB)
	} else {
		w = vmworker.NewLiveWorker(m.profile, m.name, vm, machineName, cpus, memoryMB, m.opts.MaxIdleQueue, m.registry, m.opts.MaxVMIdle, m.opts.NoDownSizing)
		w.SetIdleEvictionHook(m.evictIdleWorker)
		m.wg.Add(1)
		go func() { defer m.wg.Done(); w.Run(m.ctx) }()
	}

	m.mu.Lock()
	m.workers[vm.Name] = w
	m.mu.Unlock()

	logging.Op().Info("adopted vm", "vm", vm.Name, "machine_name", machineName, "profile", m.profile.Name, "cpus", cpus, "memory_mb", memoryMB)
	m.updateGauges()
}

// healthSweep checks every live worker's health_check and reaps the ones
// that fail.
func (m *Manager) healthSweep(ctx context.Context) {
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
		if !w.HealthCheck(ctx) {
			m.reapWorker(w)
		}
	}
}

// reapWorker removes a failed-health-check worker from the table, drains
// its queue via MarkDead, and asks the cloud façade to delete its VM,
// non-blocking.
func (m *Manager) reapWorker(w *vmworker.Worker) {
	m.mu.Lock()
	vmName := w.VM().Name
	vmID := w.VM().ID
	delete(m.workers, vmName)
	m.mu.Unlock()

	logging.Op().Warn("worker failed health check, marking dead", "vm", vmName, "profile", m.profile.Name)
	w.MarkDead(domain.CauseRunnerUnreachable)
	metrics.RecordVMDestroyed(m.profile.Name, "health_check_failed")
	m.updateGauges()
	m.checkEmptyAndNotify()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.facade.DeleteVM(ctx, m.name, vmID); err != nil {
			logging.Op().Warn("failed to delete unhealthy vm", "vm", vmName, "error", err)
		}
	}()
}

// Package evaluator implements the top-level entry point for the judge
// queuer: submit a request, get back its completed result. It owns one
// vmss.Manager per machine profile, creating a VMSS on first sight of a
// profile and deleting it again once that manager reports itself empty.
//
// # Design rationale
//
// This mirrors the source's AzureEvaluator: the dispatcher goroutine is the
// only one that adds managers after startup (Initialize adds the recovered
// ones before traffic), and the empty hook is the only path that removes
// one; every access to the managers map goes through one mutex, held only
// for the map operation itself. The bulk of the scheduling logic — placement,
// provisioning, discovery, eviction — lives one layer down in vmss.Manager;
// the Evaluator's job is just routing and VMSS lifecycle.
//
// # Concurrency
//
// Submit assigns the request's ID with an atomic counter, without touching
// the managers map, then hands the request to the dispatcher queue and
// blocks the caller on the request's own completion rendezvous — never on
// the dispatcher loop itself, so many callers may be in Submit
// concurrently.
package evaluator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/cloudfacade"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/logging"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/registry"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/vmss"
)

// vmssNamePrefix is the deterministic naming convention the evaluator uses
// when it provisions a VMSS for a profile it has not seen before.
const vmssNamePrefix = "benchlab_judge_"

// provisionDeleteTimeout bounds the DeleteVMSS call issued once a manager
// reports itself empty.
const provisionDeleteTimeout = 30 * time.Second

func deterministicVMSSName(profile domain.MachineProfile) string {
	return vmssNamePrefix + profile.Name
}

// Evaluator is the queuer's single entry point: Submit in, a completed
// domain.JudgeResult out.
type Evaluator struct {
	facade   cloudfacade.Facade
	registry *registry.RunnerRegistry
	opts     vmss.Options

	mu       sync.Mutex
	managers map[domain.MachineProfile]*vmss.Manager

	nextID int64

	queue chan *domain.JudgeRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Evaluator and starts its dispatcher loop. Call
// Initialize once, before accepting traffic, to seed managers from any
// VMSSs already provisioned; Close stops the dispatcher and every manager
// it owns.
func New(parent context.Context, facade cloudfacade.Facade, reg *registry.RunnerRegistry, opts vmss.Options) *Evaluator {
	ctx, cancel := context.WithCancel(parent)
	e := &Evaluator{
		facade:   facade,
		registry: reg,
		opts:     opts,
		managers: make(map[domain.MachineProfile]*vmss.Manager),
		queue:    make(chan *domain.JudgeRequest, 1024),
		ctx:      ctx,
		cancel:   cancel,
	}

	e.wg.Add(1)
	go func() { defer e.wg.Done(); e.dispatchLoop() }()

	return e
}

// Initialize queries the cloud façade for every existing VMSS and builds
// one manager per discovered scale set, keyed by its machine profile. Must
// be called once at startup, before Submit is used, and only while no
// other goroutine touches the managers map.
func (e *Evaluator) Initialize(ctx context.Context) error {
	existing, err := e.facade.ListVMSS(ctx)
	if err != nil {
		return fmt.Errorf("evaluator: failed to list existing vmss: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range existing {
		if _, ok := e.managers[v.Profile]; ok {
			logging.Op().Warn("multiple vmss discovered for the same profile, keeping the first", "profile", v.Profile.Name, "vmss", v.Name)
			continue
		}
		e.newManagerLocked(v.Name, v.Profile)
		logging.Op().Info("recovered existing vmss", "vmss", v.Name, "profile", v.Profile.Name)
	}
	return nil
}

// Close stops the dispatcher loop and every manager it owns.
func (e *Evaluator) Close() {
	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	managers := make([]*vmss.Manager, 0, len(e.managers))
	for _, m := range e.managers {
		managers = append(managers, m)
	}
	e.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}

// Submit assigns req its monotonic ID, enqueues it on the dispatcher, and
// blocks until the request completes.
func (e *Evaluator) Submit(req *domain.JudgeRequest) domain.JudgeResult {
	req.ID = atomic.AddInt64(&e.nextID, 1)

	select {
	case e.queue <- req:
	case <-e.ctx.Done():
		req.Completion.Signal(domain.ErrorResult(domain.CauseInternalError))
		return req.Result()
	}

	return req.Result()
}

// dispatchLoop is the only goroutine that adds managers after startup: for
// each dequeued request, forward to the existing manager for its profile,
// or provision a fresh VMSS and manager under the deterministic name.
func (e *Evaluator) dispatchLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case req := <-e.queue:
			e.route(req)
		}
	}
}

func (e *Evaluator) route(req *domain.JudgeRequest) {
	e.mu.Lock()
	m, ok := e.managers[req.MachineProfile]
	e.mu.Unlock()

	if !ok {
		var err error
		m, err = e.provisionManager(req.MachineProfile)
		if err != nil {
			logging.Op().Error("failed to provision vmss for profile", "profile", req.MachineProfile.Name, "error", err)
			req.Completion.Signal(domain.ErrorResult(domain.CauseProvisionFailed))
			return
		}
	}

	m.Submit(req)
}

// provisionManager creates a new VMSS through the cloud façade under the
// deterministic name and installs a manager for it. Re-checks the map
// under lock in case a concurrent route call raced to the same profile.
func (e *Evaluator) provisionManager(profile domain.MachineProfile) (*vmss.Manager, error) {
	e.mu.Lock()
	if m, ok := e.managers[profile]; ok {
		e.mu.Unlock()
		return m, nil
	}
	e.mu.Unlock()

	name := deterministicVMSSName(profile)
	v, err := e.facade.CreateVMSS(e.ctx, name, profile)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.managers[profile]; ok {
		return m, nil
	}
	m := e.newManagerLocked(v.Name, profile)
	logging.Op().Info("created vmss", "vmss", v.Name, "profile", profile.Name)
	return m, nil
}

// newManagerLocked constructs and installs a manager for profile. Callers
// must hold e.mu.
func (e *Evaluator) newManagerLocked(vmssName string, profile domain.MachineProfile) *vmss.Manager {
	m := vmss.New(e.ctx, vmssName, profile, e.facade, e.registry, e.opts)
	m.SetEmptyHook(e.onManagerEmpty)
	e.managers[profile] = m
	return m
}

// onManagerEmpty is the hook a vmss.Manager invokes once it has no workers,
// no dormant workers, and nothing queued. It deletes the VMSS and drops
// the manager from the table, mirroring per-VM idle eviction one level up.
func (e *Evaluator) onManagerEmpty(m *vmss.Manager) {
	e.mu.Lock()
	var profile domain.MachineProfile
	found := false
	for p, candidate := range e.managers {
		if candidate == m {
			profile, found = p, true
			break
		}
	}
	if found {
		delete(e.managers, profile)
	}
	e.mu.Unlock()

	if !found {
		return
	}

	logging.Op().Info("vmss quiesced, deleting", "vmss", m.Name(), "profile", profile.Name)
	ctx, cancel := context.WithTimeout(context.Background(), provisionDeleteTimeout)
	defer cancel()
	if err := m.Quiesce(ctx); err != nil {
		logging.Op().Warn("failed to delete quiesced vmss", "vmss", m.Name(), "error", err)
	}
}

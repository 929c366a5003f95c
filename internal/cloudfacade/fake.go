package cloudfacade

import (
	"context"
	"fmt"
	"sync"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
)

// fakeVM tracks the state the production façade would query piecemeal
// (size, machine name, deletion) as plain fields, since the fake has
// no real provisioning delay to hide.
type fakeVM struct {
	vm          VM
	cpus        int
	memoryMB    int
	machineName string
	deleted     bool
}

// Fake is an in-memory Facade for scheduler tests. It never blocks, and it
// fails only with ErrNotFound for an unknown scale set or instance or when
// CreateVMSS is given a name already in use, so tests can exercise
// provisioning, placement, and eviction paths deterministically.
type Fake struct {
	mu sync.Mutex

	vmss map[string]*VMSS
	vms  map[string][]*fakeVM // vmssName -> instances, insertion order preserved

	nextInstanceID int

	// CreateVMSSFunc, when set, is invoked by CreateVMSS with the new scale
	// set's handle before it is returned, while the fake's lock is held, so
	// a test can adjust fields such as Capacity.
	CreateVMSSFunc func(vmss *VMSS)

	// OnSetCapacity, when set, is invoked after capacity is recorded,
	// letting a test append fake instances to simulate the cloud
	// provider's asynchronous scale-out.
	OnSetCapacity func(f *Fake, vmssName string, capacity int)
}

// NewFake returns an empty Fake facade.
func NewFake() *Fake {
	return &Fake{
		vmss: make(map[string]*VMSS),
		vms:  make(map[string][]*fakeVM),
	}
}

func (f *Fake) ListVMSS(ctx context.Context) ([]VMSS, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]VMSS, 0, len(f.vmss))
	for _, v := range f.vmss {
		out = append(out, *v)
	}
	return out, nil
}

func (f *Fake) CreateVMSS(ctx context.Context, name string, profile domain.MachineProfile) (VMSS, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.vmss[name]; exists {
		return VMSS{}, fmt.Errorf("cloudfacade: vmss %q already exists", name)
	}
	v := &VMSS{Name: name, Profile: profile, Capacity: 0}
	f.vmss[name] = v
	f.vms[name] = nil
	if f.CreateVMSSFunc != nil {
		f.CreateVMSSFunc(v)
	}
	return *v, nil
}

func (f *Fake) GetVMSS(ctx context.Context, name string) (VMSS, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vmss[name]
	if !ok {
		return VMSS{}, ErrNotFound
	}
	return *v, nil
}

func (f *Fake) DeleteVMSS(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.vmss[name]; !ok {
		return ErrNotFound
	}
	delete(f.vmss, name)
	delete(f.vms, name)
	return nil
}

func (f *Fake) ListVMs(ctx context.Context, vmssName string) ([]VM, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	instances, ok := f.vms[vmssName]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]VM, 0, len(instances))
	for _, inst := range instances {
		if !inst.deleted {
			out = append(out, inst.vm)
		}
	}
	return out, nil
}

func (f *Fake) GetVM(ctx context.Context, vmssName, vmID string) (VM, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.find(vmssName, vmID)
	if inst == nil {
		return VM{}, ErrNotFound
	}
	return inst.vm, nil
}

func (f *Fake) GetVMSize(ctx context.Context, vmssName, vmID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.find(vmssName, vmID)
	if inst == nil {
		return 0, 0, ErrNotFound
	}
	return inst.cpus, inst.memoryMB, nil
}

func (f *Fake) GetVMMachineName(ctx context.Context, vmssName, vmID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.find(vmssName, vmID)
	if inst == nil {
		return "", ErrNotFound
	}
	return inst.machineName, nil
}

func (f *Fake) SetCapacity(ctx context.Context, vmssName string, capacity int) error {
	f.mu.Lock()
	v, ok := f.vmss[vmssName]
	if !ok {
		f.mu.Unlock()
		return ErrNotFound
	}
	v.Capacity = capacity
	hook := f.OnSetCapacity
	f.mu.Unlock()

	if hook != nil {
		hook(f, vmssName, capacity)
	}
	return nil
}

func (f *Fake) DeleteVM(ctx context.Context, vmssName, vmID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.find(vmssName, vmID)
	if inst == nil {
		return ErrNotFound
	}
	inst.deleted = true
	if v, ok := f.vmss[vmssName]; ok && v.Capacity > 0 {
		v.Capacity--
	}
	return nil
}

func (f *Fake) find(vmssName, vmID string) *fakeVM {
	for _, inst := range f.vms[vmssName] {
		if inst.vm.ID == vmID && !inst.deleted {
			return inst
		}
	}
	return nil
}

// AddInstance appends a new fake instance to vmssName (registering its
// runner is left to the caller) —
// the test-side equivalent of the cloud provider finishing a scale-out and
// the discovery pass later seeing it show up in ListVMs.
func (f *Fake) AddInstance(vmssName string, cpus, memoryMB int, machineName string) VM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextInstanceID++
	vm := VM{
		ID:   fmt.Sprintf("%d", f.nextInstanceID),
		Name: fmt.Sprintf("%s_%d", vmssName, f.nextInstanceID),
	}
	f.vms[vmssName] = append(f.vms[vmssName], &fakeVM{
		vm:          vm,
		cpus:        cpus,
		memoryMB:    memoryMB,
		machineName: machineName,
	})
	return vm
}

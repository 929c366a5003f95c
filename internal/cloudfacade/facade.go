// Package cloudfacade defines the boundary between the scheduler and the
// cloud control plane that actually provisions VMSS capacity. Treated as an
// out-of-scope collaborator: the real binding (Azure, or any other cloud)
// is never implemented here — only the async, context-based interface the
// scheduler depends on, plus a deterministic in-memory fake for tests.
package cloudfacade

import (
	"context"
	"errors"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
)

// ErrNotFound is returned by Get* methods when the named VMSS or VM does
// not exist.
var ErrNotFound = errors.New("cloudfacade: not found")

// VMSS is an opaque handle to a provisioned scale set: one per machine
// profile, named deterministically by the evaluator.
type VMSS struct {
	Name     string
	Profile  domain.MachineProfile
	Capacity int
}

// VM is an opaque handle to a single scale-set instance. ID is the
// provider's instance identifier, the one the per-instance calls
// (GetVM, GetVMSize, GetVMMachineName, DeleteVM) take; Name is the VM
// resource name, which the scheduler keys its workers by.
type VM struct {
	ID   string
	Name string
}

// Facade is the scheduler's view of the cloud control plane: list/create/
// get/delete scale sets, list/get their VMs, query a VM's effective size,
// its bound runner machine name, grow capacity, and delete a single
// instance. Every method is context-bound since all of them are backed by
// long-running cloud operations.
type Facade interface {
	ListVMSS(ctx context.Context) ([]VMSS, error)
	CreateVMSS(ctx context.Context, name string, profile domain.MachineProfile) (VMSS, error)
	GetVMSS(ctx context.Context, name string) (VMSS, error)
	DeleteVMSS(ctx context.Context, name string) error

	ListVMs(ctx context.Context, vmssName string) ([]VM, error)
	GetVM(ctx context.Context, vmssName, vmID string) (VM, error)

	// GetVMSize returns the raw (unadjusted for overhead) CPU and memory-MB
	// capacity of the named instance.
	GetVMSize(ctx context.Context, vmssName, vmID string) (cpus, memoryMB int, err error)

	// GetVMMachineName returns the computer name the instance was
	// provisioned with — the identity a connecting runner presents on its
	// INFO reply, and the key the discovery pass binds a dormant worker to.
	GetVMMachineName(ctx context.Context, vmssName, vmID string) (string, error)

	SetCapacity(ctx context.Context, vmssName string, capacity int) error
	DeleteVM(ctx context.Context, vmssName, vmID string) error
}

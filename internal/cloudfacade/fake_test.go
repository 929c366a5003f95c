package cloudfacade

import (
	"context"
	"testing"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
)

func TestFakeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	profile := domain.MachineProfile{Name: "Standard_B1s", Tier: "Standard"}

	vmss, err := f.CreateVMSS(ctx, "benchlab_judge_Standard_B1s", profile)
	if err != nil {
		t.Fatal(err)
	}
	if vmss.Capacity != 0 {
		t.Fatalf("new vmss capacity = %d, want 0", vmss.Capacity)
	}

	if err := f.SetCapacity(ctx, vmss.Name, 1); err != nil {
		t.Fatal(err)
	}
	vm := f.AddInstance(vmss.Name, 4, 2048, "m1")

	vms, err := f.ListVMs(ctx, vmss.Name)
	if err != nil {
		t.Fatal(err)
	}
	if len(vms) != 1 || vms[0].ID != vm.ID {
		t.Fatalf("ListVMs = %+v, want single instance %+v", vms, vm)
	}

	cpus, mem, err := f.GetVMSize(ctx, vmss.Name, vm.ID)
	if err != nil || cpus != 4 || mem != 2048 {
		t.Fatalf("GetVMSize = (%d,%d,%v), want (4,2048,nil)", cpus, mem, err)
	}

	name, err := f.GetVMMachineName(ctx, vmss.Name, vm.ID)
	if err != nil || name != "m1" {
		t.Fatalf("GetVMMachineName = (%q,%v), want (m1,nil)", name, err)
	}

	if err := f.DeleteVM(ctx, vmss.Name, vm.ID); err != nil {
		t.Fatal(err)
	}
	vms, err = f.ListVMs(ctx, vmss.Name)
	if err != nil {
		t.Fatal(err)
	}
	if len(vms) != 0 {
		t.Fatalf("ListVMs after delete = %+v, want empty", vms)
	}
}

func TestFakeGetNotFound(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	if _, err := f.GetVMSS(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

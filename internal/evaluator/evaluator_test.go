package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/cloudfacade"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/registry"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/runner"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/vmss"
)

func testOpts() vmss.Options {
	return vmss.Options{
		MinCPUs:               1,
		MinMemoryMB:           512,
		MaxVMIdle:             60 * time.Second,
		NoDownSizing:          false,
		ProvisionTimeout:      2 * time.Second,
		ProvisionPollInterval: 20 * time.Millisecond,
		MaxIdleQueue:          3,
	}
}

func submitAndWait(t *testing.T, e *Evaluator, req *domain.JudgeRequest, timeout time.Duration) domain.JudgeResult {
	t.Helper()
	resultCh := make(chan domain.JudgeResult, 1)
	go func() { resultCh <- e.Submit(req) }()
	select {
	case r := <-resultCh:
		return r
	case <-time.After(timeout):
		t.Fatal("submit never returned")
		return domain.JudgeResult{}
	}
}

// S2: no VMSS exists yet for the profile, submit triggers creation.
func TestSubmitProvisionsNewVMSSOnFirstSight(t *testing.T) {
	facade := cloudfacade.NewFake()
	reg := registry.New(nil)

	facade.OnSetCapacity = func(f *cloudfacade.Fake, vmssName string, capacity int) {
		f.AddInstance(vmssName, 4, 2048, "m1")
		reg.Register("m1", runner.NewFakeChannel("m1"))
	}

	e := New(context.Background(), facade, reg, testOpts())
	t.Cleanup(e.Close)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	profile := domain.MachineProfile{Name: "Standard_B1s", Tier: "Standard"}
	req := domain.NewJudgeRequest(domain.Submission{}, profile, 2, 1024, nil, nil)

	result := submitAndWait(t, e, req, 3*time.Second)
	if !result.IsSuccess() {
		cause, _ := result.Cause()
		t.Fatalf("expected success, got error %q", cause)
	}

	vmsses, err := facade.ListVMSS(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(vmsses) != 1 || vmsses[0].Name != "benchlab_judge_"+profile.Name {
		t.Fatalf("expected one vmss named with the deterministic prefix, got %+v", vmsses)
	}
}

// Initialize must recover a pre-existing VMSS for a profile instead of
// creating a duplicate one on first submit.
func TestInitializeRecoversExistingVMSS(t *testing.T) {
	facade := cloudfacade.NewFake()
	reg := registry.New(nil)
	profile := domain.MachineProfile{Name: "Standard_B1s", Tier: "Standard"}

	facade.CreateVMSS(context.Background(), "preexisting-vmss", profile)
	vm := facade.AddInstance("preexisting-vmss", 4, 2048, "m1")
	reg.Register("m1", runner.NewFakeChannel("m1"))
	_ = vm

	e := New(context.Background(), facade, reg, testOpts())
	t.Cleanup(e.Close)
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := domain.NewJudgeRequest(domain.Submission{}, profile, 1, 512, nil, nil)
	result := submitAndWait(t, e, req, 2*time.Second)
	if !result.IsSuccess() {
		cause, _ := result.Cause()
		t.Fatalf("expected success from the recovered vmss, got error %q", cause)
	}

	vmsses, _ := facade.ListVMSS(context.Background())
	if len(vmsses) != 1 {
		t.Fatalf("expected Initialize to reuse the pre-existing vmss, got %d vmsses", len(vmsses))
	}
}

// S6: duplicate runner connect is rejected by the registry, independent of
// which evaluator routed the original connection.
func TestDuplicateRunnerConnectRejected(t *testing.T) {
	reg := registry.New(nil)
	ch1 := runner.NewFakeChannel("m1")
	ch2 := runner.NewFakeChannel("m1")

	if err := reg.Register("m1", ch1); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("m1", ch2); err != registry.ErrDuplicateRunner {
		t.Fatalf("err = %v, want ErrDuplicateRunner", err)
	}
}

func TestSubmitAssignsMonotonicIDs(t *testing.T) {
	facade := cloudfacade.NewFake()
	reg := registry.New(nil)
	profile := domain.MachineProfile{Name: "Standard_B1s", Tier: "Standard"}

	facade.CreateVMSS(context.Background(), "vmss1", profile)
	facade.AddInstance("vmss1", 4, 2048, "m1")
	reg.Register("m1", runner.NewFakeChannel("m1"))

	e := New(context.Background(), facade, reg, testOpts())
	t.Cleanup(e.Close)
	e.Initialize(context.Background())

	req1 := domain.NewJudgeRequest(domain.Submission{}, profile, 1, 512, nil, nil)
	req2 := domain.NewJudgeRequest(domain.Submission{}, profile, 1, 512, nil, nil)

	submitAndWait(t, e, req1, 2*time.Second)
	submitAndWait(t, e, req2, 2*time.Second)

	if req1.ID == 0 || req2.ID == 0 || req1.ID == req2.ID {
		t.Fatalf("expected distinct nonzero ids, got %d and %d", req1.ID, req2.ID)
	}
}

package vmworker

import (
	"context"
	"testing"
	"time"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/cloudfacade"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/domain"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/registry"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/runner"
)

func newTestWorker(t *testing.T, reg *registry.RunnerRegistry, maxVMIdle time.Duration, noDownSizing bool) *Worker {
	t.Helper()
	profile := domain.MachineProfile{Name: "Standard_B1s", Tier: "Standard"}
	return NewLiveWorker(profile, "vmss1", cloudfacade.VM{ID: "1", Name: "vmss1_1"}, "m1", 4, 2048, 3, reg, maxVMIdle, noDownSizing)
}

func TestSubmitRejectsBeyondMaxIdle(t *testing.T) {
	reg := registry.New(nil)
	reg.Register("m1", runner.NewFakeChannel("m1"))
	w := newTestWorker(t, reg, 60*time.Second, false)

	for i := 0; i < 3; i++ {
		req := domain.NewJudgeRequest(domain.Submission{}, w.Profile(), 1, 1, nil, nil)
		if err := w.Submit(req); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	req := domain.NewJudgeRequest(domain.Submission{}, w.Profile(), 1, 1, nil, nil)
	if err := w.Submit(req); err != ErrIdleQueueFull {
		t.Fatalf("4th submit err = %v, want ErrIdleQueueFull", err)
	}
}

func TestWorkerExecutesAndSignalsRendezvous(t *testing.T) {
	reg := registry.New(nil)
	ch := runner.NewFakeChannel("m1")
	ch.OnStart = func(p runner.StartParams) (runner.Reply, error) {
		return runner.Reply{OK: true, Result: []byte(`{"score":1}`)}, nil
	}
	reg.Register("m1", ch)
	w := newTestWorker(t, reg, 60*time.Second, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	req := domain.NewJudgeRequest(domain.Submission{}, w.Profile(), 1, 256, nil, nil)
	if err := w.Submit(req); err != nil {
		t.Fatal(err)
	}

	result := waitResult(t, req)
	payload, ok := result.Payload()
	if !ok || payload != `{"score":1}` {
		t.Fatalf("payload = %q ok=%v, want {\"score\":1}/true", payload, ok)
	}
}

func TestWorkerRunnerUnreachable(t *testing.T) {
	reg := registry.New(nil) // m1 never registered
	w := newTestWorker(t, reg, 60*time.Second, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	req := domain.NewJudgeRequest(domain.Submission{}, w.Profile(), 1, 256, nil, nil)
	w.Submit(req)

	result := waitResult(t, req)
	cause, ok := result.Cause()
	if !ok || cause != domain.CauseRunnerUnreachable {
		t.Fatalf("cause = %q ok=%v, want %q", cause, ok, domain.CauseRunnerUnreachable)
	}
}

func TestWorkerCapacityRestoredAfterCompletion(t *testing.T) {
	reg := registry.New(nil)
	ch := runner.NewFakeChannel("m1")
	reg.Register("m1", ch)
	w := newTestWorker(t, reg, 60*time.Second, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	req := domain.NewJudgeRequest(domain.Submission{}, w.Profile(), 4, 2048, nil, nil)
	w.Submit(req)
	waitResult(t, req)

	if !w.HasCapacity(4, 2048) {
		t.Error("capacity was not fully restored after completion")
	}
}

func TestMarkDeadDrainsQueue(t *testing.T) {
	reg := registry.New(nil)
	w := newTestWorker(t, reg, 60*time.Second, false)
	req := domain.NewJudgeRequest(domain.Submission{}, w.Profile(), 1, 1, nil, nil)
	w.Submit(req)

	w.MarkDead(domain.CauseProvisionTimeout)

	result := waitResult(t, req)
	cause, ok := result.Cause()
	if !ok || cause != domain.CauseProvisionTimeout {
		t.Fatalf("cause = %q ok=%v, want %q", cause, ok, domain.CauseProvisionTimeout)
	}
	if w.State() != Dead {
		t.Errorf("state = %v, want Dead", w.State())
	}
}

func waitResult(t *testing.T, req *domain.JudgeRequest) domain.JudgeResult {
	t.Helper()
	select {
	case <-req.Completion.Done():
		return req.Result()
	case <-time.After(2 * time.Second):
		t.Fatal("request never completed")
		return domain.JudgeResult{}
	}
}

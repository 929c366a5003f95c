package registry

import (
	"testing"
	"time"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/runner"
)

func TestRegisterAndGet(t *testing.T) {
	r := New(nil)
	ch := runner.NewFakeChannel("m1")

	if err := r.Register("m1", ch); err != nil {
		t.Fatal(err)
	}
	if !r.IsConnected("m1") {
		t.Error("expected m1 to be connected")
	}
	got, ok := r.Get("m1")
	if !ok || got != ch {
		t.Error("Get did not return the registered channel")
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := New(nil)
	ch1 := runner.NewFakeChannel("m1")
	ch2 := runner.NewFakeChannel("m1")

	if err := r.Register("m1", ch1); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("m1", ch2); err != ErrDuplicateRunner {
		t.Fatalf("err = %v, want ErrDuplicateRunner", err)
	}
	got, _ := r.Get("m1")
	if got != ch1 {
		t.Error("duplicate register must not replace the original channel")
	}
}

func TestUnregister(t *testing.T) {
	r := New(nil)
	r.Register("m1", runner.NewFakeChannel("m1"))
	r.Unregister("m1")
	if r.IsConnected("m1") {
		t.Error("m1 should no longer be connected")
	}
}

func TestSubscribeWakesOnConnect(t *testing.T) {
	r := New(nil)
	sub := r.Subscribe()

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Register("m1", runner.NewFakeChannel("m1"))
	}()

	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not woken within 1s")
	}
}

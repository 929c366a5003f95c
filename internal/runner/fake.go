package runner

import (
	"context"
	"sync"
)

// FakeChannel is a deterministic in-memory Channel for worker and scheduler
// tests. Behavior per command kind is configured by the exported funcs;
// a nil func yields an OK reply (for START, with an empty JSON object as
// its result).
type FakeChannel struct {
	mu sync.Mutex

	MachineName string
	OnCheck     func() error
	OnStart     func(StartParams) (Reply, error)

	calls []Kind
}

// NewFakeChannel returns a FakeChannel that reports machineName on INFO and
// succeeds on CHECK and START unless overridden.
func NewFakeChannel(machineName string) *FakeChannel {
	return &FakeChannel{MachineName: machineName}
}

func (f *FakeChannel) SendCommand(ctx context.Context, kind Kind, params StartParams) (Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.mu.Unlock()

	switch kind {
	case Check:
		if f.OnCheck != nil {
			if err := f.OnCheck(); err != nil {
				return Reply{}, err
			}
		}
		return Reply{OK: true}, nil
	case Info:
		return Reply{OK: true, MachineName: f.MachineName}, nil
	case Start:
		if f.OnStart != nil {
			return f.OnStart(params)
		}
		return Reply{OK: true, Result: []byte(`{}`)}, nil
	default:
		return Reply{}, ErrUnreachable
	}
}

// Calls returns the command kinds sent so far, in order.
func (f *FakeChannel) Calls() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Kind, len(f.calls))
	copy(out, f.calls)
	return out
}

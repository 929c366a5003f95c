// Package registry tracks which runners are currently connected, keyed by
// the machine name the provisioning VMSS gave each instance. It replaces
// the original protocol handler's protocol_dict global with an injectable
// type, and replaces its duplicate-connect panic with a typed error the
// caller can log and reject the connection on.
package registry

import (
	"errors"
	"sync"

	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/logging"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/runner"
	"github.com/SEP-TU-e-2024/JudgeQueuer/internal/metrics"
)

// ErrDuplicateRunner is returned by Register when a runner with the same
// machine name is already connected.
var ErrDuplicateRunner = errors.New("registry: runner with this machine name is already connected")

// RunnerRegistry maps a connected runner's machine name to the Channel a
// worker uses to talk to it. One registry is shared process-wide; every
// VMSSManager's discovery pass consults it to bind dormant workers.
type RunnerRegistry struct {
	mu      sync.RWMutex
	runners map[string]runner.Channel

	notifier Notifier
}

// New returns an empty registry that publishes connect events on notifier.
// Pass a ChannelNotifier for a single-instance deployment or a
// RedisNotifier to share connect events across queuer instances.
func New(notifier Notifier) *RunnerRegistry {
	if notifier == nil {
		notifier = NewChannelNotifier()
	}
	return &RunnerRegistry{
		runners:  make(map[string]runner.Channel),
		notifier: notifier,
	}
}

// Register records a newly connected runner under machineName. It reports
// ErrDuplicateRunner instead of overwriting an existing entry, since two
// live channels claiming the same machine name indicates a stale
// registration the caller must investigate rather than silently replace.
func (r *RunnerRegistry) Register(machineName string, ch runner.Channel) error {
	r.mu.Lock()
	if _, exists := r.runners[machineName]; exists {
		r.mu.Unlock()
		metrics.RecordRunnerDuplicate(machineName)
		return ErrDuplicateRunner
	}
	r.runners[machineName] = ch
	r.mu.Unlock()

	logging.Op().Info("runner connected", "machine_name", machineName)
	metrics.RecordRunnerConnect(machineName)
	r.notifier.NotifyConnect(machineName)
	return nil
}

// Unregister removes machineName, e.g. when its connection drops.
func (r *RunnerRegistry) Unregister(machineName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runners, machineName)
	logging.Op().Info("runner disconnected", "machine_name", machineName)
}

// IsConnected reports whether machineName currently has a live channel.
func (r *RunnerRegistry) IsConnected(machineName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[machineName]
	return ok
}

// Get returns the channel for machineName, if connected.
func (r *RunnerRegistry) Get(machineName string) (runner.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.runners[machineName]
	return ch, ok
}

// Subscribe returns a channel that receives a signal each time a runner
// connects, letting a VMSSManager's discovery pass wait instead of
// polling IsConnected on a tight loop.
func (r *RunnerRegistry) Subscribe() <-chan struct{} {
	return r.notifier.SubscribeConnect()
}

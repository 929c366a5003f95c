package domain

import "errors"

// ErrInvalidResourceRequest is returned when cpus or memory_mb is
// non-positive — a malformed-input condition rejected synchronously at the
// website boundary (spec §7), never surfaced as a per-request result.
var ErrInvalidResourceRequest = errors.New("cpus and memory_mb must each be >= 1")

// Validate checks the static invariants a JudgeRequest must satisfy before
// it is ever queued: cpus >= 1, memory_mb >= 1.
func (r *JudgeRequest) Validate() error {
	if r.CPUs < 1 || r.MemoryMB < 1 {
		return ErrInvalidResourceRequest
	}
	return nil
}

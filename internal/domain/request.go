package domain

import "encoding/json"

// JudgeRequest is immutable on creation except for what the scheduler
// assigns as the request moves through the pipeline: ID (set once by the
// evaluator's monotonic counter), and the result, which is only ever
// observed through Completion (a CompletionRendezvous) so that "result
// readable by all waiters after signaling" (spec §3) does not need a
// separate lock.
type JudgeRequest struct {
	// ID is zero until the evaluator assigns it in Submit.
	ID int64

	Submission          Submission
	MachineProfile      MachineProfile
	CPUs                int
	MemoryMB            int
	EvaluationSettings  json.RawMessage
	BenchmarkInstances  map[string]string // benchmark id -> URL

	Completion *CompletionRendezvous
}

// NewJudgeRequest constructs a request ready for submission. ID is assigned
// later by the evaluator; Completion starts unsignaled.
func NewJudgeRequest(sub Submission, profile MachineProfile, cpus, memoryMB int, settings json.RawMessage, benchmarkInstances map[string]string) *JudgeRequest {
	return &JudgeRequest{
		Submission:         sub,
		MachineProfile:     profile,
		CPUs:               cpus,
		MemoryMB:           memoryMB,
		EvaluationSettings: settings,
		BenchmarkInstances: benchmarkInstances,
		Completion:         NewCompletionRendezvous(),
	}
}

// Result blocks until the request completes and returns its outcome. It is
// a thin convenience wrapper over Completion.Wait so call sites read
// naturally as "submit, then req.Result()".
func (r *JudgeRequest) Result() JudgeResult {
	return r.Completion.Wait()
}

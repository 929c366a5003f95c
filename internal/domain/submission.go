package domain

// SubmissionKind distinguishes the two shapes of work a judge request can
// carry, per the website protocol.
type SubmissionKind string

const (
	SubmissionCode     SubmissionKind = "CODE"
	SubmissionSolution SubmissionKind = "SOLUTION"
)

// Submission is the payload to be evaluated: either raw code or a solution,
// fetched from SourceURL and checked against ValidatorURL.
type Submission struct {
	Kind         SubmissionKind
	SourceURL    string
	ValidatorURL string
}

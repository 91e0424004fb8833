// Package reasoning calls the hosted language-model API that powers agent
// runs. It owns the external-call boundary: every failure crossing it is
// classified as transient (worth retrying) or permanent (fail fast) so the
// runner's retry loop never has to inspect provider details.
package reasoning

import "context"

// Request is a single-turn completion request. Prompt carries the fully
// assembled context; System carries the agent's standing instructions.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for one invocation.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the model's reply.
type Result struct {
	Text       string
	StopReason string
	Usage      Usage
}

// Client invokes a reasoning model. Implementations must classify failures
// as *TransientError or *PermanentError; a bare error is treated as
// permanent by callers.
type Client interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

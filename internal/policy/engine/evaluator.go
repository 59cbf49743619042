package engine

import "context"

// Input is what a guard sees about one API call.
type Input struct {
	// Route is "<method>/<path>", e.g. "put/friend".
	Route string `json:"route"`
	// UserID is the resolved caller; 0 when anonymous.
	UserID int64 `json:"user_id"`
	// Body is the decoded request body, or nil.
	Body map[string]any `json:"body"`
}

// Decision is the outcome of evaluating every guard for an Input.
type Decision struct {
	Allowed bool
	// Reasons lists the deny messages, sorted.
	Reasons []string
}

// Evaluator decides whether an API call may proceed.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Decision, error)
}

// Package reflection drives an evaluate-critique-improve cycle over a task
// result, bounded by a maximum retry count.
package reflection

import (
	"context"
	"fmt"
	"strings"

	"github.com/drover-ai/drover/internal/api"
)

// NeedsImprovementMarker is the prefix an evaluator uses to reject a result.
// Feedback without the marker counts as approval.
const NeedsImprovementMarker = "NEEDS_IMPROVEMENT:"

// DefaultMaxRetries bounds the improvement cycle when not configured.
const DefaultMaxRetries = 3

const evaluationPrompt = `
Evaluate this result for the given task.

Task: %s
Result: %s

Analyze:
1. Does the result fully address the task?
2. Are there any errors or omissions?
3. Could the result be improved?

If the result is acceptable, explain why it's good.
If it needs improvement, start your response with "NEEDS_IMPROVEMENT:" followed by specific feedback.
`

// Result is the outcome of a reflection cycle.
type Result struct {
	// Approved reports whether the evaluator accepted the result.
	Approved bool
	// RetryCount is the number of evaluation rounds performed before exit.
	RetryCount int
	// FinalResult is the last candidate result.
	FinalResult string
	// FeedbackHistory holds the raw evaluator feedback for every rejected
	// attempt, in order.
	FeedbackHistory []string
}

// ImproveFunc produces a new candidate result from evaluator feedback.
type ImproveFunc func(ctx context.Context, feedback string) (string, error)

// Loop evaluates and improves a result until approval or exhaustion.
type Loop struct {
	maxRetries int
}

// New creates a loop bounded by maxRetries improvement rounds.
func New(maxRetries int) *Loop {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Loop{maxRetries: maxRetries}
}

// NewDefault creates a loop with the default retry bound.
func NewDefault() *Loop {
	return New(DefaultMaxRetries)
}

// Reflect asks the evaluator to critique the result against the task and,
// when improvement is requested and an improve function exists, produces a
// new candidate and repeats.
//
// Without an improve function the loop stops after the first rejection:
// further evaluation of an unchangeable result is guaranteed futile.
// Rejected-but-classifiable outcomes come back as a Result, never an error;
// only evaluator or improver failures propagate.
func (l *Loop) Reflect(ctx context.Context, evaluator api.Invoker, task, result string, improve ImproveFunc) (*Result, error) {
	current := result
	var history []string

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		prompt := fmt.Sprintf(evaluationPrompt, task, current)
		resp, err := evaluator.Invoke(ctx, prompt, api.Options{})
		if err != nil {
			return nil, fmt.Errorf("evaluate attempt %d: %w", attempt, err)
		}

		feedback := ""
		if msg, ok := resp.First(); ok {
			feedback = msg.Content
		}

		if !strings.Contains(feedback, NeedsImprovementMarker) {
			return &Result{
				Approved:        true,
				RetryCount:      attempt,
				FinalResult:     current,
				FeedbackHistory: history,
			}, nil
		}

		history = append(history, feedback)

		if improve == nil {
			return &Result{
				Approved:        false,
				RetryCount:      attempt,
				FinalResult:     current,
				FeedbackHistory: history,
			}, nil
		}

		if attempt < l.maxRetries {
			current, err = improve(ctx, feedback)
			if err != nil {
				return nil, fmt.Errorf("improve attempt %d: %w", attempt, err)
			}
		}
	}

	return &Result{
		Approved:        false,
		RetryCount:      l.maxRetries,
		FinalResult:     current,
		FeedbackHistory: history,
	}, nil
}

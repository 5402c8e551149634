// Package recovery classifies failures into recovery strategies.
package recovery

import (
	"fmt"
	"regexp"
	"strings"
)

// Strategy is the recommended recovery action for a classified failure.
type Strategy string

const (
	// StrategyRetry tries the same operation again after a delay.
	StrategyRetry Strategy = "retry"
	// StrategyFallback switches to an alternative approach or model.
	StrategyFallback Strategy = "fallback"
	// StrategyHumanHelp requests human intervention.
	StrategyHumanHelp Strategy = "human_help"
	// StrategyAbort stops execution entirely.
	StrategyAbort Strategy = "abort"
)

// Result describes the recommended next step for a failure.
type Result struct {
	// Strategy is the recommended recovery strategy.
	Strategy Strategy
	// UserMessage is a human-readable explanation of what happened.
	UserMessage string
	// WaitSeconds is how long to wait before retrying. Only meaningful
	// for StrategyRetry.
	WaitSeconds int
	// QuestionForUser is the question to surface to an operator.
	// Only set for StrategyHumanHelp.
	QuestionForUser string
	// SuggestedAction is a specific action recommendation, when one exists.
	SuggestedAction string
}

// rule maps an error pattern to a recovery outcome. Rules are evaluated in
// order; the first match wins.
type rule struct {
	pattern     *regexp.Regexp
	strategy    Strategy
	message     string
	waitSeconds int
}

var rules = []rule{
	{regexp.MustCompile(`rate limit|too many requests|429`), StrategyRetry, "Rate limit hit", 30},
	{regexp.MustCompile(`timeout|timed out`), StrategyRetry, "Request timed out", 5},
	{regexp.MustCompile(`connection|network|unreachable`), StrategyRetry, "Network issue", 10},
	{regexp.MustCompile(`permission|access denied|forbidden|403`), StrategyHumanHelp, "Permission issue", 0},
	{regexp.MustCompile(`not found|404|does not exist`), StrategyHumanHelp, "Resource not found", 0},
	{regexp.MustCompile(`invalid|malformed|parse error`), StrategyFallback, "Invalid response", 0},
}

// DefaultMaxRetries is the retry ceiling used by NewDefault.
const DefaultMaxRetries = 3

// taskPreviewLen bounds the task excerpt embedded in operator questions.
const taskPreviewLen = 50

// Analyzer matches error descriptions against the rule table and applies
// the retry ceiling escalation.
type Analyzer struct {
	maxRetries int
}

// New creates an analyzer with the given retry ceiling.
func New(maxRetries int) *Analyzer {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Analyzer{maxRetries: maxRetries}
}

// NewDefault creates an analyzer with the default retry ceiling.
func NewDefault() *Analyzer {
	return New(DefaultMaxRetries)
}

// MaxRetries returns the configured retry ceiling.
func (a *Analyzer) MaxRetries() int {
	return a.maxRetries
}

// Analyze classifies an error description and recommends a recovery action.
// Matching is case-insensitive and first-match-wins over the rule table.
// A Retry outcome escalates to Fallback once attemptCount exceeds the retry
// ceiling. Unmatched errors produce a HumanHelp result with a generic
// question embedding a truncated task preview.
func (a *Analyzer) Analyze(errDescription, taskContent string, attemptCount int) Result {
	lowered := strings.ToLower(errDescription)

	for _, r := range rules {
		if !r.pattern.MatchString(lowered) {
			continue
		}

		if r.strategy == StrategyRetry && attemptCount > a.maxRetries {
			return Result{
				Strategy:        StrategyFallback,
				UserMessage:     fmt.Sprintf("%s. Tried %d times. Trying alternative approach.", r.message, attemptCount),
				SuggestedAction: "Use fallback model or method",
			}
		}

		if r.strategy == StrategyHumanHelp {
			return Result{
				Strategy:    StrategyHumanHelp,
				UserMessage: fmt.Sprintf("%s: %s", r.message, errDescription),
				QuestionForUser: fmt.Sprintf(
					"I encountered an issue: %s. Can you help resolve this or provide an alternative?",
					errDescription),
			}
		}

		return Result{
			Strategy:    r.strategy,
			UserMessage: fmt.Sprintf("%s. Retrying in %d seconds...", r.message, r.waitSeconds),
			WaitSeconds: r.waitSeconds,
		}
	}

	return Result{
		Strategy:    StrategyHumanHelp,
		UserMessage: fmt.Sprintf("Unexpected error: %s", errDescription),
		QuestionForUser: fmt.Sprintf(
			"I encountered an unexpected error while working on '%s...': %s. How would you like me to proceed?",
			preview(taskContent), errDescription),
	}
}

// preview returns the first taskPreviewLen characters of the task content.
func preview(taskContent string) string {
	if len(taskContent) <= taskPreviewLen {
		return taskContent
	}
	return taskContent[:taskPreviewLen]
}

// Package reasoning adds chain-of-thought scaffolding to prompts and parses
// the tagged thoughts and action out of model replies.
package reasoning

import (
	"regexp"
	"strings"
)

const promptSuffix = `

Before taking action, think step-by-step about the problem.
Wrap each thought in <thought>...</thought> tags.
After reasoning, state your action in <action>...</action> tags.

Example:
<thought>First, I identify the core requirement.</thought>
<thought>Then, I consider the best approach.</thought>
<action>I will implement the solution using X.</action>
`

var (
	thoughtPattern = regexp.MustCompile(`(?s)<thought>(.*?)</thought>`)
	actionPattern  = regexp.MustCompile(`(?s)<action>(.*?)</action>`)
)

// ThoughtStep is a single step in a reasoning chain. StepNumber starts at 1.
type ThoughtStep struct {
	Content    string
	StepNumber int
}

// Result holds the thoughts and action parsed from a reply. Action is empty
// when the reply carried no action tag.
type Result struct {
	Thoughts    []ThoughtStep
	Action      string
	RawResponse string
}

// Wrapper enhances prompts with reasoning instructions and parses the
// tagged structure back out of replies.
type Wrapper struct{}

// NewWrapper creates a reasoning wrapper.
func NewWrapper() *Wrapper {
	return &Wrapper{}
}

// EnhancePrompt appends the step-by-step reasoning instructions to a prompt.
func (w *Wrapper) EnhancePrompt(prompt string) string {
	return prompt + promptSuffix
}

// ParseResponse extracts thought steps and the first action from a reply.
// Tag contents are whitespace-trimmed; the raw reply is kept verbatim.
func (w *Wrapper) ParseResponse(response string) *Result {
	result := &Result{RawResponse: response}

	for i, match := range thoughtPattern.FindAllStringSubmatch(response, -1) {
		result.Thoughts = append(result.Thoughts, ThoughtStep{
			Content:    strings.TrimSpace(match[1]),
			StepNumber: i + 1,
		})
	}

	if match := actionPattern.FindStringSubmatch(response); match != nil {
		result.Action = strings.TrimSpace(match[1])
	}
	return result
}

package subtask

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// SystemInvoker issues completions with a dedicated system prompt,
// keeping the agent profile out of the user turn. Satisfied by
// llm.Client.
type SystemInvoker interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMExecutor runs sub-tasks as single-turn model completions. The
// agent profile rides in the system prompt; the task body and the
// parent's expectation form the user prompt so the output folds cleanly
// back into the parent's context.
type LLMExecutor struct {
	invoker SystemInvoker
}

var _ Executor = (*LLMExecutor)(nil)

// NewLLMExecutor creates an executor backed by the given invoker.
func NewLLMExecutor(invoker SystemInvoker) *LLMExecutor {
	return &LLMExecutor{invoker: invoker}
}

// Execute runs the sub-task and returns its textual output.
func (e *LLMExecutor) Execute(ctx context.Context, st *models.SubTask) (string, error) {
	system := fmt.Sprintf("You are a %s agent working in %s.", st.AgentType, st.WorktreePath)

	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n", st.Prompt)
	if st.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\nExpected output:\n%s\n", st.ExpectedOutput)
	}

	output, err := e.invoker.CompleteWithSystem(ctx, system, b.String())
	if err != nil {
		return "", fmt.Errorf("execute sub-task %s: %w", st.ID, err)
	}
	return output, nil
}

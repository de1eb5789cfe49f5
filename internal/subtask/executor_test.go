package subtask

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// recordingSystemInvoker captures the prompt split.
type recordingSystemInvoker struct {
	system string
	user   string
	err    error
}

func (r *recordingSystemInvoker) CompleteWithSystem(_ context.Context, system, user string) (string, error) {
	r.system = system
	r.user = user
	if r.err != nil {
		return "", r.err
	}
	return "child output", nil
}

func TestLLMExecutorSplitsSystemAndUserPrompts(t *testing.T) {
	invoker := &recordingSystemInvoker{}
	e := NewLLMExecutor(invoker)

	out, err := e.Execute(context.Background(), &models.SubTask{
		ID:             "st-1",
		AgentType:      "coder",
		WorktreePath:   "/tmp/wt",
		Prompt:         "write the migration",
		ExpectedOutput: "sql file",
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out != "child output" {
		t.Errorf("output = %q, want the model reply", out)
	}

	if invoker.system != "You are a coder agent working in /tmp/wt." {
		t.Errorf("system prompt = %q, want the agent profile", invoker.system)
	}
	if !strings.Contains(invoker.user, "write the migration") {
		t.Errorf("user prompt = %q, missing the task body", invoker.user)
	}
	if !strings.Contains(invoker.user, "Expected output:\nsql file") {
		t.Errorf("user prompt = %q, missing the expected output", invoker.user)
	}
	if strings.Contains(invoker.user, "You are a") {
		t.Errorf("user prompt = %q, agent profile leaked out of the system slot", invoker.user)
	}
}

func TestLLMExecutorWrapsInvokerError(t *testing.T) {
	cause := errors.New("api unavailable")
	e := NewLLMExecutor(&recordingSystemInvoker{err: cause})

	_, err := e.Execute(context.Background(), &models.SubTask{ID: "st-9", Prompt: "anything"})
	if !errors.Is(err, cause) {
		t.Fatalf("Execute() error = %v, want wrapped cause", err)
	}
	if !strings.Contains(err.Error(), "st-9") {
		t.Errorf("error = %q, missing the sub-task id", err)
	}
}

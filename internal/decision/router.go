// Package decision classifies worker messages as needing model judgment
// or programmatic handling, and turns model replies into structured
// actions for the coordinator.
package decision

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/foreman/internal/llm"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Router builds prompts for messages that need judgment and parses the
// model's free-text replies. It is stateless apart from the invoker.
type Router struct {
	invoker llm.Invoker
}

// NewRouter creates a router backed by the given model invoker.
func NewRouter(invoker llm.Invoker) *Router {
	return &Router{invoker: invoker}
}

// RequiresLLMDecision reports whether a message type needs model
// judgment. Everything else is handled programmatically by the
// coordinator.
func RequiresLLMDecision(t models.MessageType) bool {
	switch t {
	case models.MessageQuestion, models.MessageError, models.MessageApprovalRequest:
		return true
	default:
		return false
	}
}

// BuildPrompt renders the decision prompt for one message: metadata,
// the raw content, and trigger-specific instructions.
func BuildPrompt(msg *models.QueueMessage) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are supervising an autonomous coding worker.\n\n")
	fmt.Fprintf(&b, "Worker: %s\n", msg.WorkerID)
	fmt.Fprintf(&b, "Task: %s (plan %s)\n", msg.TaskID, msg.PlanID)
	if msg.WorktreePath != "" {
		fmt.Fprintf(&b, "Worktree: %s\n", msg.WorktreePath)
	}
	fmt.Fprintf(&b, "Message type: %s\n\n", msg.Type)
	fmt.Fprintf(&b, "Message content:\n%s\n\n", msg.Content.String())

	switch msg.Type {
	case models.MessageQuestion:
		b.WriteString("The worker is blocked on this question. Answer it directly " +
			"and concretely so the worker can proceed. Your entire reply is " +
			"sent to the worker as the answer.")
	case models.MessageError:
		b.WriteString("The worker hit this error. Decide how to proceed and start " +
			"your reply with exactly one of:\n" +
			"RETRY: <guidance for the retry>\n" +
			"CANCEL: <why the task should be abandoned>\n" +
			"ESCALATE: <why a human must look at this>\n" +
			"Include your reasoning after the prefix.")
	case models.MessageApprovalRequest:
		b.WriteString("The worker is requesting approval for the action above. " +
			"Start your reply with exactly one of:\n" +
			"APPROVE: <reason>\n" +
			"DENY: <reason>")
	case models.MessageCompletion:
		b.WriteString("The worker reports completion. Review the summary above " +
			"and note any follow-up concerns. No action prefix is needed.")
	default:
		b.WriteString("Review the message above and reply with any guidance.")
	}

	return b.String()
}

// HandleWithLLM sends the message to the model and parses the reply.
// A failed invocation escalates with the failure as the reason, so
// model unavailability never silently resolves an error or approval.
func (r *Router) HandleWithLLM(ctx context.Context, msg *models.QueueMessage) Outcome {
	reply, err := r.invoker.Complete(ctx, BuildPrompt(msg))
	if err != nil {
		log.Printf("[decision] LLM invocation failed for %s message %s: %v", msg.Type, msg.ID, err)
		return Outcome{
			Action:  ActionEscalate,
			Payload: fmt.Sprintf("LLM decision unavailable: %v", err),
		}
	}
	return ParseReply(msg.Type, reply)
}

package decision

import (
	"strings"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Action is the structured outcome of routing one message.
type Action string

const (
	// ActionContinue means no intervention is needed; the reply (if any)
	// is informational.
	ActionContinue Action = "continue"
	// ActionRespond carries an answer to send back to the worker.
	ActionRespond Action = "respond"
	// ActionRetry instructs the worker to retry with guidance.
	ActionRetry Action = "retry"
	// ActionCancel terminates the task.
	ActionCancel Action = "cancel"
	// ActionEscalate surfaces the message to the user's inbox.
	ActionEscalate Action = "escalate"
	// ActionApprove grants a pending approval request.
	ActionApprove Action = "approve"
	// ActionDeny rejects a pending approval request.
	ActionDeny Action = "deny"
)

// Outcome is a tagged decision produced from a free-text model reply.
type Outcome struct {
	Action Action
	// Payload is the answer text, retry guidance, or escalation reason.
	Payload string
}

// ParseReply converts a free-text model reply into an Outcome for the
// trigger type that produced the prompt. Prefix matching is
// case-sensitive and anchored at the start of the trimmed reply.
//
// Ambiguity fails safe: an error or approval reply with no recognized
// prefix escalates rather than continuing.
func ParseReply(trigger models.MessageType, reply string) Outcome {
	text := strings.TrimSpace(reply)

	switch trigger {
	case models.MessageQuestion:
		return Outcome{Action: ActionRespond, Payload: text}

	case models.MessageError:
		if rest, ok := cutPrefix(text, "RETRY:"); ok {
			return Outcome{Action: ActionRetry, Payload: rest}
		}
		if rest, ok := cutPrefix(text, "CANCEL:"); ok {
			return Outcome{Action: ActionCancel, Payload: rest}
		}
		if rest, ok := cutPrefix(text, "ESCALATE:"); ok {
			return Outcome{Action: ActionEscalate, Payload: rest}
		}
		return Outcome{Action: ActionEscalate, Payload: text}

	case models.MessageApprovalRequest:
		if rest, ok := cutPrefix(text, "APPROVE:"); ok {
			return Outcome{Action: ActionApprove, Payload: rest}
		}
		if rest, ok := cutPrefix(text, "DENY:"); ok {
			return Outcome{Action: ActionDeny, Payload: rest}
		}
		return Outcome{Action: ActionEscalate, Payload: text}

	default:
		return Outcome{Action: ActionContinue, Payload: text}
	}
}

// cutPrefix strips a decision prefix and trims the remainder.
func cutPrefix(text, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(text, prefix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

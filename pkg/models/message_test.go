package models

import "testing"

func TestMessageTypeValid(t *testing.T) {
	valid := []MessageType{
		MessageStatusUpdate, MessageQuestion, MessageError, MessageCompletion,
		MessageApprovalRequest, MessageApprovalResponse, MessagePermissionRequest,
		MessageRetryRequest, MessageAnswer, MessageRefinement,
	}
	for _, mt := range valid {
		if !mt.Valid() {
			t.Errorf("expected %q to be valid", mt)
		}
	}

	if MessageType("telemetry").Valid() {
		t.Error("expected 'telemetry' to be invalid")
	}
}

func TestMessageContentForms(t *testing.T) {
	text := TextContent("worker is idle")
	if text.IsStructured() {
		t.Error("text payload should not be structured")
	}
	if text.String() != "worker is idle" {
		t.Errorf("String() = %q, want %q", text.String(), "worker is idle")
	}

	data := DataContent(map[string]any{"action": "delete_file", "description": "remove stale config"})
	if !data.IsStructured() {
		t.Error("data payload should be structured")
	}
	if data.Action() != "delete_file" {
		t.Errorf("Action() = %q, want %q", data.Action(), "delete_file")
	}
	if data.String() != "remove stale config" {
		t.Errorf("String() = %q, want %q", data.String(), "remove stale config")
	}
}

func TestMessageContentActionFallback(t *testing.T) {
	c := TextContent("run_tests")
	if c.Action() != "run_tests" {
		t.Errorf("Action() = %q, want %q", c.Action(), "run_tests")
	}
}

func TestWorkerSessionThreads(t *testing.T) {
	w := &WorkerSession{ID: "worker-1"}

	th := w.Thread("msg-42")
	th.Append("worker", "which database should I use?")
	th.Append("coordinator", "use sqlite")

	if len(th.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(th.Messages))
	}
	if th.Status != ThreadActive {
		t.Errorf("Status = %q, want %q", th.Status, ThreadActive)
	}

	th.Resolve()
	if th.Status != ThreadResolved {
		t.Errorf("Status = %q, want %q", th.Status, ThreadResolved)
	}

	// Same topic returns the same thread.
	if w.Thread("msg-42") != th {
		t.Error("expected Thread to return the existing thread for a topic")
	}
}

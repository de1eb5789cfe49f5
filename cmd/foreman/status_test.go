package main

import (
	"strings"
	"testing"
	"unicode"

	"github.com/fatih/color"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func TestTaskLineFormatsFailure(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	line := taskLine(&models.Task{
		Name:   "add endpoint",
		Status: models.TaskStatusFailed,
		Error:  "build failed: exit 2",
	})

	if want := "  [failed] add endpoint: build failed: exit 2"; line != want {
		t.Errorf("taskLine() = %q, want %q", line, want)
	}
	for _, r := range line {
		if r > unicode.MaxASCII {
			t.Errorf("taskLine() contains non-ASCII rune %q", r)
		}
	}
}

func TestTaskLineShowsWorkerWhileRunning(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	line := taskLine(&models.Task{
		Name:     "add endpoint",
		Status:   models.TaskStatusRunning,
		WorkerID: "worker-1",
	})
	if !strings.Contains(line, "(worker worker-1)") {
		t.Errorf("taskLine() = %q, missing the worker annotation", line)
	}

	line = taskLine(&models.Task{
		Name:     "add endpoint",
		Status:   models.TaskStatusCompleted,
		WorkerID: "worker-1",
	})
	if strings.Contains(line, "worker-1") {
		t.Errorf("taskLine() = %q, worker shown for a terminal task", line)
	}
}

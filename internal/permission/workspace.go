package permission

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatterDelimiter separates the structured header from the prose
// body of a workspace policy document.
const frontMatterDelimiter = "---"

// ParseWorkspacePolicy extracts the YAML front-matter header from a
// workspace policy markdown document. The document combines prose for
// humans with a structured header for the engine:
//
//	---
//	auto_approve:
//	  - run_tests
//	limits:
//	  max_subtask_depth: 2
//	---
//	# Why these overrides
//	...prose...
//
// A document without a front-matter header yields an empty (fully
// inheriting) layer.
func ParseWorkspacePolicy(content []byte) (*Document, error) {
	text := strings.TrimLeft(string(content), "\ufeff\r\n ")

	if !strings.HasPrefix(text, frontMatterDelimiter) {
		return &Document{}, nil
	}

	rest := text[len(frontMatterDelimiter):]
	// The opening delimiter must be alone on its line.
	newline := strings.IndexByte(rest, '\n')
	if newline == -1 || strings.TrimSpace(rest[:newline]) != "" {
		return &Document{}, nil
	}
	rest = rest[newline+1:]

	end := findClosingDelimiter(rest)
	if end == -1 {
		return nil, fmt.Errorf("front matter not terminated with %q", frontMatterDelimiter)
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(rest[:end]), &doc); err != nil {
		return nil, fmt.Errorf("decode front matter: %w", err)
	}
	return &doc, nil
}

// findClosingDelimiter returns the offset of the line holding the
// closing delimiter, or -1.
func findClosingDelimiter(text string) int {
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == frontMatterDelimiter {
			return offset
		}
		offset += len(line) + 1
	}
	return -1
}

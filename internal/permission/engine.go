package permission

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/spf13/viper"
)

//go:embed defaults.json
var defaultsJSON []byte

// EngineConfig locates the optional override layers. Absence of either
// file is not an error; the layer is simply skipped.
type EngineConfig struct {
	// WorkspacePolicyPath is a markdown document with a YAML front-matter
	// header carrying partial policy overrides (e.g. .foreman/policy.md).
	WorkspacePolicyPath string
	// UserSettingsPath is the user settings file read through viper
	// (e.g. ~/.config/foreman/settings.yaml), overrides under "permissions".
	UserSettingsPath string
}

// Engine evaluates actions against the merged policy. Evaluations are
// synchronous and side-effect free; Reload atomically swaps the merged
// policy so concurrent evaluations never see a partial merge.
type Engine struct {
	cfg EngineConfig

	policy atomic.Pointer[Policy]

	mu          sync.Mutex
	subscribers []func(*Policy)
}

// NewEngine builds an engine and performs the initial load. The bundled
// defaults always parse; failures reading an override layer are reported
// but do not prevent startup with the remaining layers.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	e := &Engine{cfg: cfg}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Current returns the active merged policy.
func (e *Engine) Current() *Policy {
	return e.policy.Load()
}

// Evaluate returns the decision for an action under the active policy.
func (e *Engine) Evaluate(action string) Decision {
	return e.Current().Evaluate(action)
}

// CheckLimit returns true iff currentValue is strictly below the named
// ceiling under the active policy.
func (e *Engine) CheckLimit(name string, currentValue int) bool {
	return e.Current().CheckLimit(name, currentValue)
}

// Subscribe registers a callback invoked after every successful reload
// with the freshly merged policy.
func (e *Engine) Subscribe(fn func(*Policy)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// Reload re-reads all three layers, merges them, and swaps the result in
// atomically. This is the settings-change signal handler.
func (e *Engine) Reload() error {
	layers := make([]Document, 0, 3)

	var defaults Document
	if err := json.Unmarshal(defaultsJSON, &defaults); err != nil {
		return fmt.Errorf("parse bundled policy defaults: %w", err)
	}
	layers = append(layers, defaults)

	if e.cfg.WorkspacePolicyPath != "" {
		doc, err := loadWorkspaceLayer(e.cfg.WorkspacePolicyPath)
		if err != nil {
			log.Printf("[permission] workspace policy skipped: %v", err)
		} else if doc != nil {
			layers = append(layers, *doc)
		}
	}

	if e.cfg.UserSettingsPath != "" {
		doc, err := loadUserLayer(e.cfg.UserSettingsPath)
		if err != nil {
			log.Printf("[permission] user settings skipped: %v", err)
		} else if doc != nil {
			layers = append(layers, *doc)
		}
	}

	merged := Merge(layers...)
	e.policy.Store(merged)

	e.mu.Lock()
	subscribers := append(([]func(*Policy))(nil), e.subscribers...)
	e.mu.Unlock()
	for _, fn := range subscribers {
		fn(merged)
	}

	return nil
}

// loadWorkspaceLayer reads the workspace markdown policy. A missing file
// yields a nil document, not an error.
func loadWorkspaceLayer(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace policy: %w", err)
	}
	doc, err := ParseWorkspacePolicy(content)
	if err != nil {
		return nil, fmt.Errorf("parse workspace policy %s: %w", path, err)
	}
	return doc, nil
}

// loadUserLayer reads the user settings file through viper. The policy
// override lives under the "permissions" key. A missing file yields a
// nil document.
func loadUserLayer(path string) (*Document, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read user settings: %w", err)
	}

	var doc Document
	if err := v.UnmarshalKey("permissions", &doc); err != nil {
		return nil, fmt.Errorf("decode user settings: %w", err)
	}
	return &doc, nil
}

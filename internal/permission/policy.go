// Package permission evaluates worker actions against a layered policy:
// bundled defaults, then a workspace override, then user settings. List
// fields replace wholesale per layer; limits merge per key.
package permission

// Decision is the outcome of evaluating an action.
type Decision string

const (
	// DecisionAllow means the action proceeds without user involvement.
	DecisionAllow Decision = "allow"
	// DecisionAsk means the action requires user confirmation.
	DecisionAsk Decision = "ask"
	// DecisionDeny means the action is refused without user involvement.
	DecisionDeny Decision = "deny"
)

// Limit names understood by CheckLimit.
const (
	// LimitMaxSubtaskDepth bounds recursive delegation depth.
	LimitMaxSubtaskDepth = "max_subtask_depth"
	// LimitMaxSubtasksPerWorker bounds total sub-tasks one worker may spawn.
	LimitMaxSubtasksPerWorker = "max_subtasks_per_worker"
	// LimitMaxParallelSubtasks bounds one parallel spawn batch.
	LimitMaxParallelSubtasks = "max_parallel_subtasks"
	// LimitSubtaskSpawnRate bounds spawns per minute per worker.
	LimitSubtaskSpawnRate = "subtask_spawn_rate_limit"
)

// Limits holds the merged numeric ceilings.
type Limits struct {
	MaxSubtaskDepth      int `json:"max_subtask_depth" yaml:"max_subtask_depth" mapstructure:"max_subtask_depth"`
	MaxSubtasksPerWorker int `json:"max_subtasks_per_worker" yaml:"max_subtasks_per_worker" mapstructure:"max_subtasks_per_worker"`
	MaxParallelSubtasks  int `json:"max_parallel_subtasks" yaml:"max_parallel_subtasks" mapstructure:"max_parallel_subtasks"`
	SubtaskSpawnRate     int `json:"subtask_spawn_rate_limit" yaml:"subtask_spawn_rate_limit" mapstructure:"subtask_spawn_rate_limit"`
}

// Value returns the ceiling for a limit name, and whether the name is known.
func (l Limits) Value(name string) (int, bool) {
	switch name {
	case LimitMaxSubtaskDepth:
		return l.MaxSubtaskDepth, true
	case LimitMaxSubtasksPerWorker:
		return l.MaxSubtasksPerWorker, true
	case LimitMaxParallelSubtasks:
		return l.MaxParallelSubtasks, true
	case LimitSubtaskSpawnRate:
		return l.SubtaskSpawnRate, true
	default:
		return 0, false
	}
}

// LimitsDocument is the partial limits shape of a single layer. Pointer
// fields distinguish "unspecified, inherit" from "explicitly zero".
type LimitsDocument struct {
	MaxSubtaskDepth      *int `json:"max_subtask_depth,omitempty" yaml:"max_subtask_depth,omitempty" mapstructure:"max_subtask_depth"`
	MaxSubtasksPerWorker *int `json:"max_subtasks_per_worker,omitempty" yaml:"max_subtasks_per_worker,omitempty" mapstructure:"max_subtasks_per_worker"`
	MaxParallelSubtasks  *int `json:"max_parallel_subtasks,omitempty" yaml:"max_parallel_subtasks,omitempty" mapstructure:"max_parallel_subtasks"`
	SubtaskSpawnRate     *int `json:"subtask_spawn_rate_limit,omitempty" yaml:"subtask_spawn_rate_limit,omitempty" mapstructure:"subtask_spawn_rate_limit"`
}

// Document is one policy layer. Any field may be absent; absent fields
// inherit from the layer below.
type Document struct {
	AutoApprove []string       `json:"auto_approve,omitempty" yaml:"auto_approve,omitempty" mapstructure:"auto_approve"`
	AskUser     []string       `json:"ask_user,omitempty" yaml:"ask_user,omitempty" mapstructure:"ask_user"`
	AutoDeny    []string       `json:"auto_deny,omitempty" yaml:"auto_deny,omitempty" mapstructure:"auto_deny"`
	Limits      LimitsDocument `json:"limits,omitempty" yaml:"limits,omitempty" mapstructure:"limits"`
}

// Policy is the merged, immutable result of layer composition. A new
// Policy is built on every reload and swapped in atomically.
type Policy struct {
	AutoApprove []string
	AskUser     []string
	AutoDeny    []string
	Limits      Limits

	// Membership indexes built at merge time.
	approve map[string]bool
	ask     map[string]bool
	deny    map[string]bool
}

// Merge composes policy layers in order, lowest first. List fields use
// replace semantics: a layer that specifies a non-empty list supersedes
// the lists below it. Limits merge per key.
func Merge(layers ...Document) *Policy {
	p := &Policy{}
	for _, layer := range layers {
		if len(layer.AutoApprove) > 0 {
			p.AutoApprove = append([]string(nil), layer.AutoApprove...)
		}
		if len(layer.AskUser) > 0 {
			p.AskUser = append([]string(nil), layer.AskUser...)
		}
		if len(layer.AutoDeny) > 0 {
			p.AutoDeny = append([]string(nil), layer.AutoDeny...)
		}
		if layer.Limits.MaxSubtaskDepth != nil {
			p.Limits.MaxSubtaskDepth = *layer.Limits.MaxSubtaskDepth
		}
		if layer.Limits.MaxSubtasksPerWorker != nil {
			p.Limits.MaxSubtasksPerWorker = *layer.Limits.MaxSubtasksPerWorker
		}
		if layer.Limits.MaxParallelSubtasks != nil {
			p.Limits.MaxParallelSubtasks = *layer.Limits.MaxParallelSubtasks
		}
		if layer.Limits.SubtaskSpawnRate != nil {
			p.Limits.SubtaskSpawnRate = *layer.Limits.SubtaskSpawnRate
		}
	}

	p.approve = toSet(p.AutoApprove)
	p.ask = toSet(p.AskUser)
	p.deny = toSet(p.AutoDeny)
	return p
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// Evaluate returns the decision for an action name. Deny wins over
// approve, approve over ask; an action found nowhere defaults to ask so
// unknown actions always require human confirmation.
func (p *Policy) Evaluate(action string) Decision {
	switch {
	case p.deny[action]:
		return DecisionDeny
	case p.approve[action]:
		return DecisionAllow
	case p.ask[action]:
		return DecisionAsk
	default:
		return DecisionAsk
	}
}

// CheckLimit returns true iff currentValue is strictly below the named
// ceiling. Unknown limit names fail closed.
func (p *Policy) CheckLimit(name string, currentValue int) bool {
	limit, ok := p.Limits.Value(name)
	if !ok {
		return false
	}
	return currentValue < limit
}

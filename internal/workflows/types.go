package workflows

import (
	"encoding/json"
	"errors"

	"gopkg.in/yaml.v3"
)

// WorkflowType selects whether a spec is driven forward from a start task
// or backward from its requested outputs.
type WorkflowType string

const (
	TypeDirect  WorkflowType = "direct"
	TypeReverse WorkflowType = "reverse"
)

// Successor is one conditional edge: Task is scheduled when Condition
// evaluates truthy against the post-publish context ("" means unconditional).
type Successor struct {
	Task      string `json:"task" yaml:"task"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Policies groups the three successor lists shared by workflows and tasks.
type Policies struct {
	OnComplete []Successor `json:"on-complete,omitempty" yaml:"on-complete,omitempty"`
	OnSuccess  []Successor `json:"on-success,omitempty" yaml:"on-success,omitempty"`
	OnError    []Successor `json:"on-error,omitempty" yaml:"on-error,omitempty"`
}

// All returns every successor named by any of the three policy lists.
func (p Policies) All() []Successor {
	out := make([]Successor, 0, len(p.OnComplete)+len(p.OnSuccess)+len(p.OnError))
	out = append(out, p.OnComplete...)
	out = append(out, p.OnSuccess...)
	out = append(out, p.OnError...)
	return out
}

// Parameter is one typed input declaration for a WorkflowSpec.
type Parameter struct {
	Name     string      `json:"name" yaml:"name"`
	Type     string      `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Default  interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// RetryPolicy governs how many times a task re-attempts its action on failure.
type RetryPolicy struct {
	Count      int    `json:"count" yaml:"count"`
	Delay      string `json:"delay,omitempty" yaml:"delay,omitempty"`
	ContinueOn string `json:"continue-on,omitempty" yaml:"continue-on,omitempty"`
	BreakOn    string `json:"break-on,omitempty" yaml:"break-on,omitempty"`
}

// JoinPolicy describes the synchronization barrier a task waits on before
// it may be scheduled. Exactly one of All or N is meaningful; a task with
// no JoinPolicy has no inbound barrier.
type JoinPolicy struct {
	All bool `json:"-" yaml:"-"`
	N   int  `json:"-" yaml:"-"`
}

// UnmarshalJSON accepts the wire forms "all" or an integer N.
func (j *JoinPolicy) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != "all" {
			return errors.New(`join must be "all" or an integer`)
		}
		j.All = true
		return nil
	}
	var asInt int
	if err := json.Unmarshal(data, &asInt); err != nil {
		return errors.New(`join must be "all" or an integer`)
	}
	j.N = asInt
	return nil
}

// MarshalJSON round-trips the wire form accepted by UnmarshalJSON.
func (j JoinPolicy) MarshalJSON() ([]byte, error) {
	if j.All {
		return json.Marshal("all")
	}
	return json.Marshal(j.N)
}

// UnmarshalYAML accepts the same wire forms as UnmarshalJSON.
func (j *JoinPolicy) UnmarshalYAML(node *yaml.Node) error {
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return j.UnmarshalJSON(data)
}

// TaskSpec is one node of a WorkflowSpec's task graph.
type TaskSpec struct {
	Name     string `json:"-" yaml:"-"` // populated from the owning map key

	// Exactly one of Action / WorkflowRef is set.
	Action      string `json:"action,omitempty" yaml:"action,omitempty"`
	WorkflowRef string `json:"workflow,omitempty" yaml:"workflow,omitempty"`

	Input       map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`
	WithItems   string                  `json:"with-items,omitempty" yaml:"with-items,omitempty"`
	Retry       *RetryPolicy            `json:"retry,omitempty" yaml:"retry,omitempty"`
	WaitBefore  string                  `json:"wait-before,omitempty" yaml:"wait-before,omitempty"`
	WaitAfter   string                  `json:"wait-after,omitempty" yaml:"wait-after,omitempty"`
	Timeout     string                  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Join        *JoinPolicy             `json:"join,omitempty" yaml:"join,omitempty"`
	Publish     map[string]interface{}  `json:"publish,omitempty" yaml:"publish,omitempty"`
	Policies    `yaml:",inline"`
}

// IsSubWorkflow reports whether the task invokes a nested workflow rather
// than an action.
func (t TaskSpec) IsSubWorkflow() bool {
	return t.WorkflowRef != ""
}

// WorkflowSpec is the immutable, validated representation of one workflow
// document. Identity is (Name, Namespace, Version).
type WorkflowSpec struct {
	Name        string              `json:"name" yaml:"name"`
	Namespace   string              `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Version     int64               `json:"version" yaml:"version"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Type        WorkflowType        `json:"type" yaml:"type"`
	StartTask   string              `json:"start-task,omitempty" yaml:"start-task,omitempty"`
	Parameters  []Parameter         `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Output      string              `json:"output,omitempty" yaml:"output,omitempty"`
	Tasks       map[string]TaskSpec `json:"tasks" yaml:"tasks"`
	Policies    `yaml:",inline"`

	// Checksum is the MD5 of the source document this spec was loaded
	// from; used by the loader to detect content changes (SPEC_FULL §4.1).
	Checksum string `json:"-" yaml:"-"`
}

// normalizeTaskNames copies each task's map key into its Name field, since
// JSON/YAML maps carry the name only as the key.
func (s *WorkflowSpec) normalizeTaskNames() {
	for name, t := range s.Tasks {
		t.Name = name
		s.Tasks[name] = t
	}
}

// ErrValidation indicates the definition failed validation (InvalidModel, SPEC_FULL §7).
var ErrValidation = errors.New("workflow spec validation failed")

// MarshalSpec re-serializes a parsed spec for persistence or inspection (P7 round-trip).
func MarshalSpec(spec *WorkflowSpec) (json.RawMessage, error) {
	if spec == nil {
		return nil, nil
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// ValidationIssue is a structured validation error or warning.
type ValidationIssue struct {
	Code     string      `json:"code"`
	Path     string      `json:"path"`
	Message  string      `json:"message"`
	Expected interface{} `json:"expected,omitempty"`
	Actual   interface{} `json:"actual,omitempty"`
	Hint     string      `json:"hint,omitempty"`
}

// ValidationResult aggregates validation errors and warnings.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// OK reports whether the result carries no errors (warnings are non-fatal).
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

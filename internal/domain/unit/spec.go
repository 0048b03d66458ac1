// Package unit defines the unit specification domain model: what a unit can
// do (capabilities), what it needs (tools, inputs), what it produces
// (outputs) and how success is judged (criteria). Specifications are
// immutable after registration; changing one means re-registering the unit.
package unit

import (
	"fmt"
	"regexp"
	"time"

	"github.com/fkorte/agentpod/internal/domain/resource"
)

// Priority ranks how important a capability is to the unit's purpose.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Capability is one declared skill of a unit. Tools lists the names of
// tool declarations (from Specification.Tools) the capability relies on;
// an empty list means the capability uses all of the unit's required tools.
type Capability struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Priority    Priority `json:"priority" yaml:"priority"`
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// ToolDecl declares a tool the unit needs. Alternative names a substitute
// tool that may be used when the primary is not present in the registry.
type ToolDecl struct {
	Name        string `json:"name" yaml:"name"`
	Purpose     string `json:"purpose" yaml:"purpose"`
	Required    bool   `json:"required" yaml:"required"`
	Alternative string `json:"alternative,omitempty" yaml:"alternative,omitempty"`
}

// IOField is one typed, named input or output of the unit.
type IOField struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
}

// SuccessCriterion is a metric/threshold pair the unit is judged against.
type SuccessCriterion struct {
	Metric    string  `json:"metric" yaml:"metric"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// Constraints bound a unit's execution.
type Constraints struct {
	MaxExecution time.Duration   `json:"max_execution" yaml:"max_execution"`
	MaxRetries   int             `json:"max_retries" yaml:"max_retries"`
	Limits       resource.Limits `json:"limits,omitempty" yaml:"limits,omitempty"`
}

const (
	minCapabilities = 1
	maxCapabilities = 10
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Specification describes everything a unit declares at registration time.
// ID is the unit's slug identifier; Name is its human-readable label.
type Specification struct {
	ID              string             `json:"id" yaml:"id"`
	Name            string             `json:"name" yaml:"name"`
	Version         string             `json:"version,omitempty" yaml:"version,omitempty"`
	Capabilities    []Capability       `json:"capabilities" yaml:"capabilities"`
	Tools           []ToolDecl         `json:"tools" yaml:"tools"`
	Inputs          []IOField          `json:"inputs" yaml:"inputs"`
	Outputs         []IOField          `json:"outputs" yaml:"outputs"`
	Constraints     Constraints        `json:"constraints" yaml:"constraints"`
	SuccessCriteria []SuccessCriterion `json:"success_criteria" yaml:"success_criteria"`
}

// Validate checks the specification for structural completeness. It returns
// one message per violated invariant and an empty slice iff the spec is
// valid. It never panics and never returns an error: malformed content is
// reported as a validation message.
func (s *Specification) Validate() []string {
	var problems []string

	if s == nil {
		return []string{"specification is nil"}
	}

	if s.ID == "" {
		problems = append(problems, "id is required")
	} else if !slugPattern.MatchString(s.ID) {
		problems = append(problems, fmt.Sprintf("id %q is not a valid slug (lowercase alphanumerics and hyphens)", s.ID))
	}
	if s.Name == "" {
		problems = append(problems, "name is required")
	}

	if n := len(s.Capabilities); n < minCapabilities || n > maxCapabilities {
		problems = append(problems, fmt.Sprintf("capabilities count %d is outside [%d,%d]", n, minCapabilities, maxCapabilities))
	}
	declared := make(map[string]bool, len(s.Tools))
	for _, t := range s.Tools {
		declared[t.Name] = true
	}
	for i, c := range s.Capabilities {
		if c.Name == "" {
			problems = append(problems, fmt.Sprintf("capability %d: name is required", i))
		}
		if !c.Priority.Valid() {
			problems = append(problems, fmt.Sprintf("capability %d: priority %q is not one of critical/high/medium/low", i, c.Priority))
		}
		for _, ref := range c.Tools {
			if !declared[ref] {
				problems = append(problems, fmt.Sprintf("capability %d: references undeclared tool %q", i, ref))
			}
		}
	}

	if len(s.Tools) == 0 {
		problems = append(problems, "at least one tool is required")
	}
	for i, t := range s.Tools {
		if t.Name == "" {
			problems = append(problems, fmt.Sprintf("tool %d: name is required", i))
		}
	}

	if len(s.Inputs) == 0 {
		problems = append(problems, "at least one input is required")
	}
	if len(s.Outputs) == 0 {
		problems = append(problems, "at least one output is required")
	}
	for _, f := range s.Inputs {
		if f.Name == "" || f.Type == "" {
			problems = append(problems, "inputs: every field needs a name and a type")
			break
		}
	}
	for _, f := range s.Outputs {
		if f.Name == "" || f.Type == "" {
			problems = append(problems, "outputs: every field needs a name and a type")
			break
		}
	}

	if len(s.SuccessCriteria) == 0 {
		problems = append(problems, "at least one success criterion is required")
	}
	for i, c := range s.SuccessCriteria {
		if c.Metric == "" {
			problems = append(problems, fmt.Sprintf("success criterion %d: metric is required", i))
		}
	}

	if s.Constraints.MaxRetries < 0 {
		problems = append(problems, "constraints: max_retries must not be negative")
	}
	if s.Constraints.MaxExecution < 0 {
		problems = append(problems, "constraints: max_execution must not be negative")
	}

	return problems
}

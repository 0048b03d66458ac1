package unit

import (
	"fmt"
	"sort"
)

// Mapping resolves capability names to the tool declarations that serve them.
type Mapping map[string][]ToolDecl

// MapTools resolves each capability of the spec against the set of available
// tool names. A tool that is absent from the registry but declares an
// alternative that is present is substituted by that alternative; the
// substitute keeps the original purpose and required flag. Unresolvable
// tools are simply omitted — ValidateCoverage reports capabilities left
// with nothing.
func MapTools(spec *Specification, available func(name string) bool) Mapping {
	byName := make(map[string]ToolDecl, len(spec.Tools))
	for _, t := range spec.Tools {
		byName[t.Name] = t
	}

	// A capability without explicit tool references uses every required tool.
	var defaults []string
	for _, t := range spec.Tools {
		if t.Required {
			defaults = append(defaults, t.Name)
		}
	}

	m := make(Mapping, len(spec.Capabilities))
	for _, c := range spec.Capabilities {
		refs := c.Tools
		if len(refs) == 0 {
			refs = defaults
		}

		var resolved []ToolDecl
		for _, name := range refs {
			decl, ok := byName[name]
			if !ok {
				continue
			}
			switch {
			case available(decl.Name):
				resolved = append(resolved, decl)
			case decl.Alternative != "" && available(decl.Alternative):
				sub := decl
				sub.Name = decl.Alternative
				sub.Alternative = ""
				resolved = append(resolved, sub)
			}
		}
		m[c.Name] = resolved
	}
	return m
}

// ValidateCoverage returns one message per capability that resolved to zero
// tools. An empty slice means every capability is covered.
func ValidateCoverage(m Mapping) []string {
	var gaps []string
	for name, tools := range m {
		if len(tools) == 0 {
			gaps = append(gaps, fmt.Sprintf("capability %q has no resolved tools", name))
		}
	}
	sort.Strings(gaps)
	return gaps
}

// MergedToolSet flattens a mapping into the unit's final tool set,
// deduplicated by tool name and sorted for determinism. A tool shared by
// two capabilities appears once.
func MergedToolSet(m Mapping) []ToolDecl {
	seen := make(map[string]bool)
	var out []ToolDecl
	for _, tools := range m {
		for _, t := range tools {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Package resource defines shared resource limit types for unit execution.
package resource

// Limits defines resource constraints applied to a unit while it executes tasks.
type Limits struct {
	MemoryMB     int    `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	CPUQuota     int    `json:"cpu_quota,omitempty" yaml:"cpu_quota,omitempty"`
	MaxPayloadKB int    `json:"max_payload_kb,omitempty" yaml:"max_payload_kb,omitempty"`
	NetworkMode  string `json:"network_mode,omitempty" yaml:"network_mode,omitempty"`
}

// Merge returns a new Limits where non-zero fields from override replace base.
func Merge(base, override Limits) Limits {
	out := base
	if override.MemoryMB > 0 {
		out.MemoryMB = override.MemoryMB
	}
	if override.CPUQuota > 0 {
		out.CPUQuota = override.CPUQuota
	}
	if override.MaxPayloadKB > 0 {
		out.MaxPayloadKB = override.MaxPayloadKB
	}
	if override.NetworkMode != "" {
		out.NetworkMode = override.NetworkMode
	}
	return out
}

// Cap returns a new Limits where each field is capped at the corresponding
// ceiling value. A zero ceiling field means no cap for that field.
func Cap(limits, ceiling Limits) Limits {
	out := limits
	if ceiling.MemoryMB > 0 && out.MemoryMB > ceiling.MemoryMB {
		out.MemoryMB = ceiling.MemoryMB
	}
	if ceiling.CPUQuota > 0 && out.CPUQuota > ceiling.CPUQuota {
		out.CPUQuota = ceiling.CPUQuota
	}
	if ceiling.MaxPayloadKB > 0 && out.MaxPayloadKB > ceiling.MaxPayloadKB {
		out.MaxPayloadKB = ceiling.MaxPayloadKB
	}
	// NetworkMode is not capped
	return out
}

// Package declaration defines the canonical records describing agent types
// and services, and normalizes raw declaration entries into them.
//
// Declaration providers hand over entries in one of three shapes: a bare
// implementation path string, a minimal map carrying only "class", or a
// fully specified map. ParseAgent and ParseService accept all three and
// return one canonical record; anything else is rejected with an
// InvalidDeclarationError.
//
// Records are immutable by convention. Every accessor that hands a record to
// another owner goes through Clone so slices and maps are never shared.
package declaration

import "slices"

// AgentDeclaration describes one agent type and what it needs at runtime.
type AgentDeclaration struct {
	AgentType string `json:"agent_type"`
	ClassPath string `json:"class_path"`

	// ServiceRequirements lists service names in declaration order.
	// Duplicates are allowed here; resolution deduplicates.
	ServiceRequirements []string `json:"service_requirements,omitempty"`

	ProtocolRequirements []string `json:"protocol_requirements,omitempty"`

	// Capabilities is deduplicated, first occurrence wins.
	Capabilities []string `json:"capabilities,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Config   map[string]any `json:"config,omitempty"`

	// Source is the provenance label of the provider that declared it.
	Source string `json:"source"`
}

// ServiceDeclaration describes one service and its dependency surface.
type ServiceDeclaration struct {
	Name      string `json:"name"`
	ClassPath string `json:"class_path"`

	RequiredDependencies []string `json:"required_dependencies,omitempty"`
	OptionalDependencies []string `json:"optional_dependencies,omitempty"`

	ImplementsProtocols []string `json:"implements_protocols,omitempty"`
	RequiredProtocols   []string `json:"required_protocols,omitempty"`

	Singleton     bool   `json:"singleton"`
	LazyLoad      bool   `json:"lazy_load"`
	FactoryMethod string `json:"factory_method,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Config   map[string]any `json:"config,omitempty"`

	Source string `json:"source"`
}

// HasCapability reports whether the agent declares capability c.
func (a AgentDeclaration) HasCapability(c string) bool {
	return slices.Contains(a.Capabilities, c)
}

// Implements reports whether the service implements protocol p.
func (s ServiceDeclaration) Implements(p string) bool {
	return slices.Contains(s.ImplementsProtocols, p)
}

// Clone returns a deep copy of the declaration.
func (a AgentDeclaration) Clone() AgentDeclaration {
	c := a
	c.ServiceRequirements = slices.Clone(a.ServiceRequirements)
	c.ProtocolRequirements = slices.Clone(a.ProtocolRequirements)
	c.Capabilities = slices.Clone(a.Capabilities)
	c.Metadata = cloneMap(a.Metadata)
	c.Config = cloneMap(a.Config)
	return c
}

// Clone returns a deep copy of the declaration.
func (s ServiceDeclaration) Clone() ServiceDeclaration {
	c := s
	c.RequiredDependencies = slices.Clone(s.RequiredDependencies)
	c.OptionalDependencies = slices.Clone(s.OptionalDependencies)
	c.ImplementsProtocols = slices.Clone(s.ImplementsProtocols)
	c.RequiredProtocols = slices.Clone(s.RequiredProtocols)
	c.Metadata = cloneMap(s.Metadata)
	c.Config = cloneMap(s.Config)
	return c
}

// cloneMap deep-copies nested maps and slices produced by YAML/TOML decoding.
// Scalars are copied by value; other reference types are shared.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	default:
		return v
	}
}

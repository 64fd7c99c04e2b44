package presentation

import (
	"time"

	"github.com/zjrosen/agentmap/internal/catalog"
	"github.com/zjrosen/agentmap/internal/compiler"
	"github.com/zjrosen/agentmap/internal/declaration"
	"github.com/zjrosen/agentmap/internal/registry"
)

// ResultDTO represents one compile result for presentation
type ResultDTO struct {
	Graph        string  `json:"graph"`
	Success      bool    `json:"success"`
	UpToDate     bool    `json:"up_to_date"`
	OutputPath   string  `json:"output_path,omitempty"`
	SourcePath   string  `json:"source_path,omitempty"`
	DurationMs   float64 `json:"duration_ms"`
	Nodes        int     `json:"nodes"`
	RegistrySize int     `json:"registry_size"`
	Error        string  `json:"error,omitempty"`

	MissingAgents []string `json:"missing_agents,omitempty"`
	Services      []string `json:"services,omitempty"`
}

// FromResult converts a compile result to a DTO.
func FromResult(r *compiler.Result) ResultDTO {
	dto := ResultDTO{
		Graph:        r.GraphName,
		Success:      r.Success,
		UpToDate:     r.UpToDate,
		OutputPath:   r.OutputPath,
		SourcePath:   r.SourcePath,
		DurationMs:   float64(r.Duration.Microseconds()) / 1000.0,
		Nodes:        r.Stats.NodeCount,
		RegistrySize: r.Stats.RegistrySize,
		Error:        r.Error,
	}
	if r.Bundle != nil {
		dto.MissingAgents = r.Bundle.MissingAgents
		dto.Services = r.Bundle.RequiredServices
	}
	return dto
}

// FromResults converts a batch of results.
func FromResults(results []*compiler.Result) []ResultDTO {
	out := make([]ResultDTO, 0, len(results))
	for _, r := range results {
		out = append(out, FromResult(r))
	}
	return out
}

// AgentDTO represents an agent declaration
type AgentDTO struct {
	Type         string   `json:"type"`
	Class        string   `json:"class"`
	Services     []string `json:"services"` // always present
	Protocols    []string `json:"protocols,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Source       string   `json:"source"`
}

// ServiceDTO represents a service declaration
type ServiceDTO struct {
	Name       string   `json:"name"`
	Class      string   `json:"class"`
	Required   []string `json:"required"` // always present
	Optional   []string `json:"optional,omitempty"`
	Implements []string `json:"implements,omitempty"`
	Singleton  bool     `json:"singleton"`
	LazyLoad   bool     `json:"lazy_load"`
	Source     string   `json:"source"`
}

// RegistryDTO is the full listing of a registry.
type RegistryDTO struct {
	CoreServices []string            `json:"core_services"`
	Agents       []AgentDTO          `json:"agents"`
	Services     []ServiceDTO        `json:"services"`
	Protocols    map[string]string   `json:"protocols,omitempty"`
	Ambiguous    map[string][]string `json:"ambiguous_protocols,omitempty"`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FromAgentDeclaration converts an agent declaration to a DTO.
func FromAgentDeclaration(d declaration.AgentDeclaration) AgentDTO {
	return AgentDTO{
		Type:         d.AgentType,
		Class:        d.ClassPath,
		Services:     nonNil(d.ServiceRequirements),
		Protocols:    d.ProtocolRequirements,
		Capabilities: d.Capabilities,
		Source:       d.Source,
	}
}

// FromServiceDeclaration converts a service declaration to a DTO.
func FromServiceDeclaration(d declaration.ServiceDeclaration) ServiceDTO {
	return ServiceDTO{
		Name:       d.Name,
		Class:      d.ClassPath,
		Required:   nonNil(d.RequiredDependencies),
		Optional:   d.OptionalDependencies,
		Implements: d.ImplementsProtocols,
		Singleton:  d.Singleton,
		LazyLoad:   d.LazyLoad,
		Source:     d.Source,
	}
}

// FromRegistry lists every declaration in sorted order.
func FromRegistry(r *registry.Registry) RegistryDTO {
	dto := RegistryDTO{
		CoreServices: nonNil(r.CoreServices()),
		Agents:       []AgentDTO{},
		Services:     []ServiceDTO{},
		Protocols:    r.ProtocolServiceMap(),
		Ambiguous:    r.AmbiguousProtocols(),
	}
	for _, t := range r.AgentTypes() {
		if d, ok := r.AgentDeclaration(t); ok {
			dto.Agents = append(dto.Agents, FromAgentDeclaration(d))
		}
	}
	for _, name := range r.ServiceNames() {
		if d, ok := r.ServiceDeclaration(name); ok {
			dto.Services = append(dto.Services, FromServiceDeclaration(d))
		}
	}
	return dto
}

// RequirementsDTO represents a resolution result
type RequirementsDTO struct {
	Agents     []string `json:"agents"`
	Services   []string `json:"services"`
	Protocols  []string `json:"protocols"`
	Missing    []string `json:"missing"`
	Unresolved []string `json:"unresolved_services,omitempty"`
}

// FromRequirements converts resolved requirements for agentTypes.
func FromRequirements(agentTypes []string, req registry.Requirements) RequirementsDTO {
	return RequirementsDTO{
		Agents:     nonNil(agentTypes),
		Services:   nonNil(req.Services),
		Protocols:  nonNil(req.Protocols),
		Missing:    nonNil(req.Missing),
		Unresolved: req.UnresolvedServices,
	}
}

// HistoryDTO represents one catalog entry
type HistoryDTO struct {
	ID         int64     `json:"id"`
	Graph      string    `json:"graph"`
	Outcome    string    `json:"outcome"`
	SourcePath string    `json:"source_path,omitempty"`
	SourceHash string    `json:"source_hash,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	Nodes      int       `json:"nodes"`
	Services   int       `json:"services"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FromEntries converts catalog entries, preserving order.
func FromEntries(entries []*catalog.Entry) []HistoryDTO {
	out := make([]HistoryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryDTO{
			ID:         e.ID,
			Graph:      e.GraphName,
			Outcome:    string(e.Outcome),
			SourcePath: e.SourcePath,
			SourceHash: e.SourceHash,
			OutputPath: e.OutputPath,
			Nodes:      e.NodeCount,
			Services:   e.ServiceCount,
			DurationMs: e.Duration.Milliseconds(),
			Error:      e.Error,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

// ValidationDTO reports DSL problems for one file.
type ValidationDTO struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

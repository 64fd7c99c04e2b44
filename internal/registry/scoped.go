package registry

import (
	"github.com/google/uuid"

	"github.com/zjrosen/agentmap/internal/declaration"
)

// ScopedRegistry is an immutable, run-local view over a subset of
// declarations. All methods are safe for concurrent use without locking.
type ScopedRegistry struct {
	set        *declarationSet
	runID      string
	bundleName string
}

// Ensure ScopedRegistry implements Reader.
var _ Reader = (*ScopedRegistry)(nil)

// ScopedOption configures NewScopedRegistry.
type ScopedOption func(*scopedOptions)

type scopedOptions struct {
	agentOrder   []string
	serviceOrder []string
	runID        string
	bundleName   string
}

// WithServiceOrder sets the registration order used to break protocol ties.
// Services not listed follow in sorted order.
func WithServiceOrder(names []string) ScopedOption {
	return func(o *scopedOptions) { o.serviceOrder = names }
}

// WithAgentOrder sets the agent enumeration order.
func WithAgentOrder(types []string) ScopedOption {
	return func(o *scopedOptions) { o.agentOrder = types }
}

// WithRunID sets the run identifier. A random one is generated otherwise.
func WithRunID(id string) ScopedOption {
	return func(o *scopedOptions) { o.runID = id }
}

// WithBundleName labels the registry with the bundle it serves.
func WithBundleName(name string) ScopedOption {
	return func(o *scopedOptions) { o.bundleName = name }
}

// NewScopedRegistry builds a scoped registry from deep copies of agents and
// services. Later changes to the caller's maps or declarations are not
// visible through the registry.
func NewScopedRegistry(
	agents map[string]declaration.AgentDeclaration,
	services map[string]declaration.ServiceDeclaration,
	opts ...ScopedOption,
) *ScopedRegistry {
	var o scopedOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	agentCopy := make(map[string]declaration.AgentDeclaration, len(agents))
	for k, d := range agents {
		agentCopy[k] = d.Clone()
	}
	serviceCopy := make(map[string]declaration.ServiceDeclaration, len(services))
	for k, d := range services {
		serviceCopy[k] = d.Clone()
	}

	return &ScopedRegistry{
		set: newDeclarationSet(
			agentCopy,
			serviceCopy,
			orderFor(agentCopy, o.agentOrder),
			orderFor(serviceCopy, o.serviceOrder),
		),
		runID:      o.runID,
		bundleName: o.bundleName,
	}
}

// RunID identifies the run this registry was created for.
func (s *ScopedRegistry) RunID() string { return s.runID }

// BundleName is the bundle this registry serves, if any.
func (s *ScopedRegistry) BundleName() string { return s.bundleName }

// Size is the number of agent plus service declarations held.
func (s *ScopedRegistry) Size() int {
	return len(s.set.agents) + len(s.set.services)
}

func (s *ScopedRegistry) AgentDeclaration(agentType string) (declaration.AgentDeclaration, bool) {
	return s.set.agent(agentType)
}

func (s *ScopedRegistry) ServiceDeclaration(name string) (declaration.ServiceDeclaration, bool) {
	return s.set.service(name)
}

func (s *ScopedRegistry) AgentTypes() []string { return s.set.agentTypes() }

func (s *ScopedRegistry) ServiceNames() []string { return s.set.serviceNames() }

func (s *ScopedRegistry) ServicesByProtocols(protocols ...string) []declaration.ServiceDeclaration {
	return s.set.servicesByProtocols(protocols)
}

func (s *ScopedRegistry) ProtocolServiceMap() map[string]string {
	return s.set.protocolServiceMap()
}

func (s *ScopedRegistry) ResolveAgentRequirements(agentTypes ...string) Requirements {
	return s.set.resolveAgentRequirements(agentTypes)
}

func (s *ScopedRegistry) ResolveServiceDependencies(names ...string) []string {
	return s.set.resolveServiceDependencies(names)
}

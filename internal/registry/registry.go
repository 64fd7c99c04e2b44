package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zjrosen/agentmap/internal/declaration"
	"github.com/zjrosen/agentmap/internal/log"
)

var (
	// ErrRegistryFrozen is returned by writes after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrEmptyName is returned when a declaration has no agent type or service name.
	ErrEmptyName = errors.New("declaration name is empty")
)

// DefaultCoreServices are always included in scoped registries; every run
// needs them regardless of which agents it uses.
var DefaultCoreServices = []string{
	"logging_service",
	"config_service",
	"execution_tracking_service",
	"state_adapter_service",
	"prompt_manager_service",
}

// BundleRequirements is what a compiled bundle exposes to the registry.
type BundleRequirements interface {
	BundleName() string
	RequiredAgentTypes() []string
	RequiredServiceNames() []string
}

// Registry is the process-wide declaration store.
type Registry struct {
	mu     sync.Mutex // serializes writers
	set    atomic.Pointer[declarationSet]
	frozen atomic.Bool

	coreServices []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithCoreServices replaces DefaultCoreServices.
func WithCoreServices(names ...string) Option {
	return func(r *Registry) {
		r.coreServices = slices.Clone(names)
	}
}

// New creates an empty registry in its registration phase.
func New(opts ...Option) *Registry {
	r := &Registry{coreServices: slices.Clone(DefaultCoreServices)}
	for _, opt := range opts {
		opt(r)
	}
	r.set.Store(emptySet)
	return r
}

// Ensure Registry implements Reader.
var _ Reader = (*Registry)(nil)

// AddAgentDeclaration inserts or replaces an agent declaration.
func (r *Registry) AddAgentDeclaration(d declaration.AgentDeclaration) error {
	return r.AddDeclarations([]declaration.AgentDeclaration{d}, nil)
}

// AddServiceDeclaration inserts or replaces a service declaration.
func (r *Registry) AddServiceDeclaration(d declaration.ServiceDeclaration) error {
	return r.AddDeclarations(nil, []declaration.ServiceDeclaration{d})
}

// AddDeclarations inserts or replaces a batch of declarations and publishes
// one new snapshot. A replaced declaration keeps its original registration
// position. Nothing is written if any declaration has an empty name.
func (r *Registry) AddDeclarations(agents []declaration.AgentDeclaration, services []declaration.ServiceDeclaration) error {
	for _, a := range agents {
		if strings.TrimSpace(a.AgentType) == "" {
			return fmt.Errorf("adding agent declaration (source %s): %w", a.Source, ErrEmptyName)
		}
	}
	for _, s := range services {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("adding service declaration (source %s): %w", s.Source, ErrEmptyName)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	cur := r.set.Load()
	agentMap := maps.Clone(cur.agents)
	serviceMap := maps.Clone(cur.services)
	agentOrder := slices.Clone(cur.agentOrder)
	serviceOrder := slices.Clone(cur.serviceOrder)

	for _, a := range agents {
		if _, exists := agentMap[a.AgentType]; exists {
			log.Debug(log.CatRegistry, "replacing agent declaration", "agent", a.AgentType, "source", a.Source)
		} else {
			agentOrder = append(agentOrder, a.AgentType)
		}
		agentMap[a.AgentType] = a.Clone()
	}
	for _, s := range services {
		if _, exists := serviceMap[s.Name]; exists {
			log.Debug(log.CatRegistry, "replacing service declaration", "service", s.Name, "source", s.Source)
		} else {
			serviceOrder = append(serviceOrder, s.Name)
		}
		serviceMap[s.Name] = s.Clone()
	}

	r.set.Store(newDeclarationSet(agentMap, serviceMap, agentOrder, serviceOrder))
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// CoreServices returns the service names every scoped registry includes.
func (r *Registry) CoreServices() []string {
	return slices.Clone(r.coreServices)
}

func (r *Registry) AgentDeclaration(agentType string) (declaration.AgentDeclaration, bool) {
	return r.set.Load().agent(agentType)
}

func (r *Registry) ServiceDeclaration(name string) (declaration.ServiceDeclaration, bool) {
	return r.set.Load().service(name)
}

// AgentTypes returns every registered agent type, sorted.
func (r *Registry) AgentTypes() []string {
	return r.set.Load().agentTypes()
}

// ServiceNames returns every registered service name, sorted.
func (r *Registry) ServiceNames() []string {
	return r.set.Load().serviceNames()
}

// ServicesByProtocols returns services implementing any of the protocols,
// in registration order.
func (r *Registry) ServicesByProtocols(protocols ...string) []declaration.ServiceDeclaration {
	return r.set.Load().servicesByProtocols(protocols)
}

// ProtocolServiceMap maps each protocol to the first registered service
// implementing it.
func (r *Registry) ProtocolServiceMap() map[string]string {
	return r.set.Load().protocolServiceMap()
}

// AmbiguousProtocols lists protocols with more than one implementer, the
// winning service first.
func (r *Registry) AmbiguousProtocols() map[string][]string {
	return r.set.Load().ambiguousProtocols()
}

func (r *Registry) ResolveAgentRequirements(agentTypes ...string) Requirements {
	return r.set.Load().resolveAgentRequirements(agentTypes)
}

func (r *Registry) ResolveServiceDependencies(names ...string) []string {
	return r.set.Load().resolveServiceDependencies(names)
}

// CreateScopedRegistryForBundle builds a frozen registry holding exactly
// the declarations b needs plus the core services. It only reads the
// current snapshot and is safe to call concurrently.
func (r *Registry) CreateScopedRegistryForBundle(b BundleRequirements) *ScopedRegistry {
	snap := r.set.Load()

	agentTypes := b.RequiredAgentTypes()
	req := snap.resolveAgentRequirements(agentTypes)

	seeds := make([]string, 0, len(req.Services)+len(r.coreServices))
	seeds = append(seeds, req.Services...)
	seeds = append(seeds, b.RequiredServiceNames()...)
	seeds = append(seeds, r.coreServices...)
	closure := snap.closure(seeds, req.Protocols, true)

	scoped := &ScopedRegistry{
		set:        snap.subset(agentTypes, closure.sortedServices()),
		runID:      uuid.NewString(),
		bundleName: b.BundleName(),
	}

	log.Debug(log.CatRegistry, "created scoped registry",
		"bundle", b.BundleName(),
		"run", scoped.runID,
		"agents", len(scoped.set.agents),
		"services", len(scoped.set.services),
		"missing_agents", len(req.Missing))

	return scoped
}

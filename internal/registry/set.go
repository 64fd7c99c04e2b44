package registry

import (
	"slices"
	"sort"

	"github.com/zjrosen/agentmap/internal/declaration"
)

// Reader is the read surface shared by the global and scoped registries.
type Reader interface {
	AgentDeclaration(agentType string) (declaration.AgentDeclaration, bool)
	ServiceDeclaration(name string) (declaration.ServiceDeclaration, bool)
	AgentTypes() []string
	ServiceNames() []string
	ServicesByProtocols(protocols ...string) []declaration.ServiceDeclaration
	ProtocolServiceMap() map[string]string
	ResolveAgentRequirements(agentTypes ...string) Requirements
	ResolveServiceDependencies(names ...string) []string
}

// Requirements is the result of resolving a set of agent types.
// All slices are sorted.
type Requirements struct {
	// Services is the transitive closure of required service names.
	Services []string `json:"services"`

	// Protocols is the union of protocols required by the agents and by
	// every visited service.
	Protocols []string `json:"protocols"`

	// Missing lists agent types with no declaration.
	Missing []string `json:"missing,omitempty"`

	// UnresolvedServices lists service names that were required but have
	// no declaration. They still appear in Services.
	UnresolvedServices []string `json:"unresolved_services,omitempty"`
}

// declarationSet is an immutable snapshot of declarations. Nothing mutates
// a set after newDeclarationSet returns.
type declarationSet struct {
	agents       map[string]declaration.AgentDeclaration
	services     map[string]declaration.ServiceDeclaration
	agentOrder   []string
	serviceOrder []string

	protocolMap map[string]string
	ambiguous   map[string][]string
}

var emptySet = newDeclarationSet(nil, nil, nil, nil)

// newDeclarationSet takes ownership of the maps and order slices.
func newDeclarationSet(
	agents map[string]declaration.AgentDeclaration,
	services map[string]declaration.ServiceDeclaration,
	agentOrder, serviceOrder []string,
) *declarationSet {
	if agents == nil {
		agents = make(map[string]declaration.AgentDeclaration)
	}
	if services == nil {
		services = make(map[string]declaration.ServiceDeclaration)
	}
	s := &declarationSet{
		agents:       agents,
		services:     services,
		agentOrder:   agentOrder,
		serviceOrder: serviceOrder,
		protocolMap:  make(map[string]string),
		ambiguous:    make(map[string][]string),
	}

	// First registered implementer wins.
	for _, name := range serviceOrder {
		for _, p := range services[name].ImplementsProtocols {
			if first, taken := s.protocolMap[p]; taken {
				if first != name && !slices.Contains(s.ambiguous[p], name) {
					if len(s.ambiguous[p]) == 0 {
						s.ambiguous[p] = []string{first}
					}
					s.ambiguous[p] = append(s.ambiguous[p], name)
				}
				continue
			}
			s.protocolMap[p] = name
		}
	}
	return s
}

// orderFor returns order filtered to keys present in m, followed by any
// remaining keys in sorted order.
func orderFor[V any](m map[string]V, order []string) []string {
	out := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, name := range order {
		if _, ok := m[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var rest []string
	for name := range m {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func (s *declarationSet) agent(agentType string) (declaration.AgentDeclaration, bool) {
	d, ok := s.agents[agentType]
	if !ok {
		return declaration.AgentDeclaration{}, false
	}
	return d.Clone(), true
}

func (s *declarationSet) service(name string) (declaration.ServiceDeclaration, bool) {
	d, ok := s.services[name]
	if !ok {
		return declaration.ServiceDeclaration{}, false
	}
	return d.Clone(), true
}

func (s *declarationSet) agentTypes() []string {
	out := slices.Clone(s.agentOrder)
	sort.Strings(out)
	return out
}

func (s *declarationSet) serviceNames() []string {
	out := slices.Clone(s.serviceOrder)
	sort.Strings(out)
	return out
}

func (s *declarationSet) servicesByProtocols(protocols []string) []declaration.ServiceDeclaration {
	if len(protocols) == 0 {
		return nil
	}
	want := make(map[string]bool, len(protocols))
	for _, p := range protocols {
		want[p] = true
	}
	var out []declaration.ServiceDeclaration
	for _, name := range s.serviceOrder {
		d := s.services[name]
		for _, p := range d.ImplementsProtocols {
			if want[p] {
				out = append(out, d.Clone())
				break
			}
		}
	}
	return out
}

func (s *declarationSet) protocolServiceMap() map[string]string {
	out := make(map[string]string, len(s.protocolMap))
	for p, name := range s.protocolMap {
		out[p] = name
	}
	return out
}

func (s *declarationSet) ambiguousProtocols() map[string][]string {
	out := make(map[string][]string, len(s.ambiguous))
	for p, names := range s.ambiguous {
		out[p] = slices.Clone(names)
	}
	return out
}

func (s *declarationSet) resolveAgentRequirements(agentTypes []string) Requirements {
	protocols := make(map[string]bool)
	missing := make(map[string]bool)
	var seeds []string

	for _, agentType := range agentTypes {
		d, ok := s.agents[agentType]
		if !ok {
			missing[agentType] = true
			continue
		}
		seeds = append(seeds, d.ServiceRequirements...)
		for _, p := range d.ProtocolRequirements {
			protocols[p] = true
		}
	}

	c := s.closure(seeds, sortedKeys(protocols), true)
	for p := range c.protocols {
		protocols[p] = true
	}

	return Requirements{
		Services:           c.sortedServices(),
		Protocols:          sortedKeys(protocols),
		Missing:            sortedKeys(missing),
		UnresolvedServices: sortedKeys(c.unresolved),
	}
}

func (s *declarationSet) resolveServiceDependencies(names []string) []string {
	return s.closure(names, nil, false).sortedServices()
}

type closureResult struct {
	visited    map[string]bool
	protocols  map[string]bool
	unresolved map[string]bool
}

func (c closureResult) sortedServices() []string {
	return sortedKeys(c.visited)
}

// closure walks breadth-first from seeds through required dependencies.
// When followProtocols is set, each required protocol (from seedProtocols
// or from a visited service) enqueues the service the protocol map assigns.
func (s *declarationSet) closure(seeds, seedProtocols []string, followProtocols bool) closureResult {
	res := closureResult{
		visited:    make(map[string]bool),
		protocols:  make(map[string]bool),
		unresolved: make(map[string]bool),
	}

	queue := make([]string, 0, len(seeds))
	enqueue := func(name string) {
		if name == "" || res.visited[name] {
			return
		}
		res.visited[name] = true
		queue = append(queue, name)
	}
	requireProtocol := func(p string) {
		res.protocols[p] = true
		if !followProtocols {
			return
		}
		if provider, ok := s.protocolMap[p]; ok {
			enqueue(provider)
		}
	}

	for _, name := range seeds {
		enqueue(name)
	}
	for _, p := range seedProtocols {
		requireProtocol(p)
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		d, ok := s.services[name]
		if !ok {
			res.unresolved[name] = true
			continue
		}
		for _, dep := range d.RequiredDependencies {
			enqueue(dep)
		}
		for _, p := range d.RequiredProtocols {
			requireProtocol(p)
		}
	}

	if !followProtocols {
		res.protocols = map[string]bool{}
	}
	return res
}

// subset copies the declarations named in agentTypes and serviceNames.
// Names with no declaration are dropped.
func (s *declarationSet) subset(agentTypes, serviceNames []string) *declarationSet {
	agents := make(map[string]declaration.AgentDeclaration, len(agentTypes))
	for _, t := range agentTypes {
		if d, ok := s.agents[t]; ok {
			agents[t] = d.Clone()
		}
	}
	services := make(map[string]declaration.ServiceDeclaration, len(serviceNames))
	for _, name := range serviceNames {
		if d, ok := s.services[name]; ok {
			services[name] = d.Clone()
		}
	}
	return newDeclarationSet(agents, services, orderFor(agents, s.agentOrder), orderFor(services, s.serviceOrder))
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

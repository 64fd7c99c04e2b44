// Package bundle defines the compiled workflow artifact and its file store.
package bundle

import (
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/zjrosen/agentmap/internal/graph"
	"github.com/zjrosen/agentmap/internal/registry"
)

// FormatVersion is written into every bundle. Bundles with another version
// are treated as stale.
const FormatVersion = 1

// Bundle pairs a compiled graph with its resolved dependency footprint.
type Bundle struct {
	Version    int       `json:"version"`
	GraphName  string    `json:"graph_name"`
	EntryPoint string    `json:"entry_point"`
	SourcePath string    `json:"source_path,omitempty"`
	SourceHash string    `json:"source_hash"`
	CreatedAt  time.Time `json:"created_at"`

	Nodes     map[string]*graph.Node `json:"nodes"`
	NodeOrder []string               `json:"node_order"`

	RequiredAgents     []string `json:"required_agents"`
	RequiredServices   []string `json:"required_services"`
	RequiredProtocols  []string `json:"required_protocols,omitempty"`
	MissingAgents      []string `json:"missing_agents,omitempty"`
	UnresolvedServices []string `json:"unresolved_services,omitempty"`

	// FunctionMappings maps node name to the routing function it references.
	FunctionMappings map[string]string `json:"function_mappings,omitempty"`

	registry *registry.ScopedRegistry
}

// Ensure Bundle can seed a scoped registry.
var _ registry.BundleRequirements = (*Bundle)(nil)

// New assembles a bundle from a built graph and its resolved requirements.
// hash is the content hash of the source the graph was built from.
func New(g *graph.Graph, req registry.Requirements, sourcePath, hash string) *Bundle {
	c := g.Clone()
	return &Bundle{
		Version:            FormatVersion,
		GraphName:          c.Name,
		EntryPoint:         c.EntryPoint,
		SourcePath:         sourcePath,
		SourceHash:         hash,
		CreatedAt:          time.Now().UTC(),
		Nodes:              c.Nodes,
		NodeOrder:          c.Order,
		RequiredAgents:     c.AgentTypes(),
		RequiredServices:   slices.Clone(req.Services),
		RequiredProtocols:  slices.Clone(req.Protocols),
		MissingAgents:      slices.Clone(req.Missing),
		UnresolvedServices: slices.Clone(req.UnresolvedServices),
		FunctionMappings:   c.FunctionRefs(),
	}
}

func (b *Bundle) BundleName() string { return b.GraphName }

func (b *Bundle) RequiredAgentTypes() []string { return slices.Clone(b.RequiredAgents) }

func (b *Bundle) RequiredServiceNames() []string { return slices.Clone(b.RequiredServices) }

// Graph reconstructs the graph without re-parsing the source.
func (b *Bundle) Graph() *graph.Graph {
	g := &graph.Graph{
		Name:       b.GraphName,
		EntryPoint: b.EntryPoint,
		Nodes:      b.Nodes,
		Order:      b.NodeOrder,
	}
	if len(g.Order) != len(g.Nodes) {
		// Older artifacts may lack an order; fall back to sorted names.
		g.Order = make([]string, 0, len(b.Nodes))
		for name := range b.Nodes {
			g.Order = append(g.Order, name)
		}
		sort.Strings(g.Order)
	}
	return g.Clone()
}

// Clone returns a deep copy without the attached registry.
func (b *Bundle) Clone() *Bundle {
	c := *b
	c.Nodes = make(map[string]*graph.Node, len(b.Nodes))
	for name, n := range b.Graph().Nodes {
		c.Nodes[name] = n
	}
	c.NodeOrder = slices.Clone(b.NodeOrder)
	c.RequiredAgents = slices.Clone(b.RequiredAgents)
	c.RequiredServices = slices.Clone(b.RequiredServices)
	c.RequiredProtocols = slices.Clone(b.RequiredProtocols)
	c.MissingAgents = slices.Clone(b.MissingAgents)
	c.UnresolvedServices = slices.Clone(b.UnresolvedServices)
	c.FunctionMappings = maps.Clone(b.FunctionMappings)
	c.registry = nil
	return &c
}

// NodeCount is the number of nodes in the bundled graph.
func (b *Bundle) NodeCount() int { return len(b.Nodes) }

// AttachRegistry binds a scoped registry for one run. It is never persisted.
func (b *Bundle) AttachRegistry(r *registry.ScopedRegistry) { b.registry = r }

// Registry returns the attached scoped registry, or nil.
func (b *Bundle) Registry() *registry.ScopedRegistry { return b.registry }

// Matches reports whether b was built from content with the given hash by
// this format version.
func (b *Bundle) Matches(hash string) bool {
	return b.Version == FormatVersion && b.SourceHash != "" && b.SourceHash == hash
}

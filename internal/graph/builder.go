package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zjrosen/agentmap/internal/dsl"
	"github.com/zjrosen/agentmap/internal/log"
)

// Builder converts DSL rows into graphs.
type Builder struct {
	// StrictEntryPoint makes a graph with no node free of incoming edges
	// fail with ErrNoEntryPoint instead of falling back to the first node.
	StrictEntryPoint bool
}

// defaultBuilder backs the package-level helpers.
var defaultBuilder = &Builder{}

// Build builds one graph from its rows.
func Build(name string, specs []dsl.NodeSpec) (*Graph, error) {
	return defaultBuilder.Build(name, specs)
}

// BuildFromCSV builds one graph from a DSL file. An empty name selects the
// first graph in the file. A missing name fails with GraphNotFoundError.
func (b *Builder) BuildFromCSV(path, name string) (*Graph, error) {
	specs, err := dsl.Parse(path)
	if err != nil {
		return nil, err
	}
	return b.BuildFromSpecs(specs, path, name)
}

// BuildFromSpecs selects name from already parsed specs and builds it. path
// only labels errors.
func (b *Builder) BuildFromSpecs(specs *dsl.Specs, path, name string) (*Graph, error) {
	if name == "" {
		if len(specs.Order) == 0 {
			return nil, &GraphNotFoundError{Path: path}
		}
		name = specs.Order[0]
	}

	rows, ok := specs.Graph(name)
	if !ok {
		available := append([]string(nil), specs.Order...)
		sort.Strings(available)
		return nil, &GraphNotFoundError{Name: name, Path: path, Available: available}
	}
	return b.Build(name, rows)
}

// BuildFromCSV builds one graph from a DSL file with the default builder.
func BuildFromCSV(path, name string) (*Graph, error) {
	return defaultBuilder.BuildFromCSV(path, name)
}

// BuildAllFromCSV builds every graph in a DSL file.
func BuildAllFromCSV(path string) (map[string]*Graph, error) {
	return defaultBuilder.BuildAllFromCSV(path)
}

// Build builds one graph from its rows. The first row per node name wins;
// later duplicates are logged and ignored.
func (b *Builder) Build(name string, specs []dsl.NodeSpec) (*Graph, error) {
	g := &Graph{
		Name:  name,
		Nodes: make(map[string]*Node, len(specs)),
	}

	var kept []dsl.NodeSpec
	for _, spec := range specs {
		if _, dup := g.Nodes[spec.Name]; dup {
			log.Warn(log.CatGraph, "ignoring duplicate node definition",
				"graph", name, "node", spec.Name, "line", spec.Line)
			continue
		}
		g.Nodes[spec.Name] = &Node{
			Name:        spec.Name,
			AgentType:   spec.AgentType,
			Context:     spec.Context,
			Inputs:      spec.InputFields,
			Output:      spec.OutputField,
			Prompt:      spec.Prompt,
			Description: spec.Description,
		}
		g.Order = append(g.Order, spec.Name)
		kept = append(kept, spec)
	}

	for _, spec := range kept {
		if err := wireEdges(g, g.Nodes[spec.Name], spec); err != nil {
			return nil, err
		}
	}

	if err := validateTargets(g); err != nil {
		return nil, err
	}

	entry, err := b.entryPoint(g)
	if err != nil {
		return nil, err
	}
	g.EntryPoint = entry

	log.Debug(log.CatGraph, "built graph", "graph", name, "nodes", len(g.Nodes), "entry", entry)
	return g, nil
}

// BuildAllFromCSV builds every graph in a DSL file. A graph that fails to
// build is left out of the result; its error is joined into the returned
// error while the other graphs are still returned.
func (b *Builder) BuildAllFromCSV(path string) (map[string]*Graph, error) {
	specs, err := dsl.Parse(path)
	if err != nil {
		return nil, err
	}
	return b.BuildAll(specs)
}

// BuildAll builds every graph in parsed specs.
func (b *Builder) BuildAll(specs *dsl.Specs) (map[string]*Graph, error) {
	graphs := make(map[string]*Graph, len(specs.Order))
	var errs []error
	for _, name := range specs.Order {
		g, err := b.Build(name, specs.Graphs[name])
		if err != nil {
			log.ErrorErr(log.CatGraph, "graph build failed", err, "graph", name)
			errs = append(errs, err)
			continue
		}
		graphs[name] = g
	}
	return graphs, errors.Join(errs...)
}

func wireEdges(g *Graph, n *Node, spec dsl.NodeSpec) error {
	if spec.Edge != "" && (spec.SuccessNext != "" || spec.FailureNext != "") {
		return &InvalidEdgeDefinitionError{Graph: g.Name, Node: n.Name}
	}

	edges := make(map[string]string)
	if spec.Edge != "" {
		edges[EdgeDefault] = spec.Edge
	}
	if spec.SuccessNext != "" {
		edges[EdgeSuccess] = spec.SuccessNext
	}
	if spec.FailureNext != "" {
		edges[EdgeFailure] = spec.FailureNext
	}
	if len(edges) > 0 {
		n.Edges = edges
	}
	return nil
}

func validateTargets(g *Graph) error {
	for _, name := range g.Order {
		n := g.Nodes[name]
		for _, label := range edgeLabels {
			target, ok := n.Edges[label]
			if !ok {
				continue
			}
			if _, isFunc := FunctionRef(target); isFunc {
				continue
			}
			if _, exists := g.Nodes[target]; !exists {
				return &MissingEdgeTargetError{Graph: g.Name, Node: name, Label: label, Target: target}
			}
		}
	}
	return nil
}

// entryPoint picks the node with no incoming edge. Several candidates
// resolve to the alphabetically first; none (a cycle) resolves to the first
// constructed node unless the builder is strict.
func (b *Builder) entryPoint(g *Graph) (string, error) {
	if len(g.Order) == 0 {
		return "", nil
	}

	incoming := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		for _, target := range n.Targets() {
			incoming[target] = true
		}
	}

	var candidates []string
	for _, name := range g.Order {
		if !incoming[name] {
			candidates = append(candidates, name)
		}
	}

	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		if b.StrictEntryPoint {
			return "", fmt.Errorf("graph %q: every node has an incoming edge: %w", g.Name, ErrNoEntryPoint)
		}
		log.Warn(log.CatGraph, "no node without incoming edges, using first node as entry point",
			"graph", g.Name, "entry", g.Order[0])
		return g.Order[0], nil
	default:
		sort.Strings(candidates)
		log.Warn(log.CatGraph, "multiple entry point candidates, using alphabetically first",
			"graph", g.Name, "entry", candidates[0], "candidates", candidates)
		return candidates[0], nil
	}
}

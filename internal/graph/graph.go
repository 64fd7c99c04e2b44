// Package graph builds validated workflow graphs from parsed DSL rows.
package graph

import (
	"slices"
	"sort"
	"strings"
)

// Edge labels.
const (
	EdgeDefault = "default"
	EdgeSuccess = "success"
	EdgeFailure = "failure"
)

// edgeLabels is the fixed order labels are examined in.
var edgeLabels = []string{EdgeDefault, EdgeSuccess, EdgeFailure}

// FunctionPrefix marks an edge target as a routing function reference
// rather than a node name.
const FunctionPrefix = "func:"

// FunctionRef reports whether target is a routing function reference and
// returns the function name.
func FunctionRef(target string) (string, bool) {
	if !strings.HasPrefix(target, FunctionPrefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(target, FunctionPrefix))
	return name, name != ""
}

// Node is one step of a workflow graph.
type Node struct {
	Name        string            `json:"name"`
	AgentType   string            `json:"agent_type,omitempty"`
	Context     string            `json:"context,omitempty"`
	Inputs      []string          `json:"inputs,omitempty"`
	Output      string            `json:"output,omitempty"`
	Prompt      string            `json:"prompt,omitempty"`
	Description string            `json:"description,omitempty"`
	Edges       map[string]string `json:"edges,omitempty"`
}

// Edge returns the target wired under label.
func (n *Node) Edge(label string) (string, bool) {
	t, ok := n.Edges[label]
	return t, ok
}

// Targets returns the node's edge targets in label order.
func (n *Node) Targets() []string {
	var out []string
	for _, label := range edgeLabels {
		if t, ok := n.Edges[label]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (n *Node) clone() *Node {
	c := *n
	c.Inputs = slices.Clone(n.Inputs)
	if n.Edges != nil {
		c.Edges = make(map[string]string, len(n.Edges))
		for k, v := range n.Edges {
			c.Edges[k] = v
		}
	}
	return &c
}

// Graph is a finalized workflow graph. It is read-only once built.
type Graph struct {
	Name       string           `json:"name"`
	EntryPoint string           `json:"entry_point"`
	Nodes      map[string]*Node `json:"nodes"`

	// Order lists node names in construction order.
	Order []string `json:"order"`
}

// Node looks up a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.Nodes[name]
	return n, ok
}

// Len is the number of nodes.
func (g *Graph) Len() int { return len(g.Nodes) }

// AgentTypes returns the distinct agent types used by the graph, sorted.
func (g *Graph) AgentTypes() []string {
	seen := make(map[string]bool)
	for _, n := range g.Nodes {
		if n.AgentType != "" {
			seen[n.AgentType] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// FunctionRefs maps each node routing through a function to the function
// name. A node with several function edges maps to the first in label order.
func (g *Graph) FunctionRefs() map[string]string {
	out := make(map[string]string)
	for _, name := range g.Order {
		for _, target := range g.Nodes[name].Targets() {
			if fn, ok := FunctionRef(target); ok {
				out[name] = fn
				break
			}
		}
	}
	return out
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:       g.Name,
		EntryPoint: g.EntryPoint,
		Nodes:      make(map[string]*Node, len(g.Nodes)),
		Order:      slices.Clone(g.Order),
	}
	for name, n := range g.Nodes {
		c.Nodes[name] = n.clone()
	}
	return c
}

package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrInvalidEdgeDefinition indicates a node mixing a direct edge with
	// success/failure edges.
	ErrInvalidEdgeDefinition = errors.New("invalid edge definition")

	// ErrMissingEdgeTarget indicates an edge naming a node absent from its graph.
	ErrMissingEdgeTarget = errors.New("missing edge target")

	// ErrGraphNotFound indicates a requested graph name absent from the source.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrNoEntryPoint indicates every node has an incoming edge. Only
	// returned by a Builder with StrictEntryPoint set.
	ErrNoEntryPoint = errors.New("no entry point")
)

// InvalidEdgeDefinitionError names the node whose edges conflict.
// Wraps ErrInvalidEdgeDefinition.
type InvalidEdgeDefinitionError struct {
	Graph string
	Node  string
}

func (e *InvalidEdgeDefinitionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: node %q in graph %q has both a direct edge and success/failure edges",
		ErrInvalidEdgeDefinition, e.Node, e.Graph)
}

func (e *InvalidEdgeDefinitionError) Unwrap() error { return ErrInvalidEdgeDefinition }

// MissingEdgeTargetError names the node, edge label, target, and graph of a
// dangling edge. Wraps ErrMissingEdgeTarget.
type MissingEdgeTargetError struct {
	Graph  string
	Node   string
	Label  string
	Target string
}

func (e *MissingEdgeTargetError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: node %q %s edge points to %q, which does not exist in graph %q",
		ErrMissingEdgeTarget, e.Node, e.Label, e.Target, e.Graph)
}

func (e *MissingEdgeTargetError) Unwrap() error { return ErrMissingEdgeTarget }

// GraphNotFoundError lists the graphs that were found instead.
// Wraps ErrGraphNotFound.
type GraphNotFoundError struct {
	Name      string
	Path      string
	Available []string
}

func (e *GraphNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	available := "none"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("%s: %q in %s (available: %s)", ErrGraphNotFound, e.Name, e.Path, available)
}

func (e *GraphNotFoundError) Unwrap() error { return ErrGraphNotFound }

// Package dsl reads the tabular workflow format into per-node specifications
// grouped by graph name.
package dsl

import (
	"sort"
	"strings"
)

// Column is a canonical DSL column.
type Column string

// Canonical columns.
const (
	ColGraphName   Column = "GraphName"
	ColNode        Column = "Node"
	ColAgentType   Column = "AgentType"
	ColContext     Column = "Context"
	ColInputFields Column = "Input_Fields"
	ColOutputField Column = "Output_Field"
	ColPrompt      Column = "Prompt"
	ColDescription Column = "Description"
	ColEdge        Column = "Edge"
	ColSuccessNext Column = "Success_Next"
	ColFailureNext Column = "Failure_Next"
)

// RequiredColumns must be present in every DSL file.
var RequiredColumns = []Column{ColGraphName, ColNode}

// InputFieldDelimiter separates entries in the Input_Fields column.
const InputFieldDelimiter = "|"

// columnAliases maps normalized header text to its canonical column.
// Canonical names are aliases of themselves.
var columnAliases = map[string]Column{
	"graph_name":    ColGraphName,
	"graphname":     ColGraphName,
	"graph":         ColGraphName,
	"workflow":      ColGraphName,
	"workflow_name": ColGraphName,

	"node":      ColNode,
	"node_name": ColNode,
	"nodename":  ColNode,
	"name":      ColNode,
	"node_id":   ColNode,
	"step":      ColNode,

	"agent_type": ColAgentType,
	"agenttype":  ColAgentType,
	"agent":      ColAgentType,
	"type":       ColAgentType,

	"context": ColContext,
	"config":  ColContext,

	"input_fields": ColInputFields,
	"inputfields":  ColInputFields,
	"inputs":       ColInputFields,
	"input":        ColInputFields,

	"output_field": ColOutputField,
	"outputfield":  ColOutputField,
	"output":       ColOutputField,
	"outputs":      ColOutputField,

	"prompt":       ColPrompt,
	"instructions": ColPrompt,
	"template":     ColPrompt,

	"description": ColDescription,
	"desc":        ColDescription,
	"notes":       ColDescription,

	"edge":      ColEdge,
	"next":      ColEdge,
	"next_node": ColEdge,
	"target":    ColEdge,

	"success_next":    ColSuccessNext,
	"successnext":     ColSuccessNext,
	"next_on_success": ColSuccessNext,
	"on_success":      ColSuccessNext,
	"success":         ColSuccessNext,

	"failure_next":    ColFailureNext,
	"failurenext":     ColFailureNext,
	"next_on_failure": ColFailureNext,
	"on_failure":      ColFailureNext,
	"failure":         ColFailureNext,
	"error_next":      ColFailureNext,
}

// normalizeHeader lowercases and trims a header cell and folds spaces and
// hyphens to underscores.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	h = strings.ToLower(h)
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// LookupColumn resolves a header cell to its canonical column.
func LookupColumn(header string) (Column, bool) {
	c, ok := columnAliases[normalizeHeader(header)]
	return c, ok
}

// Aliases returns the accepted header spellings for a column, sorted.
func Aliases(c Column) []string {
	var out []string
	for alias, col := range columnAliases {
		if col == c {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// headerIndex maps each recognized canonical column to its first position
// in the header row. Unknown columns are ignored.
type headerIndex map[Column]int

func indexHeader(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		col, ok := LookupColumn(h)
		if !ok {
			continue
		}
		if _, dup := idx[col]; dup {
			continue
		}
		idx[col] = i
	}
	return idx
}

func (h headerIndex) missing() []Column {
	var out []Column
	for _, c := range RequiredColumns {
		if _, ok := h[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func (h headerIndex) value(row []string, c Column) string {
	i, ok := h[c]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

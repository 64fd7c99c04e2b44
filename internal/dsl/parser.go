package dsl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zjrosen/agentmap/internal/log"
)

// ErrMissingColumns is wrapped by MissingColumnsError.
var ErrMissingColumns = errors.New("missing required columns")

// MissingColumnsError reports required columns absent from the header row.
type MissingColumnsError struct {
	Path    string
	Columns []Column
}

func (e *MissingColumnsError) Error() string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = string(c)
	}
	return fmt.Sprintf("%s: missing required columns: %s", e.Path, strings.Join(names, ", "))
}

func (e *MissingColumnsError) Unwrap() error { return ErrMissingColumns }

// NodeSpec is one parsed row.
type NodeSpec struct {
	GraphName   string   `json:"graph_name"`
	Name        string   `json:"name"`
	AgentType   string   `json:"agent_type,omitempty"`
	Context     string   `json:"context,omitempty"`
	InputFields []string `json:"input_fields,omitempty"`
	OutputField string   `json:"output_field,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	Description string   `json:"description,omitempty"`
	Edge        string   `json:"edge,omitempty"`
	SuccessNext string   `json:"success_next,omitempty"`
	FailureNext string   `json:"failure_next,omitempty"`

	// Line is the 1-based record number in the source, header included.
	Line int `json:"line"`
}

// Specs holds parsed rows grouped by graph name.
type Specs struct {
	// Graphs maps graph name to its rows in file order.
	Graphs map[string][]NodeSpec

	// Order lists graph names in order of first appearance.
	Order []string

	// Skipped counts rows dropped for lacking a graph or node name.
	Skipped int
}

// Graph returns the rows for one graph.
func (s *Specs) Graph(name string) ([]NodeSpec, bool) {
	specs, ok := s.Graphs[name]
	return specs, ok
}

func (s *Specs) add(spec NodeSpec) {
	if _, ok := s.Graphs[spec.GraphName]; !ok {
		s.Order = append(s.Order, spec.GraphName)
	}
	s.Graphs[spec.GraphName] = append(s.Graphs[spec.GraphName], spec)
}

// Parse reads the DSL file at path.
func Parse(path string) (*Specs, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening workflow file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(path, f)
}

// ParseReader reads DSL content from r. name labels errors and log lines.
// Rows without a graph or node name are skipped with a warning.
func ParseReader(name string, r io.Reader) (*Specs, error) {
	cr := newReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: no header row", name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", name, err)
	}

	idx := indexHeader(header)
	if missing := idx.missing(); len(missing) > 0 {
		return nil, &MissingColumnsError{Path: name, Columns: missing}
	}

	specs := &Specs{Graphs: make(map[string][]NodeSpec)}
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		if blank(row) {
			continue
		}

		spec := idx.spec(row, line)
		if spec.GraphName == "" || spec.Name == "" {
			log.Warn(log.CatDSL, "skipping row without graph or node name",
				"file", name, "line", line, "graph", spec.GraphName, "node", spec.Name)
			specs.Skipped++
			continue
		}
		specs.add(spec)
	}

	log.Debug(log.CatDSL, "parsed workflow file", "file", name, "graphs", len(specs.Order), "skipped", specs.Skipped)
	return specs, nil
}

// Validate reports every problem found in the DSL file at path without
// stopping at the first. An empty result means the file can be built.
func Validate(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return []string{fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	defer func() { _ = f.Close() }()

	return ValidateReader(path, f)
}

// ValidateReader is Validate over an arbitrary reader.
func ValidateReader(name string, r io.Reader) []string {
	cr := newReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []string{fmt.Sprintf("%s: file is empty, expected a header row", name)}
	}
	if err != nil {
		return []string{fmt.Sprintf("%s: unreadable header: %v", name, err)}
	}

	var problems []string
	idx := indexHeader(header)
	for _, c := range idx.missing() {
		problems = append(problems, fmt.Sprintf("%s: missing required column %s (accepted: %s)",
			name, c, strings.Join(Aliases(c), ", ")))
	}
	if len(problems) > 0 {
		return problems
	}

	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: line %d: %v", name, line, err))
			break
		}
		if blank(row) {
			continue
		}

		spec := idx.spec(row, line)
		if spec.GraphName == "" {
			problems = append(problems, fmt.Sprintf("%s: line %d: missing %s", name, line, ColGraphName))
		}
		if spec.Name == "" {
			problems = append(problems, fmt.Sprintf("%s: line %d: missing %s", name, line, ColNode))
		}
		if spec.Edge != "" && (spec.SuccessNext != "" || spec.FailureNext != "") {
			problems = append(problems, fmt.Sprintf("%s: line %d: node %q has both %s and %s/%s",
				name, line, spec.Name, ColEdge, ColSuccessNext, ColFailureNext))
		}
	}
	return problems
}

// SplitInputFields splits an Input_Fields cell. Empty text yields nil.
func SplitInputFields(s string) []string {
	var out []string
	for _, part := range strings.Split(s, InputFieldDelimiter) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (h headerIndex) spec(row []string, line int) NodeSpec {
	return NodeSpec{
		GraphName:   h.value(row, ColGraphName),
		Name:        h.value(row, ColNode),
		AgentType:   h.value(row, ColAgentType),
		Context:     h.value(row, ColContext),
		InputFields: SplitInputFields(h.value(row, ColInputFields)),
		OutputField: h.value(row, ColOutputField),
		Prompt:      h.value(row, ColPrompt),
		Description: h.value(row, ColDescription),
		Edge:        h.value(row, ColEdge),
		SuccessNext: h.value(row, ColSuccessNext),
		FailureNext: h.value(row, ColFailureNext),
		Line:        line,
	}
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	return cr
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

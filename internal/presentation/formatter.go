// Package presentation renders command output as JSON or plain text.
package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	text   bool
}

// NewFormatter creates a JSON formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{writer: writer}
}

// NewTextFormatter creates a formatter that prints aligned columns.
func NewTextFormatter(writer io.Writer) *Formatter {
	return &Formatter{writer: writer, text: true}
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (f *Formatter) table(header string, rows [][]string) error {
	tw := tabwriter.NewWriter(f.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

// FormatResults formats compile results
func (f *Formatter) FormatResults(results []ResultDTO) error {
	if !f.text {
		return f.encode(results)
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "compiled"
		switch {
		case !r.Success:
			status = "FAILED"
		case r.UpToDate:
			status = "up to date"
		}
		detail := r.OutputPath
		if r.Error != "" {
			detail = r.Error
		}
		rows = append(rows, []string{r.Graph, status, fmt.Sprint(r.Nodes), fmt.Sprintf("%.1fms", r.DurationMs), detail})
	}
	return f.table("GRAPH\tSTATUS\tNODES\tTIME\tDETAIL", rows)
}

// FormatRegistry formats a registry listing
func (f *Formatter) FormatRegistry(reg RegistryDTO) error {
	if !f.text {
		return f.encode(reg)
	}
	rows := make([][]string, 0, len(reg.Agents)+len(reg.Services))
	for _, a := range reg.Agents {
		rows = append(rows, []string{"agent", a.Type, a.Class, strings.Join(a.Services, ","), a.Source})
	}
	for _, s := range reg.Services {
		rows = append(rows, []string{"service", s.Name, s.Class, strings.Join(s.Required, ","), s.Source})
	}
	return f.table("KIND\tNAME\tCLASS\tREQUIRES\tSOURCE", rows)
}

// FormatRequirements formats a resolution result
func (f *Formatter) FormatRequirements(req RequirementsDTO) error {
	if !f.text {
		return f.encode(req)
	}
	rows := [][]string{
		{"agents", strings.Join(req.Agents, ", ")},
		{"services", strings.Join(req.Services, ", ")},
		{"protocols", strings.Join(req.Protocols, ", ")},
		{"missing", strings.Join(req.Missing, ", ")},
	}
	if len(req.Unresolved) > 0 {
		rows = append(rows, []string{"unresolved", strings.Join(req.Unresolved, ", ")})
	}
	return f.table("FIELD\tVALUES", rows)
}

// FormatHistory formats catalog entries
func (f *Formatter) FormatHistory(entries []HistoryDTO) error {
	if !f.text {
		return f.encode(entries)
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Graph, e.Outcome, fmt.Sprint(e.Nodes), fmt.Sprintf("%dms", e.DurationMs), e.Error,
		})
	}
	return f.table("TIME\tGRAPH\tOUTCOME\tNODES\tDURATION\tERROR", rows)
}

// FormatValidation formats validation problems
func (f *Formatter) FormatValidation(v ValidationDTO) error {
	if !f.text {
		return f.encode(v)
	}
	if v.Valid {
		_, err := fmt.Fprintf(f.writer, "%s: ok\n", v.Path)
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d problem(s)\n", v.Path, len(v.Problems))
	for _, p := range v.Problems {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	_, err := io.WriteString(f.writer, b.String())
	return err
}

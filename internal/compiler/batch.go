package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zjrosen/agentmap/internal/bundle"
	"github.com/zjrosen/agentmap/internal/dsl"
	"github.com/zjrosen/agentmap/internal/graph"
	"github.com/zjrosen/agentmap/internal/log"
	"github.com/zjrosen/agentmap/internal/tracing"
)

// BatchGraphName labels the single result returned when a whole file
// cannot be parsed.
const BatchGraphName = "*"

func buildGraph(b *graph.Builder, path string, content []byte, name string) (*graph.Graph, error) {
	specs, err := dsl.ParseReader(path, bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	return b.BuildFromSpecs(specs, path, name)
}

// CompileAllGraphs compiles every graph in the CSV file independently, in
// file order. One graph failing never stops the rest. A file that cannot be
// read or parsed yields one failed result named BatchGraphName.
func (s *Service) CompileAllGraphs(ctx context.Context, opts Options) []*Result {
	opts = s.resolveOptions(opts)
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, tracing.SpanCompileAll)
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrSourcePath, opts.CSVPath))

	specs, err := parseFile(opts.CSVPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatCompile, "cannot compile any graph", err, "csv", opts.CSVPath)
		return []*Result{{
			GraphName: BatchGraphName,
			Success:   false,
			Duration:  time.Since(start),
			Error:     err.Error(),
		}}
	}

	results := make([]*Result, 0, len(specs.Order))
	failures := 0
	for _, name := range specs.Order {
		res := s.CompileGraph(ctx, name, opts)
		if !res.Success {
			failures++
		}
		results = append(results, res)
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrGraphCount, len(results)),
		attribute.Int(tracing.AttrFailureCount, failures),
	)
	if failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d graphs failed", failures, len(results)))
	}
	log.Info(log.CatCompile, "compiled all graphs", "csv", opts.CSVPath,
		"graphs", len(results), "failed", failures, "duration", time.Since(start))
	return results
}

func parseFile(path string) (*dsl.Specs, error) {
	if path == "" {
		return nil, errors.New("no CSV path configured")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	return dsl.ParseReader(path, bytes.NewReader(content))
}

// IsCompilationCurrent reports whether the artifact for name is at least as
// new as its source, or was built from the source's current content. No
// artifact means not current. A missing source has nothing to compare
// against and counts as current.
func (s *Service) IsCompilationCurrent(name string, opts Options) bool {
	opts = s.resolveOptions(opts)

	artifact, err := bundle.NewStore(opts.OutputDir).ModTime(name)
	if err != nil {
		return false
	}

	src, err := os.Stat(opts.CSVPath)
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	if err != nil {
		return false
	}
	if !artifact.Before(src.ModTime()) {
		return true
	}

	// A touched source with unchanged content is still current.
	hash, err := bundle.HashFile(opts.CSVPath)
	if err != nil {
		return false
	}
	_, err = bundle.NewStore(opts.OutputDir).LoadVerified(name, hash)
	return err == nil
}

// AutoCompileIfNeeded compiles name from csvPath unless its artifact is
// current, in which case it returns nil.
func (s *Service) AutoCompileIfNeeded(ctx context.Context, name, csvPath string, opts Options) *Result {
	if csvPath != "" {
		opts.CSVPath = csvPath
	}
	if s.IsCompilationCurrent(name, opts) {
		log.Debug(log.CatCompile, "compilation current", "graph", name)
		return nil
	}
	return s.CompileGraph(ctx, name, opts)
}

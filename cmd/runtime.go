package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zjrosen/agentmap/internal/compiler"
	"github.com/zjrosen/agentmap/internal/config"
	"github.com/zjrosen/agentmap/internal/graph"
	"github.com/zjrosen/agentmap/internal/infrastructure/sqlite"
	"github.com/zjrosen/agentmap/internal/log"
	"github.com/zjrosen/agentmap/internal/presentation"
	"github.com/zjrosen/agentmap/internal/pubsub"
	"github.com/zjrosen/agentmap/internal/registry"
	"github.com/zjrosen/agentmap/internal/tracing"
)

// runtime wires the registry, catalog, tracing, and compiler for one command.
type runtime struct {
	cfg      config.Config
	registry *registry.Registry
	report   *registry.LoadReport
	compiler *compiler.Service
	events   *pubsub.Broker[compiler.Event]
	db       *sqlite.DB
	tracer   *tracing.Provider
}

// newRuntime loads declarations and opens optional stores. Callers must
// call close.
func newRuntime(ctx context.Context, c config.Config) (*runtime, error) {
	reg, report, err := registry.LoadFiles(c.SourceFiles(), registry.LoadOptions{
		Strict:       c.Registry.Strict,
		CoreServices: c.Registry.CoreServices,
	})
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}

	tp, err := tracing.NewProvider(ctx, c.Tracing)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      c,
		registry: reg,
		report:   report,
		events:   pubsub.NewBroker[compiler.Event](),
		tracer:   tp,
	}

	opts := []compiler.Option{
		compiler.WithTracer(tp.Tracer()),
		compiler.WithBroker(rt.events),
		compiler.WithBuilder(&graph.Builder{StrictEntryPoint: c.Compiler.StrictEntryPoint}),
	}
	if c.Catalog.Enabled {
		db, err := sqlite.NewDB(c.CatalogPath())
		if err != nil {
			// History is optional; compile without it.
			log.ErrorErr(log.CatStore, "catalog unavailable", err, "path", c.CatalogPath())
		} else {
			rt.db = db
			opts = append(opts, compiler.WithRecorder(db.CompilationRepository()))
		}
	}

	rt.compiler = compiler.New(reg, compiler.Config{
		OutputDir:    c.Compiler.OutputDir,
		CSVPath:      c.CSVPath,
		StrictAgents: c.Compiler.StrictAgents,
		CacheTTL:     c.Compiler.CacheTTL,
	}, opts...)

	return rt, nil
}

// prune trims catalog history for the graphs in results.
func (rt *runtime) prune(ctx context.Context, results []*compiler.Result) {
	if rt.db == nil || rt.cfg.Catalog.Keep <= 0 {
		return
	}
	repo := rt.db.CompilationRepository()
	seen := make(map[string]bool)
	for _, r := range results {
		if r == nil || seen[r.GraphName] {
			continue
		}
		seen[r.GraphName] = true
		if _, err := repo.Prune(ctx, r.GraphName, rt.cfg.Catalog.Keep); err != nil {
			log.ErrorErr(log.CatStore, "pruning history", err, "graph", r.GraphName)
		}
	}
}

func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	rt.events.Close()
	if err := rt.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flushing traces: %w", err))
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func formatter(w io.Writer) *presentation.Formatter {
	if textOutput {
		return presentation.NewTextFormatter(w)
	}
	return presentation.NewFormatter(w)
}

// withRuntime runs fn with a runtime built from the loaded config.
func withRuntime(ctx context.Context, fn func(rt *runtime) error) (err error) {
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}

// Package compiler turns workflow CSV files into bundle artifacts, reusing
// an artifact whenever its recorded source hash still matches.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/agentmap/internal/bundle"
	"github.com/zjrosen/agentmap/internal/cachemanager"
	"github.com/zjrosen/agentmap/internal/catalog"
	"github.com/zjrosen/agentmap/internal/graph"
	"github.com/zjrosen/agentmap/internal/log"
	"github.com/zjrosen/agentmap/internal/pubsub"
	"github.com/zjrosen/agentmap/internal/registry"
	"github.com/zjrosen/agentmap/internal/tracing"
)

// DefaultOutputDir is used when neither Config nor Options name one.
const DefaultOutputDir = "compiled"

// Resolver is the registry surface compilation needs.
type Resolver interface {
	ResolveAgentRequirements(agentTypes ...string) registry.Requirements
	CreateScopedRegistryForBundle(b registry.BundleRequirements) *registry.ScopedRegistry
}

// Recorder stores compile history. catalog.Repository satisfies it.
type Recorder interface {
	Save(ctx context.Context, e *catalog.Entry) error
}

// Config holds service-wide defaults.
type Config struct {
	OutputDir string
	CSVPath   string

	// StrictAgents fails compilation when any agent type is undeclared.
	StrictAgents bool

	// CacheTTL bounds how long a loaded bundle stays in memory. Zero uses
	// the cache default; negative disables the cache.
	CacheTTL time.Duration
}

// Options override Config for one request.
type Options struct {
	OutputDir   string
	CSVPath     string
	Force       bool
	EmbedSource bool
}

// Stats summarizes a compile.
type Stats struct {
	NodeCount    int `json:"node_count"`
	RegistrySize int `json:"registry_size"`
}

// Result reports one compile request. Failures are carried in Error, never
// returned.
type Result struct {
	GraphName  string        `json:"graph_name"`
	OutputPath string        `json:"output_path,omitempty"`
	SourcePath string        `json:"source_path,omitempty"`
	Success    bool          `json:"success"`
	UpToDate   bool          `json:"up_to_date"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Stats      Stats         `json:"stats"`

	// Bundle is the compiled or reused artifact with a scoped registry
	// attached. Nil on failure.
	Bundle *bundle.Bundle `json:"-"`
}

// Event is published on every state change of a compile request.
type Event struct {
	GraphName string
	Result    *Result
}

// MissingAgentsError is returned under StrictAgents when a graph uses
// undeclared agent types.
type MissingAgentsError struct {
	Graph  string
	Agents []string
}

func (e *MissingAgentsError) Error() string {
	return fmt.Sprintf("graph %q uses undeclared agent types: %v", e.Graph, e.Agents)
}

// Service compiles graphs against one registry.
type Service struct {
	cfg      Config
	resolver Resolver
	builder  *graph.Builder
	cache    *cachemanager.ReadThroughCache[string, *bundle.Bundle, cacheLookup]
	recorder Recorder
	events   *pubsub.Broker[Event]
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder records every result.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithBroker publishes compile events on b.
func WithBroker(b *pubsub.Broker[Event]) Option {
	return func(s *Service) { s.events = b }
}

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithBuilder replaces the default graph builder.
func WithBuilder(b *graph.Builder) Option {
	return func(s *Service) { s.builder = b }
}

// WithCache backs the loaded-bundle cache with c.
func WithCache(c cachemanager.CacheManager[string, *bundle.Bundle]) Option {
	return func(s *Service) { s.cache = s.newBundleCache(c) }
}

// New creates a compilation service.
func New(resolver Resolver, cfg Config, opts ...Option) *Service {
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	s := &Service{
		cfg:      cfg,
		resolver: resolver,
		builder:  &graph.Builder{},
		tracer:   tracing.Noop().Tracer(),
	}
	s.cache = s.newBundleCache(cachemanager.NewInMemoryCacheManager[string, *bundle.Bundle](
		"bundles", cfg.CacheTTL, cachemanager.DefaultCleanupInterval))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the broker, or nil when none was configured.
func (s *Service) Events() *pubsub.Broker[Event] { return s.events }

// Store returns the artifact store for an output directory override.
func (s *Service) Store(outputDir string) *bundle.Store {
	if outputDir == "" {
		outputDir = s.cfg.OutputDir
	}
	return bundle.NewStore(outputDir)
}

func (s *Service) resolveOptions(opts Options) Options {
	if opts.OutputDir == "" {
		opts.OutputDir = s.cfg.OutputDir
	}
	if opts.CSVPath == "" {
		opts.CSVPath = s.cfg.CSVPath
	}
	return opts
}

// CompileGraph compiles one graph, or reuses its artifact when the source
// content is unchanged and opts.Force is false.
func (s *Service) CompileGraph(ctx context.Context, name string, opts Options) *Result {
	opts = s.resolveOptions(opts)
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, tracing.SpanCompileGraph, trace.WithAttributes(
		attribute.String(tracing.AttrGraphName, name),
		attribute.String(tracing.AttrSourcePath, opts.CSVPath),
		attribute.Bool(tracing.AttrForce, opts.Force),
	))
	defer span.End()

	s.publish(pubsub.CompileStartedEvent, name, nil)

	res, hash, err := s.compile(ctx, name, opts)
	if res == nil {
		res = &Result{GraphName: name}
	}
	res.Duration = time.Since(start)

	if err != nil {
		res.Success = false
		res.Error = err.Error()
		res.Bundle = nil
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatCompile, "compile failed", err, "graph", name, "csv", opts.CSVPath)
		s.record(ctx, res, opts.CSVPath, hash)
		s.publish(pubsub.CompileFailedEvent, name, res)
		return res
	}

	res.Success = true
	span.SetAttributes(
		attribute.Bool(tracing.AttrUpToDate, res.UpToDate),
		attribute.String(tracing.AttrOutputPath, res.OutputPath),
		attribute.Int(tracing.AttrGraphNodes, res.Stats.NodeCount),
	)
	span.SetStatus(codes.Ok, "")
	s.record(ctx, res, opts.CSVPath, hash)
	if res.UpToDate {
		log.Info(log.CatCompile, "bundle up to date", "graph", name, "path", res.OutputPath)
		s.publish(pubsub.CompileSkippedEvent, name, res)
	} else {
		log.Info(log.CatCompile, "compiled graph", "graph", name, "path", res.OutputPath,
			"nodes", res.Stats.NodeCount, "duration", res.Duration)
		s.publish(pubsub.CompileSucceededEvent, name, res)
	}
	return res
}

// compile runs CHECK_CACHE then BUILD, RESOLVE and PERSIST. It returns the
// source hash whenever the source could be read.
func (s *Service) compile(ctx context.Context, name string, opts Options) (*Result, string, error) {
	if opts.CSVPath == "" {
		return nil, "", errors.New("no CSV path configured")
	}
	content, err := os.ReadFile(opts.CSVPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading source: %w", err)
	}
	hash := bundle.HashBytes(content)
	store := bundle.NewStore(opts.OutputDir)

	if !opts.Force {
		if res := s.checkCache(ctx, store, name, hash); res != nil {
			return res, hash, nil
		}
	}

	g, err := s.build(ctx, name, opts.CSVPath, content)
	if err != nil {
		return nil, hash, err
	}

	b, err := s.resolve(ctx, g, opts.CSVPath, hash)
	if err != nil {
		return nil, hash, err
	}

	res, err := s.persist(ctx, store, b, content, opts.EmbedSource)
	if err != nil {
		return nil, hash, err
	}
	return res, hash, nil
}

// checkCache returns a result for a reusable artifact or nil to rebuild.
func (s *Service) checkCache(ctx context.Context, store *bundle.Store, name, hash string) *Result {
	ctx, span := s.tracer.Start(ctx, tracing.SpanCheckCache)
	defer span.End()

	key := cacheKey(store, name, hash)
	if !store.Exists(name) {
		s.cache.Invalidate(ctx, key)
		span.AddEvent(tracing.EventCacheMiss)
		return nil
	}

	cached, err := s.cache.Get(ctx, key, cacheLookup{store: store, name: name, hash: hash})
	if err != nil {
		span.AddEvent(tracing.EventCacheMiss)
		log.Debug(log.CatCompile, "artifact not reusable", "graph", name, "reason", err.Error())
		return nil
	}
	span.AddEvent(tracing.EventCacheHit)

	// Cached bundles are shared; each result gets its own copy.
	b := cached.Clone()

	scoped := s.scope(ctx, b)
	res := &Result{
		GraphName:  name,
		OutputPath: store.Path(name),
		UpToDate:   true,
		Stats:      Stats{NodeCount: b.NodeCount(), RegistrySize: scoped.Size()},
		Bundle:     b,
	}
	if _, err := os.Stat(store.SourcePath(name)); err == nil {
		res.SourcePath = store.SourcePath(name)
	}
	return res
}

func (s *Service) build(ctx context.Context, name, csvPath string, content []byte) (*graph.Graph, error) {
	_, span := s.tracer.Start(ctx, tracing.SpanBuildGraph)
	defer span.End()

	g, err := buildGraph(s.builder, csvPath, content, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrGraphNodes, g.Len()))
	return g, nil
}

func (s *Service) resolve(ctx context.Context, g *graph.Graph, csvPath, hash string) (*bundle.Bundle, error) {
	_, span := s.tracer.Start(ctx, tracing.SpanResolve)
	defer span.End()

	req := s.resolver.ResolveAgentRequirements(g.AgentTypes()...)
	span.SetAttributes(
		attribute.Int(tracing.AttrServices, len(req.Services)),
		attribute.Int(tracing.AttrMissing, len(req.Missing)),
	)
	if len(req.Missing) > 0 {
		if s.cfg.StrictAgents {
			err := &MissingAgentsError{Graph: g.Name, Agents: req.Missing}
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		log.Warn(log.CatCompile, "graph uses undeclared agent types", "graph", g.Name, "agents", req.Missing)
	}
	if len(req.UnresolvedServices) > 0 {
		log.Warn(log.CatCompile, "required services have no declaration", "graph", g.Name, "services", req.UnresolvedServices)
	}
	return bundle.New(g, req, csvPath, hash), nil
}

// persist writes the optional source snapshot, then the bundle. A bundle
// write failure removes the snapshot so no partial artifact is left.
func (s *Service) persist(ctx context.Context, store *bundle.Store, b *bundle.Bundle, content []byte, embed bool) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, tracing.SpanPersist)
	defer span.End()

	if prev, err := store.Load(b.GraphName); err == nil {
		if d := bundle.Diff(prev, b); d != "" {
			log.Debug(log.CatCompile, "bundle changed", "graph", b.GraphName, "diff", d)
		}
	}

	res := &Result{GraphName: b.GraphName}
	if embed {
		path, err := store.SaveSource(ctx, b.GraphName, content)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("saving source snapshot: %w", err)
		}
		res.SourcePath = path
	} else if err := store.RemoveSource(b.GraphName); err != nil {
		log.ErrorErr(log.CatCompile, "removing stale source snapshot", err, "graph", b.GraphName)
	}

	path, err := store.Save(ctx, b)
	if err != nil {
		if embed {
			_ = os.Remove(res.SourcePath)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.AddEvent(tracing.EventSnapshotSave, trace.WithAttributes(attribute.String(tracing.AttrOutputPath, path)))

	s.cache.Invalidate(ctx, cacheKey(store, b.GraphName, b.SourceHash))

	scoped := s.scope(ctx, b)
	res.OutputPath = path
	res.Stats = Stats{NodeCount: b.NodeCount(), RegistrySize: scoped.Size()}
	res.Bundle = b
	return res, nil
}

// scope attaches a fresh run-scoped registry to b.
func (s *Service) scope(ctx context.Context, b *bundle.Bundle) *registry.ScopedRegistry {
	_, span := s.tracer.Start(ctx, tracing.SpanScopedCreate)
	defer span.End()

	scoped := s.resolver.CreateScopedRegistryForBundle(b)
	b.AttachRegistry(scoped)
	span.SetAttributes(attribute.String(tracing.AttrRunID, scoped.RunID()))
	return scoped
}

func (s *Service) record(ctx context.Context, res *Result, csvPath, hash string) {
	if s.recorder == nil {
		return
	}
	outcome := catalog.OutcomeCompiled
	switch {
	case !res.Success:
		outcome = catalog.OutcomeFailed
	case res.UpToDate:
		outcome = catalog.OutcomeUpToDate
	}
	e := catalog.NewEntry(res.GraphName, outcome)
	e.SourcePath = csvPath
	e.SourceHash = hash
	e.OutputPath = res.OutputPath
	e.NodeCount = res.Stats.NodeCount
	e.ServiceCount = res.Stats.RegistrySize
	e.Duration = res.Duration
	e.Error = res.Error
	if err := s.recorder.Save(ctx, e); err != nil {
		log.ErrorErr(log.CatCompile, "recording compile result", err, "graph", res.GraphName)
	}
}

func (s *Service) publish(t pubsub.EventType, name string, res *Result) {
	if s.events == nil {
		return
	}
	s.events.Publish(t, Event{GraphName: name, Result: res})
}

package tracing

// Span names for the compile pipeline.
const (
	SpanCompileGraph = "compile.graph"
	SpanCompileAll   = "compile.all"
	SpanCheckCache   = "compile.check_cache"
	SpanBuildGraph   = "compile.build"
	SpanResolve      = "compile.resolve"
	SpanPersist      = "compile.persist"
	SpanScopedCreate = "registry.scoped_create"
)

// Span attribute keys.
const (
	AttrGraphName    = "graph.name"
	AttrGraphNodes   = "graph.nodes"
	AttrSourcePath   = "source.path"
	AttrSourceHash   = "source.hash"
	AttrOutputPath   = "bundle.path"
	AttrUpToDate     = "bundle.up_to_date"
	AttrForce        = "compile.force"
	AttrServices     = "registry.services"
	AttrMissing      = "registry.missing_agents"
	AttrRunID        = "registry.run_id"
	AttrGraphCount   = "compile.graphs"
	AttrFailureCount = "compile.failures"
)

// Span event names.
const (
	EventCacheHit     = "cache.hit"
	EventCacheMiss    = "cache.miss"
	EventSnapshotSave = "snapshot.saved"
)

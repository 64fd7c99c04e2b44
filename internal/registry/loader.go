package registry

import (
	"fmt"
	"sort"

	"github.com/zjrosen/agentmap/internal/declaration"
	"github.com/zjrosen/agentmap/internal/log"
)

// LoadOptions controls Load.
type LoadOptions struct {
	// Strict aborts on the first unusable entry or failing source instead
	// of skipping it.
	Strict bool

	// CoreServices overrides DefaultCoreServices when non-nil.
	CoreServices []string

	// KeepOpen leaves the registry in its registration phase.
	KeepOpen bool
}

// SkippedEntry records a declaration or source that was not loaded.
type SkippedEntry struct {
	Source string
	Kind   declaration.Kind
	Name   string // empty when a whole source failed
	Reason string
}

// LoadReport summarizes a Load.
type LoadReport struct {
	Agents    int
	Services  int
	Skipped   []SkippedEntry
	Ambiguous map[string][]string
}

// Load builds a registry from sources in order. Later sources replace
// earlier declarations with the same name. Unless opts.Strict is set,
// invalid entries and failing sources are logged and skipped.
func Load(sources []declaration.Source, opts LoadOptions) (*Registry, *LoadReport, error) {
	var regOpts []Option
	if opts.CoreServices != nil {
		regOpts = append(regOpts, WithCoreServices(opts.CoreServices...))
	}
	reg := New(regOpts...)
	report := &LoadReport{}

	var agents []declaration.AgentDeclaration
	var services []declaration.ServiceDeclaration

	skip := func(e SkippedEntry) error {
		if opts.Strict {
			if e.Name == "" {
				return fmt.Errorf("loading %s declarations from %s: %s", e.Kind, e.Source, e.Reason)
			}
			return fmt.Errorf("loading %s %q from %s: %s", e.Kind, e.Name, e.Source, e.Reason)
		}
		log.Warn(log.CatDecl, "skipping declaration", "source", e.Source, "kind", e.Kind, "name", e.Name, "reason", e.Reason)
		report.Skipped = append(report.Skipped, e)
		return nil
	}

	for _, src := range sources {
		entries, err := src.Agents()
		if err != nil {
			if err := skip(SkippedEntry{Source: src.Name(), Kind: declaration.KindAgent, Reason: err.Error()}); err != nil {
				return nil, report, err
			}
		}
		for _, e := range entries {
			d, err := declaration.ParseAgent(e.Name, e.Raw, src.Name())
			if err != nil {
				if err := skip(SkippedEntry{Source: src.Name(), Kind: declaration.KindAgent, Name: e.Name, Reason: err.Error()}); err != nil {
					return nil, report, err
				}
				continue
			}
			agents = append(agents, d)
		}

		entries, err = src.Services()
		if err != nil {
			if err := skip(SkippedEntry{Source: src.Name(), Kind: declaration.KindService, Reason: err.Error()}); err != nil {
				return nil, report, err
			}
		}
		for _, e := range entries {
			d, err := declaration.ParseService(e.Name, e.Raw, src.Name())
			if err != nil {
				if err := skip(SkippedEntry{Source: src.Name(), Kind: declaration.KindService, Name: e.Name, Reason: err.Error()}); err != nil {
					return nil, report, err
				}
				continue
			}
			services = append(services, d)
		}
	}

	if err := reg.AddDeclarations(agents, services); err != nil {
		return nil, report, err
	}
	if !opts.KeepOpen {
		reg.Freeze()
	}

	report.Agents = len(reg.AgentTypes())
	report.Services = len(reg.ServiceNames())
	report.Ambiguous = reg.AmbiguousProtocols()

	protocols := make([]string, 0, len(report.Ambiguous))
	for p := range report.Ambiguous {
		protocols = append(protocols, p)
	}
	sort.Strings(protocols)
	for _, p := range protocols {
		log.Warn(log.CatRegistry, "protocol has multiple implementers, first registered wins",
			"protocol", p, "services", report.Ambiguous[p])
	}

	log.Info(log.CatRegistry, "registry loaded",
		"sources", len(sources), "agents", report.Agents, "services", report.Services, "skipped", len(report.Skipped))

	return reg, report, nil
}

// LoadFiles loads declaration files, each decoded by its extension or the
// paired format. A file that cannot be read is treated like a failing source.
func LoadFiles(files []SourceFile, opts LoadOptions) (*Registry, *LoadReport, error) {
	sources := make([]declaration.Source, 0, len(files))
	var unreadable []SkippedEntry
	for _, f := range files {
		src, err := declaration.LoadFile(f.Path, f.Format)
		if err != nil {
			if opts.Strict {
				return nil, nil, err
			}
			log.ErrorErr(log.CatDecl, "skipping declaration source", err, "path", f.Path)
			unreadable = append(unreadable, SkippedEntry{Source: f.Path, Reason: err.Error()})
			continue
		}
		sources = append(sources, src)
	}

	reg, report, err := Load(sources, opts)
	if report != nil {
		report.Skipped = append(unreadable, report.Skipped...)
	}
	return reg, report, err
}

// SourceFile names a declaration file and optional format ("yaml", "toml").
type SourceFile struct {
	Path   string
	Format string
}

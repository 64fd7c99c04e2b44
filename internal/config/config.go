// Package config provides configuration types, defaults, and validation for agentmap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/zjrosen/agentmap/internal/log"
	"github.com/zjrosen/agentmap/internal/registry"
	"github.com/zjrosen/agentmap/internal/tracing"
)

// Config holds all configuration options for agentmap.
type Config struct {
	CSVPath  string         `mapstructure:"csv_path"`
	Compiler CompilerConfig `mapstructure:"compiler"`
	Registry RegistryConfig `mapstructure:"registry"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Tracing  tracing.Config `mapstructure:"tracing"`
	Watch    WatchConfig    `mapstructure:"watch"`
	LogLevel string         `mapstructure:"log_level"`
}

// CompilerConfig controls where and how bundles are produced.
type CompilerConfig struct {
	OutputDir        string        `mapstructure:"output_dir"`
	EmbedSource      bool          `mapstructure:"embed_source"`
	StrictAgents     bool          `mapstructure:"strict_agents"`      // fail on undeclared agent types
	StrictEntryPoint bool          `mapstructure:"strict_entry_point"` // fail when every node has an incoming edge
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`          // negative disables the bundle cache
}

// SourceConfig names one declaration file.
type SourceConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"` // "yaml" or "toml"; inferred from the extension when empty
}

// RegistryConfig lists declaration sources.
type RegistryConfig struct {
	Sources      []SourceConfig `mapstructure:"sources"`
	CoreServices []string       `mapstructure:"core_services"`

	// Strict aborts loading on the first invalid entry instead of
	// skipping it.
	Strict bool `mapstructure:"strict"`
}

// CatalogConfig holds compile history storage options.
type CatalogConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Path is the SQLite file. Default: <compiler.output_dir>/catalog.db
	Path string `mapstructure:"path"`

	// Keep is how many entries per graph survive pruning. Zero keeps all.
	Keep int `mapstructure:"keep"`
}

// WatchConfig holds source watcher options.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// CatalogPath returns Catalog.Path or the default inside the output directory.
func (c Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.Compiler.OutputDir, "catalog.db")
}

// SourceFiles converts the configured sources for registry.LoadFiles.
func (c Config) SourceFiles() []registry.SourceFile {
	files := make([]registry.SourceFile, 0, len(c.Registry.Sources))
	for _, s := range c.Registry.Sources {
		files = append(files, registry.SourceFile{Path: s.Path, Format: s.Format})
	}
	return files
}

// DefaultTracesFilePath returns ~/.config/agentmap/traces/traces.jsonl or
// an empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "agentmap", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()

	return Config{
		Compiler: CompilerConfig{
			OutputDir: "compiled",
			CacheTTL:  10 * time.Minute,
		},
		Registry: RegistryConfig{
			CoreServices: slices.Clone(registry.DefaultCoreServices),
		},
		Catalog: CatalogConfig{
			Enabled: true,
			Keep:    100,
		},
		Tracing: tr,
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Validate checks the whole configuration.
func Validate(c Config) error {
	if err := ValidateCompiler(c.Compiler); err != nil {
		return err
	}
	if err := ValidateRegistry(c.Registry); err != nil {
		return err
	}
	if c.Catalog.Keep < 0 {
		return fmt.Errorf("catalog.keep must not be negative, got %d", c.Catalog.Keep)
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %v", c.Watch.Debounce)
	}
	return nil
}

// ValidateCompiler checks compiler configuration for errors.
func ValidateCompiler(c CompilerConfig) error {
	if c.OutputDir == "" {
		return fmt.Errorf("compiler.output_dir is required")
	}
	return nil
}

// ValidateRegistry checks every declaration source has a path and a known format.
func ValidateRegistry(r RegistryConfig) error {
	for i, s := range r.Sources {
		if s.Path == "" {
			return fmt.Errorf("registry.sources[%d]: path is required", i)
		}
		switch s.Format {
		case "", "yaml", "yml", "toml":
		default:
			return fmt.Errorf("registry.sources[%d] (%s): format must be \"yaml\" or \"toml\", got %q", i, s.Path, s.Format)
		}
	}
	for i, name := range r.CoreServices {
		if name == "" {
			return fmt.Errorf("registry.core_services[%d]: name is empty", i)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tr tracing.Config) error {
	if tr.SampleRate < 0.0 || tr.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tr.SampleRate)
	}

	if tr.Exporter != "" {
		switch tr.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tr.Exporter)
		}
	}

	// Path requirements only matter when tracing is on.
	if tr.Enabled {
		if tr.Exporter == "file" && tr.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tr.Exporter == "otlp" && tr.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# agentmap configuration

# Workflow CSV used when a command is not given --csv
# csv_path: workflows/main.csv

# Log level: debug, info, warn, error
log_level: info

compiler:
  output_dir: compiled   # Bundle artifacts live here
  embed_source: false    # Copy the CSV next to each bundle
  strict_agents: false   # Fail when a graph uses an undeclared agent type
  strict_entry_point: false  # Fail a cyclic graph instead of starting at its first node
  cache_ttl: 10m         # In-memory bundle cache lifetime; negative disables

# Agent and service declarations. Files hold top-level "agents" and
# "services" tables. Earlier sources win protocol ties.
registry:
  # sources:
  #   - path: declarations/builtin.yaml
  #   - path: declarations/custom.toml
  #     format: toml
  core_services:
    - logging_service
    - config_service
    - execution_tracking_service
    - state_adapter_service
    - prompt_manager_service
  strict: false          # Abort loading on the first invalid entry

# Compile history
catalog:
  enabled: true
  # path: compiled/catalog.db
  keep: 100              # Entries kept per graph; 0 keeps everything

# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # none, file, stdout, otlp (default: file)
#   file_path: ~/.config/agentmap/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

watch:
  debounce: 500ms
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}

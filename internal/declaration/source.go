package declaration

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Entry is one raw declaration as supplied by a provider.
type Entry struct {
	Name string
	Raw  any
}

// Source supplies raw declaration entries. Entries are returned in the
// provider's own order, which the registry uses as registration order.
type Source interface {
	Name() string
	Agents() ([]Entry, error)
	Services() ([]Entry, error)
}

// StaticSource serves entries defined in code.
type StaticSource struct {
	name     string
	agents   []Entry
	services []Entry
}

// NewStaticSource creates a source from in-memory maps. Map iteration order
// is not stable, so entries are sorted by name.
func NewStaticSource(name string, agents, services map[string]any) *StaticSource {
	return &StaticSource{
		name:     name,
		agents:   sortedEntries(agents),
		services: sortedEntries(services),
	}
}

// NewOrderedStaticSource creates a source that keeps the given entry order.
func NewOrderedStaticSource(name string, agents, services []Entry) *StaticSource {
	return &StaticSource{name: name, agents: agents, services: services}
}

func (s *StaticSource) Name() string              { return s.name }
func (s *StaticSource) Agents() ([]Entry, error)   { return s.agents, nil }
func (s *StaticSource) Services() ([]Entry, error) { return s.services, nil }

func sortedEntries(m map[string]any) []Entry {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, Entry{Name: name, Raw: m[name]})
	}
	return out
}

// Table names in declaration files.
const (
	agentsTable   = "agents"
	servicesTable = "services"
)

// fileSource holds entries decoded from a declaration file.
type fileSource struct {
	path     string
	agents   []Entry
	services []Entry
}

func (f *fileSource) Name() string              { return f.path }
func (f *fileSource) Agents() ([]Entry, error)   { return f.agents, nil }
func (f *fileSource) Services() ([]Entry, error) { return f.services, nil }

// LoadYAMLFile reads a YAML declaration file with top-level "agents" and
// "services" mappings. Entry order follows the document.
func LoadYAMLFile(path string) (Source, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from registry configuration
	if err != nil {
		return nil, fmt.Errorf("reading declarations: %w", err)
	}
	return ParseYAML(path, data)
}

// ParseYAML decodes YAML declaration content. name becomes the provenance label.
func ParseYAML(name string, data []byte) (Source, error) {
	src := &fileSource{path: name}
	if len(bytes.TrimSpace(data)) == 0 {
		return src, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML declarations %s: %w", name, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return src, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing YAML declarations %s: top level must be a mapping", name)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]
		var target *[]Entry
		switch key {
		case agentsTable:
			target = &src.agents
		case servicesTable:
			target = &src.services
		default:
			continue
		}
		entries, err := yamlEntries(value)
		if err != nil {
			return nil, fmt.Errorf("parsing YAML declarations %s: %s: %w", name, key, err)
		}
		*target = entries
	}
	return src, nil
}

func yamlEntries(node *yaml.Node) ([]Entry, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("must be a mapping")
	}
	entries := make([]Entry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var raw any
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return nil, fmt.Errorf("entry %q: %w", node.Content[i].Value, err)
		}
		entries = append(entries, Entry{Name: node.Content[i].Value, Raw: raw})
	}
	return entries, nil
}

// LoadTOMLFile reads a TOML declaration file with [agents.<type>] and
// [services.<name>] tables. Entry order follows the document.
func LoadTOMLFile(path string) (Source, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from registry configuration
	if err != nil {
		return nil, fmt.Errorf("reading declarations: %w", err)
	}
	return ParseTOML(path, data)
}

// ParseTOML decodes TOML declaration content.
func ParseTOML(name string, data []byte) (Source, error) {
	var doc struct {
		Agents   map[string]any `toml:"agents"`
		Services map[string]any `toml:"services"`
	}
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("parsing TOML declarations %s: %w", name, err)
	}

	// MetaData.Keys preserves document order; the decoded maps do not.
	src := &fileSource{path: name}
	seen := make(map[string]bool)
	for _, key := range md.Keys() {
		if len(key) != 2 {
			continue
		}
		table, entry := key[0], key[1]
		id := table + "." + entry
		if seen[id] {
			continue
		}
		seen[id] = true
		switch table {
		case agentsTable:
			src.agents = append(src.agents, Entry{Name: entry, Raw: doc.Agents[entry]})
		case servicesTable:
			src.services = append(src.services, Entry{Name: entry, Raw: doc.Services[entry]})
		}
	}
	return src, nil
}

// LoadFile picks the decoder from format, or from the file extension when
// format is empty.
func LoadFile(path, format string) (Source, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case "yaml", "yml":
		return LoadYAMLFile(path)
	case "toml":
		return LoadTOMLFile(path)
	default:
		return nil, fmt.Errorf("unsupported declaration format %q for %s", format, path)
	}
}

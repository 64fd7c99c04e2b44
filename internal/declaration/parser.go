package declaration

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Raw entry keys.
const (
	keyClass         = "class"
	keyClassPath     = "class_path"
	keyRequires      = "requires"
	keyServices      = "services"
	keyProtocols     = "protocols"
	keyCapabilities  = "capabilities"
	keyMetadata      = "metadata"
	keyConfig        = "config"
	keyRequired      = "required"
	keyOptional      = "optional"
	keyImplements    = "implements"
	keySingleton     = "singleton"
	keyLazyLoad      = "lazy_load"
	keyFactoryMethod = "factory_method"
)

// ParseAgent normalizes a raw agent entry into an AgentDeclaration.
//
// raw may be an implementation path string, a map (map[string]any,
// map[any]any or map[string]string), or an AgentDeclaration. Maps must carry
// a non-empty "class" or "class_path"; "class" is checked first.
func ParseAgent(agentType string, raw any, source string) (AgentDeclaration, error) {
	if strings.TrimSpace(agentType) == "" {
		return AgentDeclaration{}, invalid(KindAgent, agentType, source, "empty agent type")
	}

	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return AgentDeclaration{}, invalid(KindAgent, agentType, source, "empty implementation path")
		}
		return AgentDeclaration{AgentType: agentType, ClassPath: strings.TrimSpace(v), Source: source}, nil
	case AgentDeclaration:
		d := v.Clone()
		d.AgentType = agentType
		if d.Source == "" {
			d.Source = source
		}
		if d.ClassPath == "" {
			return AgentDeclaration{}, invalid(KindAgent, agentType, source, "no implementation path")
		}
		d.Capabilities = dedupe(d.Capabilities)
		return d, nil
	}

	entry, ok := asMap(raw)
	if !ok {
		return AgentDeclaration{}, invalid(KindAgent, agentType, source, "unsupported entry type %T", raw)
	}

	classPath, err := classPathOf(entry)
	if err != nil {
		return AgentDeclaration{}, invalid(KindAgent, agentType, source, "%s", err)
	}

	lists := entryLists{kind: KindAgent, name: agentType, source: source, entry: entry}
	requires := lists.get(keyRequires)
	services := lists.get(keyServices)
	protocols := lists.get(keyProtocols)
	capabilities := lists.get(keyCapabilities)
	metadata := lists.mapping(keyMetadata)
	config := lists.mapping(keyConfig)
	if lists.err != nil {
		return AgentDeclaration{}, lists.err
	}

	return AgentDeclaration{
		AgentType:            agentType,
		ClassPath:            classPath,
		ServiceRequirements:  append(requires, services...),
		ProtocolRequirements: protocols,
		Capabilities:         dedupe(capabilities),
		Metadata:             metadata,
		Config:               config,
		Source:               source,
	}, nil
}

// ParseService normalizes a raw service entry into a ServiceDeclaration.
// Singleton defaults to true and LazyLoad to false.
func ParseService(name string, raw any, source string) (ServiceDeclaration, error) {
	if strings.TrimSpace(name) == "" {
		return ServiceDeclaration{}, invalid(KindService, name, source, "empty service name")
	}

	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return ServiceDeclaration{}, invalid(KindService, name, source, "empty implementation path")
		}
		return ServiceDeclaration{Name: name, ClassPath: strings.TrimSpace(v), Singleton: true, Source: source}, nil
	case ServiceDeclaration:
		d := v.Clone()
		d.Name = name
		if d.Source == "" {
			d.Source = source
		}
		if d.ClassPath == "" {
			return ServiceDeclaration{}, invalid(KindService, name, source, "no implementation path")
		}
		return d, nil
	}

	entry, ok := asMap(raw)
	if !ok {
		return ServiceDeclaration{}, invalid(KindService, name, source, "unsupported entry type %T", raw)
	}

	classPath, err := classPathOf(entry)
	if err != nil {
		return ServiceDeclaration{}, invalid(KindService, name, source, "%s", err)
	}

	lists := entryLists{kind: KindService, name: name, source: source, entry: entry}
	required := lists.get(keyRequired)
	optional := lists.get(keyOptional)
	implements := lists.get(keyImplements)
	requires := lists.get(keyRequires)
	singleton := lists.flag(keySingleton, true)
	lazy := lists.flag(keyLazyLoad, false)
	factory := lists.str(keyFactoryMethod)
	metadata := lists.mapping(keyMetadata)
	config := lists.mapping(keyConfig)
	if lists.err != nil {
		return ServiceDeclaration{}, lists.err
	}

	return ServiceDeclaration{
		Name:                 name,
		ClassPath:            classPath,
		RequiredDependencies: required,
		OptionalDependencies: optional,
		ImplementsProtocols:  implements,
		RequiredProtocols:    requires,
		Singleton:            singleton,
		LazyLoad:             lazy,
		FactoryMethod:        factory,
		Metadata:             metadata,
		Config:               config,
		Source:               source,
	}, nil
}

func classPathOf(entry map[string]any) (string, error) {
	for _, key := range []string{keyClass, keyClassPath} {
		v, ok := entry[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%q must be a string, got %T", key, v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("missing %q or %q", keyClass, keyClassPath)
}

// entryLists reads typed fields from a raw entry and keeps the first error.
type entryLists struct {
	kind   Kind
	name   string
	source string
	entry  map[string]any
	err    error
}

func (l *entryLists) fail(format string, args ...any) {
	if l.err == nil {
		l.err = invalid(l.kind, l.name, l.source, format, args...)
	}
}

// get reads a list field. A string is treated as a comma-separated list.
func (l *entryLists) get(key string) []string {
	v, ok := l.entry[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case string:
		return splitList(val)
	case []string:
		return trimAll(val)
	case []any:
		out := make([]string, 0, len(val))
		for i, item := range val {
			s, ok := item.(string)
			if !ok {
				l.fail("%q[%d] must be a string, got %T", key, i, item)
				return nil
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		l.fail("%q must be a list, got %T", key, v)
		return nil
	}
}

func (l *entryLists) flag(key string, def bool) bool {
	v, ok := l.entry[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			l.fail("%q must be a boolean, got %q", key, val)
			return def
		}
		return b
	default:
		l.fail("%q must be a boolean, got %T", key, v)
		return def
	}
}

func (l *entryLists) str(key string) string {
	v, ok := l.entry[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		l.fail("%q must be a string, got %T", key, v)
		return ""
	}
	return strings.TrimSpace(s)
}

// mapping passes metadata/config through opaquely, deep-copied.
func (l *entryLists) mapping(key string) map[string]any {
	v, ok := l.entry[key]
	if !ok || v == nil {
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		l.fail("%q must be a map, got %T", key, v)
		return nil
	}
	return cloneMap(m)
}

// asMap converts the map shapes produced by YAML, TOML and Go literals.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return trimAll(strings.Split(s, ","))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return slices.Clip(out)
}

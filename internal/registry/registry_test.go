package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/agentmap/internal/declaration"
)

// === Helper Functions ===

func agent(agentType string, services ...string) declaration.AgentDeclaration {
	return declaration.AgentDeclaration{
		AgentType:           agentType,
		ClassPath:           "agents." + agentType,
		ServiceRequirements: services,
		Source:              "test",
	}
}

func service(name string, deps ...string) declaration.ServiceDeclaration {
	return declaration.ServiceDeclaration{
		Name:                 name,
		ClassPath:            "services." + name,
		RequiredDependencies: deps,
		Singleton:            true,
		Source:               "test",
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := New(WithCoreServices("logging_service"))
	require.NoError(t, reg.AddDeclarations(
		[]declaration.AgentDeclaration{
			agent("llm", "llm_service"),
			agent("echo"),
			agent("storage", "storage_service"),
		},
		[]declaration.ServiceDeclaration{
			service("llm_service", "config_service", "logging_service"),
			service("config_service"),
			service("logging_service", "config_service"),
			service("storage_service", "config_service"),
			service("unused_service"),
		},
	))
	return reg
}

type fakeBundle struct {
	name     string
	agents   []string
	services []string
}

func (b fakeBundle) BundleName() string             { return b.name }
func (b fakeBundle) RequiredAgentTypes() []string   { return b.agents }
func (b fakeBundle) RequiredServiceNames() []string { return b.services }

// === Unit Tests: registration ===

func TestRegistry_AddAndLookup(t *testing.T) {
	reg := newTestRegistry(t)

	d, ok := reg.AgentDeclaration("llm")
	require.True(t, ok)
	require.Equal(t, "agents.llm", d.ClassPath)

	_, ok = reg.AgentDeclaration("nope")
	require.False(t, ok)

	s, ok := reg.ServiceDeclaration("config_service")
	require.True(t, ok)
	require.Equal(t, "services.config_service", s.ClassPath)

	require.Equal(t, []string{"echo", "llm", "storage"}, reg.AgentTypes())
	require.Len(t, reg.ServiceNames(), 5)
}

func TestRegistry_AddReplaces(t *testing.T) {
	reg := newTestRegistry(t)

	replacement := agent("echo", "storage_service")
	replacement.ClassPath = "agents.v2.Echo"
	require.NoError(t, reg.AddAgentDeclaration(replacement))

	d, ok := reg.AgentDeclaration("echo")
	require.True(t, ok)
	require.Equal(t, "agents.v2.Echo", d.ClassPath)
	require.Len(t, reg.AgentTypes(), 3)
}

func TestRegistry_LookupReturnsCopy(t *testing.T) {
	reg := newTestRegistry(t)

	d, _ := reg.AgentDeclaration("llm")
	d.ServiceRequirements[0] = "tampered"

	again, _ := reg.AgentDeclaration("llm")
	require.Equal(t, "llm_service", again.ServiceRequirements[0])
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	reg := New()
	err := reg.AddAgentDeclaration(agent(""))
	require.ErrorIs(t, err, ErrEmptyName)

	err = reg.AddServiceDeclaration(service(" "))
	require.ErrorIs(t, err, ErrEmptyName)
	require.Empty(t, reg.ServiceNames())
}

func TestRegistry_Freeze(t *testing.T) {
	reg := newTestRegistry(t)
	reg.Freeze()
	require.True(t, reg.Frozen())

	err := reg.AddAgentDeclaration(agent("late"))
	require.ErrorIs(t, err, ErrRegistryFrozen)

	_, ok := reg.AgentDeclaration("late")
	require.False(t, ok)
	_, ok = reg.AgentDeclaration("llm")
	require.True(t, ok, "reads still work after freeze")
}

// === Unit Tests: protocols ===

func TestRegistry_ProtocolMap_FirstRegisteredWins(t *testing.T) {
	reg := New()
	first := service("openai_service")
	first.ImplementsProtocols = []string{"LLMProtocol"}
	second := service("anthropic_service")
	second.ImplementsProtocols = []string{"LLMProtocol", "EmbeddingProtocol"}

	require.NoError(t, reg.AddServiceDeclaration(first))
	require.NoError(t, reg.AddServiceDeclaration(second))

	m := reg.ProtocolServiceMap()
	require.Equal(t, "openai_service", m["LLMProtocol"])
	require.Equal(t, "anthropic_service", m["EmbeddingProtocol"])

	require.Equal(t, map[string][]string{
		"LLMProtocol": {"openai_service", "anthropic_service"},
	}, reg.AmbiguousProtocols())

	// Replacing keeps the original registration position.
	first.ClassPath = "services.v2.OpenAI"
	require.NoError(t, reg.AddServiceDeclaration(first))
	require.Equal(t, "openai_service", reg.ProtocolServiceMap()["LLMProtocol"])
}

func TestRegistry_ServicesByProtocols(t *testing.T) {
	reg := New()
	a := service("a")
	a.ImplementsProtocols = []string{"P1"}
	b := service("b")
	b.ImplementsProtocols = []string{"P2", "P3"}
	c := service("c")
	require.NoError(t, reg.AddDeclarations(nil, []declaration.ServiceDeclaration{a, b, c}))

	got := reg.ServicesByProtocols("P3", "P1")
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Name)
	require.Equal(t, "b", got[1].Name)

	require.Empty(t, reg.ServicesByProtocols())
	require.Empty(t, reg.ServicesByProtocols("unknown"))
}

// === Unit Tests: resolution ===

func TestRegistry_ResolveAgentRequirements(t *testing.T) {
	reg := newTestRegistry(t)

	req := reg.ResolveAgentRequirements("llm", "echo", "ghost")
	require.Equal(t, []string{"config_service", "llm_service", "logging_service"}, req.Services)
	require.Equal(t, []string{"ghost"}, req.Missing)
	require.Empty(t, req.UnresolvedServices)
}

func TestRegistry_ResolveAgentRequirements_ProtocolsPullProviders(t *testing.T) {
	reg := New()
	a := agent("summarizer")
	a.ProtocolRequirements = []string{"LLMProtocol"}
	provider := service("llm_service", "http_service")
	provider.ImplementsProtocols = []string{"LLMProtocol"}
	provider.RequiredProtocols = []string{"HTTPProtocol"}
	httpSvc := service("http_service")

	require.NoError(t, reg.AddDeclarations(
		[]declaration.AgentDeclaration{a},
		[]declaration.ServiceDeclaration{provider, httpSvc},
	))

	req := reg.ResolveAgentRequirements("summarizer")
	require.Equal(t, []string{"http_service", "llm_service"}, req.Services)
	require.Equal(t, []string{"HTTPProtocol", "LLMProtocol"}, req.Protocols)
}

func TestRegistry_ResolveRecordsUnresolvedServices(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddAgentDeclaration(agent("a", "phantom_service")))

	req := reg.ResolveAgentRequirements("a")
	require.Equal(t, []string{"phantom_service"}, req.Services)
	require.Equal(t, []string{"phantom_service"}, req.UnresolvedServices)
}

func TestRegistry_CycleTerminates(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddDeclarations(
		[]declaration.AgentDeclaration{agent("a", "x")},
		[]declaration.ServiceDeclaration{service("x", "y"), service("y", "x")},
	))

	require.Equal(t, []string{"x", "y"}, reg.ResolveServiceDependencies("x"))
	require.Equal(t, []string{"x", "y"}, reg.ResolveAgentRequirements("a").Services)
}

func TestRegistry_ResolveServiceDependencies_IgnoresOptional(t *testing.T) {
	reg := New()
	s := service("main", "dep")
	s.OptionalDependencies = []string{"extra"}
	require.NoError(t, reg.AddDeclarations(nil, []declaration.ServiceDeclaration{s, service("dep"), service("extra")}))

	require.Equal(t, []string{"dep", "main"}, reg.ResolveServiceDependencies("main"))
}

// === Property Tests ===

// genRegistry draws a registry of random agents and services with arbitrary
// (possibly cyclic) dependencies.
func genRegistry(t *rapid.T) (*Registry, []string) {
	nServices := rapid.IntRange(1, 8).Draw(t, "services")
	nAgents := rapid.IntRange(1, 10).Draw(t, "agents")

	serviceNames := make([]string, nServices)
	for i := range serviceNames {
		serviceNames[i] = fmt.Sprintf("svc_%d", i)
	}
	agentTypes := make([]string, nAgents)
	for i := range agentTypes {
		agentTypes[i] = fmt.Sprintf("agent_%d", i)
	}

	var services []declaration.ServiceDeclaration
	for _, name := range serviceNames {
		deps := rapid.SliceOfN(rapid.SampledFrom(serviceNames), 0, 3).Draw(t, "deps_"+name)
		services = append(services, service(name, deps...))
	}
	var agents []declaration.AgentDeclaration
	for _, at := range agentTypes {
		reqs := rapid.SliceOfN(rapid.SampledFrom(serviceNames), 0, 3).Draw(t, "reqs_"+at)
		agents = append(agents, agent(at, reqs...))
	}

	reg := New()
	if err := reg.AddDeclarations(agents, services); err != nil {
		t.Fatalf("add: %v", err)
	}
	return reg, agentTypes
}

func TestRegistry_Property_Monotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg, agentTypes := genRegistry(rt)
		split := rapid.IntRange(0, len(agentTypes)).Draw(rt, "split")
		a, b := agentTypes[:split], agentTypes[split:]

		small := reg.ResolveAgentRequirements(a...)
		big := reg.ResolveAgentRequirements(append(append([]string{}, a...), b...)...)

		for _, s := range small.Services {
			require.Contains(rt, big.Services, s)
		}
	})
}

func TestRegistry_Property_ClosureIsDistinctAndClosed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg, agentTypes := genRegistry(rt)
		req := reg.ResolveAgentRequirements(agentTypes...)

		seen := make(map[string]bool)
		for _, s := range req.Services {
			require.False(rt, seen[s], "service %s listed twice", s)
			seen[s] = true
		}
		for _, s := range req.Services {
			d, ok := reg.ServiceDeclaration(s)
			require.True(rt, ok)
			for _, dep := range d.RequiredDependencies {
				require.True(rt, seen[dep], "dependency %s of %s missing from closure", dep, s)
			}
		}
	})
}

// === Scoped registries ===

func TestCreateScopedRegistryForBundle(t *testing.T) {
	reg := newTestRegistry(t)

	scoped := reg.CreateScopedRegistryForBundle(fakeBundle{name: "G", agents: []string{"llm", "ghost"}})

	require.Equal(t, "G", scoped.BundleName())
	require.NotEmpty(t, scoped.RunID())
	require.Equal(t, []string{"llm"}, scoped.AgentTypes())
	require.Equal(t, []string{"config_service", "llm_service", "logging_service"}, scoped.ServiceNames())

	_, ok := scoped.AgentDeclaration("echo")
	require.False(t, ok)
	_, ok = scoped.ServiceDeclaration("unused_service")
	require.False(t, ok)
}

func TestCreateScopedRegistryForBundle_IncludesCoreAndExplicitServices(t *testing.T) {
	reg := newTestRegistry(t)

	scoped := reg.CreateScopedRegistryForBundle(fakeBundle{name: "G", agents: []string{"echo"}, services: []string{"storage_service"}})

	// logging_service is core; it pulls config_service.
	require.Equal(t, []string{"config_service", "logging_service", "storage_service"}, scoped.ServiceNames())
}

func TestCreateScopedRegistryForBundle_DoesNotMutateGlobal(t *testing.T) {
	reg := newTestRegistry(t)
	before := reg.ServiceNames()

	scoped := reg.CreateScopedRegistryForBundle(fakeBundle{name: "G", agents: []string{"llm"}})
	require.NotNil(t, scoped)

	require.Equal(t, before, reg.ServiceNames())
	require.NoError(t, reg.AddAgentDeclaration(agent("later", "storage_service")), "registry still writable")

	_, ok := scoped.AgentDeclaration("later")
	require.False(t, ok, "later global writes are not visible in the snapshot")
}

func TestCreateScopedRegistryForBundle_DisjointBundlesIsolated(t *testing.T) {
	reg := newTestRegistry(t)

	a := reg.CreateScopedRegistryForBundle(fakeBundle{name: "A", agents: []string{"llm"}})
	b := reg.CreateScopedRegistryForBundle(fakeBundle{name: "B", agents: []string{"storage"}})

	require.NotEqual(t, a.RunID(), b.RunID())

	_, ok := a.AgentDeclaration("storage")
	require.False(t, ok)
	_, ok = b.AgentDeclaration("llm")
	require.False(t, ok)
	_, ok = a.ServiceDeclaration("storage_service")
	require.False(t, ok)
	_, ok = b.ServiceDeclaration("llm_service")
	require.False(t, ok)
}

func TestCreateScopedRegistryForBundle_Concurrent(t *testing.T) {
	reg := newTestRegistry(t)
	reg.Freeze()

	const workers = 50
	results := make([]*ScopedRegistry, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agents := []string{"llm"}
			if i%2 == 1 {
				agents = []string{"storage"}
			}
			results[i] = reg.CreateScopedRegistryForBundle(fakeBundle{name: fmt.Sprintf("b%d", i), agents: agents})
		}(i)
	}
	wg.Wait()

	for i, s := range results {
		if i%2 == 0 {
			require.Equal(t, []string{"llm"}, s.AgentTypes())
		} else {
			require.Equal(t, []string{"storage"}, s.AgentTypes())
		}
	}
}

func TestRegistry_ReadsDuringRegistration(t *testing.T) {
	reg := newTestRegistry(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = reg.AddAgentDeclaration(agent(fmt.Sprintf("dyn_%d", i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			req := reg.ResolveAgentRequirements("llm")
			if len(req.Services) != 3 {
				t.Errorf("unexpected closure %v", req.Services)
				return
			}
		}
	}()
	wg.Wait()

	require.Len(t, reg.AgentTypes(), 203)
}

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/agentmap/internal/declaration"
)

// mockSource is a testify mock of declaration.Source.
type mockSource struct {
	mock.Mock
}

func (m *mockSource) Name() string {
	return m.Called().String(0)
}

func (m *mockSource) Agents() ([]declaration.Entry, error) {
	args := m.Called()
	entries, _ := args.Get(0).([]declaration.Entry)
	return entries, args.Error(1)
}

func (m *mockSource) Services() ([]declaration.Entry, error) {
	args := m.Called()
	entries, _ := args.Get(0).([]declaration.Entry)
	return entries, args.Error(1)
}

func builtins() declaration.Source {
	return declaration.NewOrderedStaticSource("builtin",
		[]declaration.Entry{
			{Name: "echo", Raw: "agents.Echo"},
			{Name: "llm", Raw: map[string]any{"class": "agents.LLM", "requires": []any{"llm_service"}}},
		},
		[]declaration.Entry{
			{Name: "llm_service", Raw: map[string]any{"class": "services.LLM", "implements": []any{"LLMProtocol"}}},
			{Name: "config_service", Raw: "services.Config"},
		},
	)
}

func TestLoad_MergesAndFreezes(t *testing.T) {
	override := declaration.NewOrderedStaticSource("override",
		[]declaration.Entry{{Name: "echo", Raw: "custom.Echo"}},
		nil,
	)

	reg, report, err := Load([]declaration.Source{builtins(), override}, LoadOptions{CoreServices: []string{}})
	require.NoError(t, err)
	require.True(t, reg.Frozen())
	require.Equal(t, 2, report.Agents)
	require.Equal(t, 2, report.Services)
	require.Empty(t, report.Skipped)

	echo, ok := reg.AgentDeclaration("echo")
	require.True(t, ok)
	require.Equal(t, "custom.Echo", echo.ClassPath)
	require.Equal(t, "override", echo.Source)

	require.Empty(t, reg.CoreServices())
}

func TestLoad_KeepOpen(t *testing.T) {
	reg, _, err := Load([]declaration.Source{builtins()}, LoadOptions{KeepOpen: true})
	require.NoError(t, err)
	require.False(t, reg.Frozen())
	require.NoError(t, reg.AddAgentDeclaration(agent("extra")))
}

func TestLoad_SkipsInvalidEntries(t *testing.T) {
	bad := declaration.NewOrderedStaticSource("bad",
		[]declaration.Entry{
			{Name: "broken", Raw: 42},
			{Name: "", Raw: "agents.Nameless"},
			{Name: "fine", Raw: "agents.Fine"},
		},
		[]declaration.Entry{{Name: "noclass", Raw: map[string]any{"singleton": true}}},
	)

	reg, report, err := Load([]declaration.Source{bad}, LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"fine"}, reg.AgentTypes())
	require.Empty(t, reg.ServiceNames())
	require.Len(t, report.Skipped, 3)

	names := []string{report.Skipped[0].Name, report.Skipped[1].Name, report.Skipped[2].Name}
	require.Equal(t, []string{"broken", "", "noclass"}, names)
	require.Equal(t, declaration.KindService, report.Skipped[2].Kind)
}

func TestLoad_StrictAbortsOnInvalidEntry(t *testing.T) {
	bad := declaration.NewOrderedStaticSource("bad",
		[]declaration.Entry{{Name: "broken", Raw: 42}},
		nil,
	)

	reg, _, err := Load([]declaration.Source{builtins(), bad}, LoadOptions{Strict: true})
	require.Error(t, err)
	require.Nil(t, reg)
	require.Contains(t, err.Error(), `"broken"`)
}

func TestLoad_FailingSource(t *testing.T) {
	failing := &mockSource{}
	failing.On("Name").Return("remote")
	failing.On("Agents").Return(nil, errors.New("connection refused"))
	failing.On("Services").Return([]declaration.Entry{{Name: "cache_service", Raw: "services.Cache"}}, nil)

	reg, report, err := Load([]declaration.Source{builtins(), failing}, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, "remote", report.Skipped[0].Source)
	require.Empty(t, report.Skipped[0].Name)

	_, ok := reg.ServiceDeclaration("cache_service")
	require.True(t, ok, "the healthy half of a source still loads")
	failing.AssertExpectations(t)
}

func TestLoad_FailingSourceStrict(t *testing.T) {
	failing := &mockSource{}
	failing.On("Name").Return("remote")
	failing.On("Agents").Return(nil, errors.New("connection refused"))

	_, _, err := Load([]declaration.Source{failing}, LoadOptions{Strict: true})
	require.ErrorContains(t, err, "connection refused")
	failing.AssertNotCalled(t, "Services")
}

func TestLoad_ReportsAmbiguousProtocols(t *testing.T) {
	src := declaration.NewOrderedStaticSource("dup", nil, []declaration.Entry{
		{Name: "first_llm", Raw: map[string]any{"class": "a.First", "implements": "LLMProtocol"}},
		{Name: "second_llm", Raw: map[string]any{"class": "a.Second", "implements": "LLMProtocol"}},
	})

	reg, report, err := Load([]declaration.Source{src}, LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"LLMProtocol": {"first_llm", "second_llm"}}, report.Ambiguous)
	require.Equal(t, "first_llm", reg.ProtocolServiceMap()["LLMProtocol"])
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
agents:
  echo: agents.Echo
services:
  config_service: services.Config
`), 0o644))

	tomlPath := filepath.Join(dir, "extra.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[agents.summarizer]
class = "agents.Summarizer"
requires = ["config_service"]
`), 0o644))

	missing := filepath.Join(dir, "missing.yaml")

	reg, report, err := LoadFiles([]SourceFile{{Path: yamlPath}, {Path: tomlPath}, {Path: missing}}, LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"echo", "summarizer"}, reg.AgentTypes())
	require.Len(t, report.Skipped, 1)
	require.Equal(t, missing, report.Skipped[0].Source)

	_, _, err = LoadFiles([]SourceFile{{Path: missing}}, LoadOptions{Strict: true})
	require.Error(t, err)
}

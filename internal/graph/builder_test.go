package graph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/agentmap/internal/dsl"
)

// === Helper Functions ===

const header = "GraphName,Node,AgentType,Context,Prompt,Input_Fields,Output_Field,Description,Success_Next,Failure_Next,Edge\n"

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func row(graph, node, edge, success, failure string) dsl.NodeSpec {
	return dsl.NodeSpec{
		GraphName:   graph,
		Name:        node,
		AgentType:   "echo",
		Edge:        edge,
		SuccessNext: success,
		FailureNext: failure,
	}
}

func parse(t require.TestingT, content string) *dsl.Specs {
	specs, err := dsl.ParseReader("test", strings.NewReader(content))
	require.NoError(t, err)
	return specs
}

// === Unit Tests ===

func TestBuildFromCSV_Example(t *testing.T) {
	path := writeCSV(t, "GraphName,Node,AgentType,Context,Prompt,Input_Fields,Output_Field,Description,Success_Next,Edge\n"+
		"G,start,input,,,in,out,,,end\n"+
		"G,end,echo,,,out,,,,,,\n")

	g, err := BuildFromCSV(path, "G")
	require.NoError(t, err)
	require.Equal(t, "G", g.Name)
	require.Equal(t, "start", g.EntryPoint)
	require.Equal(t, []string{"start", "end"}, g.Order)

	start, ok := g.Node("start")
	require.True(t, ok)
	require.Equal(t, map[string]string{EdgeDefault: "end"}, start.Edges)
	require.Equal(t, []string{"in"}, start.Inputs)
	require.Equal(t, "out", start.Output)

	end, ok := g.Node("end")
	require.True(t, ok)
	require.Empty(t, end.Edges)
	require.Equal(t, []string{"out"}, end.Inputs)
}

func TestBuild_SuccessAndFailureCoexist(t *testing.T) {
	g, err := Build("G", []dsl.NodeSpec{
		row("G", "check", "", "ok", "bad"),
		row("G", "ok", "", "", ""),
		row("G", "bad", "", "", ""),
	})
	require.NoError(t, err)

	n, _ := g.Node("check")
	require.Equal(t, map[string]string{EdgeSuccess: "ok", EdgeFailure: "bad"}, n.Edges)
	require.Equal(t, "check", g.EntryPoint)
}

func TestBuild_MixedEdgesFail(t *testing.T) {
	_, err := Build("G", []dsl.NodeSpec{
		row("G", "mixed", "b", "b", ""),
		row("G", "b", "", "", ""),
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidEdgeDefinition))

	var iee *InvalidEdgeDefinitionError
	require.True(t, errors.As(err, &iee))
	require.Equal(t, "mixed", iee.Node)
	require.Contains(t, err.Error(), `"mixed"`)
}

func TestBuild_MissingTargetFails(t *testing.T) {
	_, err := Build("Flow", []dsl.NodeSpec{
		row("Flow", "a", "", "", "ghost"),
	})
	require.ErrorIs(t, err, ErrMissingEdgeTarget)

	var mte *MissingEdgeTargetError
	require.True(t, errors.As(err, &mte))
	require.Equal(t, "a", mte.Node)
	require.Equal(t, "ghost", mte.Target)
	require.Equal(t, "Flow", mte.Graph)
	require.Equal(t, EdgeFailure, mte.Label)

	for _, part := range []string{`"a"`, `"ghost"`, `"Flow"`} {
		require.Contains(t, err.Error(), part)
	}
}

func TestBuild_FunctionTargetsAreExempt(t *testing.T) {
	g, err := Build("G", []dsl.NodeSpec{
		row("G", "router", "func:choose_path", "", ""),
		row("G", "branch", "", "func:retry", "done"),
		row("G", "done", "", "", ""),
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"router": "choose_path", "branch": "retry"}, g.FunctionRefs())
}

func TestBuild_DuplicateNodesFirstWins(t *testing.T) {
	first := row("G", "a", "", "", "")
	first.Prompt = "first"
	second := row("G", "a", "", "", "")
	second.Prompt = "second"

	g, err := Build("G", []dsl.NodeSpec{first, second})
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
	n, _ := g.Node("a")
	require.Equal(t, "first", n.Prompt)
}

func TestBuild_DuplicateEdgesIgnored(t *testing.T) {
	// The duplicate's dangling edge must not be wired.
	g, err := Build("G", []dsl.NodeSpec{
		row("G", "a", "", "", ""),
		row("G", "a", "nowhere", "", ""),
	})
	require.NoError(t, err)
	n, _ := g.Node("a")
	require.Empty(t, n.Edges)
}

func TestBuild_EntryPointTieBreak(t *testing.T) {
	for i := 0; i < 10; i++ {
		g, err := Build("G", []dsl.NodeSpec{
			row("G", "b_node", "", "", ""),
			row("G", "a_node", "", "", ""),
		})
		require.NoError(t, err)
		require.Equal(t, "a_node", g.EntryPoint)
	}
}

func TestBuild_EntryPointCycleFallsBack(t *testing.T) {
	specs := []dsl.NodeSpec{
		row("G", "y", "x", "", ""),
		row("G", "x", "y", "", ""),
	}

	g, err := Build("G", specs)
	require.NoError(t, err)
	require.Equal(t, "y", g.EntryPoint, "first constructed node")

	strict := &Builder{StrictEntryPoint: true}
	_, err = strict.Build("G", specs)
	require.ErrorIs(t, err, ErrNoEntryPoint)
}

func TestBuild_SelfLoopIsIncoming(t *testing.T) {
	g, err := Build("G", []dsl.NodeSpec{
		row("G", "loop", "", "loop", "out"),
		row("G", "start", "loop", "", ""),
		row("G", "out", "", "", ""),
	})
	require.NoError(t, err)
	require.Equal(t, "start", g.EntryPoint)
}

func TestBuildFromCSV_SelectsGraph(t *testing.T) {
	path := writeCSV(t, header+
		"Second,a,echo,,,,,,,,\n"+
		"First,b,echo,,,,,,,,\n")

	g, err := BuildFromCSV(path, "")
	require.NoError(t, err)
	require.Equal(t, "Second", g.Name, "first graph in the file")

	_, err = BuildFromCSV(path, "Third")
	require.ErrorIs(t, err, ErrGraphNotFound)

	var gnf *GraphNotFoundError
	require.True(t, errors.As(err, &gnf))
	require.Equal(t, []string{"First", "Second"}, gnf.Available)
	require.Contains(t, err.Error(), "First, Second")
}

func TestBuildAllFromCSV_IsolatesFailures(t *testing.T) {
	path := writeCSV(t, header+
		"Good,a,echo,,,,,,,,b\n"+
		"Good,b,echo,,,,,,,,\n"+
		"Bad,a,echo,,,,,,,,ghost\n"+
		"Mixed,a,echo,,,,,,b,,b\n"+
		"Mixed,b,echo,,,,,,,,\n")

	graphs, err := BuildAllFromCSV(path)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMissingEdgeTarget)
	require.ErrorIs(t, err, ErrInvalidEdgeDefinition)

	require.Len(t, graphs, 1)
	require.Contains(t, graphs, "Good")
	require.Equal(t, "a", graphs["Good"].EntryPoint)
}

func TestBuildAllFromCSV_ParseError(t *testing.T) {
	path := writeCSV(t, "AgentType\necho\n")
	graphs, err := BuildAllFromCSV(path)
	require.ErrorIs(t, err, dsl.ErrMissingColumns)
	require.Nil(t, graphs)
}

func TestGraph_AgentTypesAndClone(t *testing.T) {
	a := row("G", "a", "b", "", "")
	a.AgentType = "llm"
	g, err := Build("G", []dsl.NodeSpec{a, row("G", "b", "", "", "")})
	require.NoError(t, err)
	require.Equal(t, []string{"echo", "llm"}, g.AgentTypes())

	c := g.Clone()
	require.Equal(t, g, c)
	c.Nodes["a"].Edges[EdgeDefault] = "changed"
	require.Equal(t, "b", g.Nodes["a"].Edges[EdgeDefault])
}

// === Property Tests ===

func TestBuildAll_Property_GraphAndNodeCounts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(rt, "rows")

		var sb strings.Builder
		sb.WriteString(header)
		want := make(map[string]map[string]bool)
		for i := 0; i < n; i++ {
			g := fmt.Sprintf("G%d", rapid.IntRange(0, 4).Draw(rt, "graph"))
			node := fmt.Sprintf("n%d", rapid.IntRange(0, 6).Draw(rt, "node"))
			if want[g] == nil {
				want[g] = make(map[string]bool)
			}
			want[g][node] = true
			fmt.Fprintf(&sb, "%s,%s,echo,,,,,,,,\n", g, node)
		}

		graphs, err := defaultBuilder.BuildAll(parse(rt, sb.String()))
		require.NoError(rt, err)
		require.Len(rt, graphs, len(want))
		for name, nodes := range want {
			require.Contains(rt, graphs, name)
			require.Equal(rt, len(nodes), graphs[name].Len())
		}
	})
}

func TestBuild_Property_EntryPointIndependentOfRowOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "length")
		var specs []dsl.NodeSpec
		for i := 0; i < n; i++ {
			next := ""
			if i < n-1 {
				next = fmt.Sprintf("step%d", i+1)
			}
			specs = append(specs, row("G", fmt.Sprintf("step%d", i), next, "", ""))
		}
		shuffled := rapid.Permutation(specs).Draw(rt, "order")

		g, err := Build("G", shuffled)
		require.NoError(rt, err)
		require.Equal(rt, "step0", g.EntryPoint)
	})
}

func TestBuild_Property_Deterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "nodes")
		var sb strings.Builder
		sb.WriteString(header)
		for i := 0; i < n; i++ {
			edge := ""
			if rapid.Bool().Draw(rt, "has_edge") {
				edge = fmt.Sprintf("n%d", rapid.IntRange(0, n-1).Draw(rt, "target"))
			}
			fmt.Fprintf(&sb, "G,n%d,echo,,,a|b,c,,,,%s\n", i, edge)
		}
		content := sb.String()

		first, err := defaultBuilder.BuildAll(parse(rt, content))
		require.NoError(rt, err)
		second, err := defaultBuilder.BuildAll(parse(rt, content))
		require.NoError(rt, err)
		require.Equal(rt, first, second)
	})
}

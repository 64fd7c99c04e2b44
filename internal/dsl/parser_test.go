package dsl

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const canonicalHeader = "GraphName,Node,AgentType,Context,Input_Fields,Output_Field,Prompt,Description,Edge,Success_Next,Failure_Next\n"

func TestParse_Canonical(t *testing.T) {
	path := writeCSV(t, canonicalHeader+
		"G,start,input,,,user_input,Ask the user,Entry,,process,fail\n"+
		"G,process,llm,temperature=0.2,user_input|history,answer,Answer it,,end,,\n"+
		"G,end,echo,,answer,,,,,,\n"+
		"G,fail,echo,,,,,,,,\n"+
		"Other,only,echo,,,,,,,,\n")

	specs, err := Parse(path)
	require.NoError(t, err)
	require.Equal(t, []string{"G", "Other"}, specs.Order)
	require.Len(t, specs.Graphs["G"], 4)
	require.Len(t, specs.Graphs["Other"], 1)

	start := specs.Graphs["G"][0]
	require.Equal(t, NodeSpec{
		GraphName:   "G",
		Name:        "start",
		AgentType:   "input",
		OutputField: "user_input",
		Prompt:      "Ask the user",
		Description: "Entry",
		SuccessNext: "process",
		FailureNext: "fail",
		Line:        2,
	}, start)

	process := specs.Graphs["G"][1]
	require.Equal(t, []string{"user_input", "history"}, process.InputFields)
	require.Equal(t, "temperature=0.2", process.Context)
	require.Equal(t, "end", process.Edge)

	end := specs.Graphs["G"][2]
	require.Equal(t, []string{"answer"}, end.InputFields)
}

func TestParse_Aliases(t *testing.T) {
	path := writeCSV(t, "workflow, Node Name ,AGENT,Instructions,inputs,output,on-failure,next,Unknown Column\n"+
		"W,first,llm,Do it,a | b,c,recover,second,ignored\n")

	specs, err := Parse(path)
	require.NoError(t, err)

	rows, ok := specs.Graph("W")
	require.True(t, ok)
	require.Len(t, rows, 1)
	got := rows[0]
	require.Equal(t, "first", got.Name)
	require.Equal(t, "llm", got.AgentType)
	require.Equal(t, "Do it", got.Prompt)
	require.Equal(t, []string{"a", "b"}, got.InputFields)
	require.Equal(t, "c", got.OutputField)
	require.Equal(t, "recover", got.FailureNext)
	require.Equal(t, "second", got.Edge)
}

func TestParse_SkipsRowsWithoutNames(t *testing.T) {
	path := writeCSV(t, canonicalHeader+
		",orphan,echo,,,,,,,,\n"+
		"G,,echo,,,,,,,,\n"+
		",,,,,,,,,,\n"+
		"G,kept,echo,,,,,,,,\n")

	specs, err := Parse(path)
	require.NoError(t, err)
	require.Equal(t, 2, specs.Skipped)
	require.Len(t, specs.Graphs["G"], 1)
	require.Equal(t, "kept", specs.Graphs["G"][0].Name)
}

func TestParse_ShortAndLongRows(t *testing.T) {
	path := writeCSV(t, "GraphName,Node,AgentType,Edge\n"+
		"G,a\n"+
		"G,b,echo,a,extra,cells\n")

	specs, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, specs.Graphs["G"], 2)
	require.Empty(t, specs.Graphs["G"][0].AgentType)
	require.Equal(t, "a", specs.Graphs["G"][1].Edge)
}

func TestParse_MissingColumns(t *testing.T) {
	path := writeCSV(t, "AgentType,Prompt\necho,hi\n")

	_, err := Parse(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMissingColumns))

	var mce *MissingColumnsError
	require.True(t, errors.As(err, &mce))
	require.Equal(t, []Column{ColGraphName, ColNode}, mce.Columns)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)

	_, err = ParseReader("empty", strings.NewReader(""))
	require.ErrorContains(t, err, "no header row")
}

func TestParse_Deterministic(t *testing.T) {
	content := canonicalHeader +
		"G,a,echo,,x|y,z,,,b,,\n" +
		"G,b,echo,,z,,,,,,\n"

	first, err := ParseReader("one", strings.NewReader(content))
	require.NoError(t, err)
	second, err := ParseReader("one", strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSplitInputFields(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"a", []string{"a"}},
		{"a|b|c", []string{"a", "b", "c"}},
		{" a | | b ", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, SplitInputFields(tt.in))
		})
	}
}

func TestLookupColumn(t *testing.T) {
	tests := []struct {
		header string
		want   Column
		ok     bool
	}{
		{"GraphName", ColGraphName, true},
		{"graph_name", ColGraphName, true},
		{"node_name", ColNode, true},
		{"NODE", ColNode, true},
		{"instructions", ColPrompt, true},
		{"on_failure", ColFailureNext, true},
		{"On Success", ColSuccessNext, true},
		{"\ufeffGraphName", ColGraphName, true},
		{"whatever", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := LookupColumn(tt.header)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := writeCSV(t, canonicalHeader+"G,a,echo,,,,,,,,\n")
		require.Empty(t, Validate(path))
	})

	t.Run("unreadable file", func(t *testing.T) {
		problems := Validate(filepath.Join(t.TempDir(), "absent.csv"))
		require.Len(t, problems, 1)
		require.Contains(t, problems[0], "cannot read")
	})

	t.Run("empty file", func(t *testing.T) {
		problems := Validate(writeCSV(t, ""))
		require.Len(t, problems, 1)
		require.Contains(t, problems[0], "empty")
	})

	t.Run("missing both required columns", func(t *testing.T) {
		problems := Validate(writeCSV(t, "AgentType\necho\n"))
		require.Len(t, problems, 2)
		require.Contains(t, problems[0], "GraphName")
		require.Contains(t, problems[1], "Node")
	})

	t.Run("row problems are all reported", func(t *testing.T) {
		path := writeCSV(t, canonicalHeader+
			",a,echo,,,,,,,,\n"+
			"G,,echo,,,,,,,,\n"+
			"G,mixed,echo,,,,,,b,c,\n")
		problems := Validate(path)
		require.Len(t, problems, 3)
		require.Contains(t, problems[0], "line 2")
		require.Contains(t, problems[1], "line 3")
		require.Contains(t, problems[2], `"mixed"`)
	})
}

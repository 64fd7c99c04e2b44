package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/zjrosen/agentmap/internal/compiler"
	"github.com/zjrosen/agentmap/internal/presentation"
)

var (
	compileForce       bool
	compileEmbedSource bool
)

// errCompileFailed makes the process exit non-zero after results are printed.
var errCompileFailed = errors.New("compilation failed")

var compileCmd = &cobra.Command{
	Use:   "compile <graph>",
	Short: "Compile one graph into a bundle",
	Long: `Compile one graph from the workflow CSV into a bundle artifact.

The bundle is reused when the CSV content hash matches the stored one.
Use --force to rebuild regardless.

Examples:
  agentmap compile Onboarding --csv workflows/main.csv
  agentmap compile Onboarding --force --embed-source`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(rt *runtime) error {
			res := rt.compiler.CompileGraph(cmd.Context(), args[0], compileOptions())
			rt.prune(cmd.Context(), []*compiler.Result{res})

			if err := formatter(cmd.OutOrStdout()).FormatResults([]presentation.ResultDTO{presentation.FromResult(res)}); err != nil {
				return err
			}
			if !res.Success {
				return errCompileFailed
			}
			return nil
		})
	},
}

var compileAllCmd = &cobra.Command{
	Use:   "compile-all",
	Short: "Compile every graph in the workflow CSV",
	Long: `Compile every graph in the workflow CSV independently.

A failing graph never stops the others. The command exits non-zero when
any graph failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(rt *runtime) error {
			results := rt.compiler.CompileAllGraphs(cmd.Context(), compileOptions())
			rt.prune(cmd.Context(), results)

			if err := formatter(cmd.OutOrStdout()).FormatResults(presentation.FromResults(results)); err != nil {
				return err
			}
			for _, r := range results {
				if !r.Success {
					return errCompileFailed
				}
			}
			return nil
		})
	},
}

func compileOptions() compiler.Options {
	return compiler.Options{
		Force:       compileForce,
		EmbedSource: compileEmbedSource || cfg.Compiler.EmbedSource,
	}
}

func init() {
	for _, c := range []*cobra.Command{compileCmd, compileAllCmd} {
		c.Flags().BoolVarP(&compileForce, "force", "f", false, "rebuild even when the bundle is current")
		c.Flags().BoolVar(&compileEmbedSource, "embed-source", false, "store a copy of the CSV next to the bundle")
		rootCmd.AddCommand(c)
	}
}

package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/zjrosen/agentmap/internal/dsl"
	"github.com/zjrosen/agentmap/internal/graph"
	"github.com/zjrosen/agentmap/internal/presentation"
)

var errInvalidCSV = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate [csv]",
	Short: "Report every problem in a workflow CSV",
	Long: `Check a workflow CSV for missing columns and rows, then build each graph
to surface edge problems. All problems are listed at once.

The path defaults to --csv or csv_path from the config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.CSVPath
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return errors.New("no CSV path given")
		}

		problems := validateFile(path)
		out := presentation.ValidationDTO{Path: path, Valid: len(problems) == 0, Problems: problems}
		if err := formatter(cmd.OutOrStdout()).FormatValidation(out); err != nil {
			return err
		}
		if !out.Valid {
			return errInvalidCSV
		}
		return nil
	},
}

// validateFile runs the DSL checks, then the graph checks when the DSL is
// sound enough to build.
func validateFile(path string) []string {
	problems := dsl.Validate(path)
	if len(problems) > 0 {
		return problems
	}

	_, err := graph.BuildAllFromCSV(path)
	if err == nil {
		return []string{}
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			problems = append(problems, e.Error())
		}
		return problems
	}
	return []string{err.Error()}
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/agentmap/internal/presentation"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <agent-type>...",
	Short: "Show the services and protocols a set of agent types needs",
	Long: `Resolve the transitive service and protocol requirements of agent types
against the loaded declarations. Undeclared agent types are listed as
missing rather than failing the command.

Examples:
  agentmap resolve llm storage
  agentmap resolve llm | jq '.services'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(rt *runtime) error {
			req := rt.registry.ResolveAgentRequirements(args...)
			return formatter(cmd.OutOrStdout()).FormatRequirements(presentation.FromRequirements(args, req))
		})
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

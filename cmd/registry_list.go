package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/agentmap/internal/declaration"
	"github.com/zjrosen/agentmap/internal/presentation"
)

var (
	regProtocols    []string
	regCapabilities []string
)

var registryListCmd = &cobra.Command{
	Use:   "registry:list",
	Short: "List all declared agents and services",
	Long: `List every agent and service declaration loaded from the configured
sources, plus the protocol to provider map.

Use --protocol to keep only services implementing any of the given protocols.
Use --capability to keep only agents with all of the given capabilities.

Examples:
  # List everything
  agentmap registry:list

  # Services implementing a protocol
  agentmap registry:list --protocol LLMCapable

  # Agents that have every listed capability (AND logic)
  agentmap registry:list -k streaming -k tools

  # Parse specific fields with jq
  agentmap registry:list | jq '.agents[].type'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(rt *runtime) error {
			dto := presentation.FromRegistry(rt.registry)

			if len(regProtocols) > 0 {
				matching := rt.registry.ServicesByProtocols(regProtocols...)
				dto.Services = make([]presentation.ServiceDTO, 0, len(matching))
				for _, s := range matching {
					dto.Services = append(dto.Services, presentation.FromServiceDeclaration(s))
				}
			}
			if len(regCapabilities) > 0 {
				dto.Agents = filterByCapabilities(rt.registry.AgentTypes(), rt.registry.AgentDeclaration, regCapabilities)
			}

			return formatter(cmd.OutOrStdout()).FormatRegistry(dto)
		})
	},
}

func init() {
	registryListCmd.Flags().StringArrayVarP(&regProtocols, "protocol", "p", nil, "Filter services by implemented protocol (repeatable, OR logic)")
	registryListCmd.Flags().StringArrayVarP(&regCapabilities, "capability", "k", nil, "Filter agents by capability (repeatable, AND logic)")
	rootCmd.AddCommand(registryListCmd)
}

// filterByCapabilities keeps agents having every capability (AND logic)
func filterByCapabilities(
	types []string,
	lookup func(string) (declaration.AgentDeclaration, bool),
	capabilities []string,
) []presentation.AgentDTO {
	out := []presentation.AgentDTO{}
	for _, t := range types {
		d, ok := lookup(t)
		if !ok {
			continue
		}
		hasAll := true
		for _, c := range capabilities {
			if !d.HasCapability(c) {
				hasAll = false
				break
			}
		}
		if hasAll {
			out = append(out, presentation.FromAgentDeclaration(d))
		}
	}
	return out
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/resolve-agent/internal/observability"
)

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models served by the configured endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			client, err := newClient(cfg, observability.GetLogger(), nil)
			if err != nil {
				return err
			}
			models, err := client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				marker := " "
				if m == cfg.LLM().Model {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, m)
			}
			return nil
		},
	}
	cmd.Flags().String("endpoint", "", "override llm.endpoint")
	cmd.Flags().String("model", "", "override llm.model")
	return cmd
}

func newPingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send a test prompt to the configured model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			client, err := newClient(cfg, observability.GetLogger(), nil)
			if err != nil {
				return err
			}
			reply, err := client.TestConnection(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s replied: %s\n", client.Model(), reply)
			return nil
		},
	}
	cmd.Flags().String("endpoint", "", "override llm.endpoint")
	cmd.Flags().String("model", "", "override llm.model")
	return cmd
}

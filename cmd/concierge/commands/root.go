// Package commands defines the Cobra CLI commands of the concierge binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/concierge-go/internal/audit"
	"github.com/54b3r/concierge-go/internal/config"
	"github.com/54b3r/concierge-go/internal/logging"
)

// configPath holds the --config flag value.
var configPath string

// NewRootCmd constructs the root command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "concierge",
		Short: "Shopping concierge over a multi-million item catalog",
		Long: `concierge finds products for a shopping intent.

A search runs hybrid dense/sparse and multimodal lookups for a set of
phrases, then deduplicates, judges relevance from product photos and
reranks. Deep research asks a chat model for five item categories and
searches them concurrently, closing with a "Concierge's Pick" of the
best items across categories.

Settings come from environment variables or a YAML file
(~/.concierge/config.yaml); environment variables win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.concierge/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewSearchCmd(),
		NewResearchCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)
	return root
}

// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configFlag = "config"

// NewRootCommand enables all children commands to read flags from CLI flags, environment
// variables prefixed with EPHEDRA, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("EPHEDRA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/ephedra", "$HOME/.ephedra", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	cmd := &cobra.Command{
		Use:   "ephedra",
		Short: "A federated SPARQL query engine",
		Long: `A federated SPARQL query engine.

Ephedra answers SPARQL queries over several member repositories as if they were one.
Members are local stores, SQL backed triple stores or remote SPARQL endpoints, and are
addressed with SERVICE clauses naming their reference IRI.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if file, _ := cmd.Flags().GetString(configFlag); file != "" {
				viper.SetConfigFile(file)
			}
		},
	}
	cmd.PersistentFlags().String(configFlag, "", "the config file to read instead of searching the default paths")

	return cmd
}

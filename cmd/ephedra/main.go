package main

import (
	"os"

	"github.com/ephedra/ephedra/cmd"
	"github.com/ephedra/ephedra/cmd/migrate"
	"github.com/ephedra/ephedra/cmd/query"
	"github.com/ephedra/ephedra/cmd/serve"
	"github.com/ephedra/ephedra/cmd/validate"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	rootCmd.AddCommand(serve.NewServeCommand())
	rootCmd.AddCommand(query.NewQueryCommand())
	rootCmd.AddCommand(validate.NewValidateCommand())
	rootCmd.AddCommand(migrate.NewMigrateCommand())
	rootCmd.AddCommand(cmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

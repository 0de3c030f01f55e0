// Package query contains the command that runs one SPARQL query against the federation.
package query

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ephedra/ephedra/cmd/util"
	"github.com/ephedra/ephedra/pkg/logger"
)

const (
	queryFileFlag = "query-file"
	formatFlag    = "format"
)

func NewQueryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [QUERY]",
		Short: "Run a SPARQL query against the federation",
		Long: `Run a SPARQL query against the configured federation and print its results.

The query is read from the argument, or from --query-file ('-' reads standard input).`,
		RunE: runQuery,
		Args: cobra.MaximumNArgs(1),
	}

	flags := cmd.Flags()
	flags.StringP(queryFileFlag, "f", "", "read the query from this file")
	flags.String(formatFlag, formatText, fmt.Sprintf("the output format, one of %v", formats))
	util.AddLogFlags(flags)
	util.AddFederationFlags(flags)

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(*cobra.Command, []string) {
		util.MustBindPFlag(formatFlag, flags.Lookup(formatFlag))
		util.MustBindEnv(formatFlag, "EPHEDRA_FORMAT")
		util.BindLogFlags(flags)
		util.BindFederationFlags(flags)
	}
}

func readQuery(cmd *cobra.Command, args []string) (string, error) {
	file, _ := cmd.Flags().GetString(queryFileFlag)
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("pass the query either as an argument or with --%s", queryFileFlag)
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read query file: %w", err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("missing query")
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	text, err := readQuery(cmd, args)
	if err != nil {
		return err
	}
	format := viper.GetString(formatFlag)
	if !validFormat(format) {
		return fmt.Errorf("unknown output format %q, must be one of %v", format, formats)
	}

	cfg, err := util.ReadConfig()
	if err != nil {
		return err
	}
	l, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level, cfg.Log.TimestampFormat)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	f, err := util.OpenFederation(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer f.Close(ctx)

	conn, err := f.OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.Query(ctx, text)
	if err != nil {
		return err
	}
	defer res.Close()

	return write(ctx, cmd.OutOrStdout(), format, res)
}

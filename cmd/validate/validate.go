// Package validate contains the command that checks a federation configuration.
package validate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ephedra/ephedra/cmd/util"
	"github.com/ephedra/ephedra/pkg/config"
	"github.com/ephedra/ephedra/pkg/logger"
)

const connectFlag = "connect"

func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Validate the configuration and print the federation members as JSON.

With --connect every member repository is opened and connected to as well.`,
		RunE: runValidate,
		Args: cobra.NoArgs,
	}

	flags := cmd.Flags()
	flags.Bool(connectFlag, false, "open and connect to every member")
	util.AddFederationFlags(flags)

	// NOTE: if you add a new flag here, update the function below, too

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(*cobra.Command, []string) {
		util.MustBindPFlag(connectFlag, flags.Lookup(connectFlag))
		util.MustBindEnv(connectFlag, "EPHEDRA_CONNECT")
		util.BindFederationFlags(flags)
	}
}

type validationResult struct {
	MemberID     string `json:"member_id"`
	ReferenceIRI string `json:"reference_iri,omitempty"`
	Engine       string `json:"engine"`
	Error        string `json:"error,omitempty"`
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := util.ReadConfig()
	if err != nil {
		return err
	}

	engines := make(map[string]string, len(cfg.Repositories))
	for _, def := range cfg.Repositories {
		engines[def.ID] = def.Engine
	}

	results := []validationResult{{MemberID: cfg.Federation.DefaultMember, Engine: engines[cfg.Federation.DefaultMember]}}
	for _, m := range cfg.Federation.Members {
		results = append(results, validationResult{MemberID: m.Delegate, ReferenceIRI: m.ReferenceIRI, Engine: engines[m.Delegate]})
	}

	var failed bool
	if viper.GetBool(connectFlag) {
		failed = connect(cmd.Context(), cfg, results)
	}

	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(b)); err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("some members could not be reached")
	}
	return nil
}

// connect asks every member a trivial query so that each failure is reported.
func connect(ctx context.Context, cfg *config.Config, results []validationResult) bool {
	f, err := util.OpenFederation(ctx, cfg, logger.NewNoopLogger())
	if err != nil {
		for i := range results {
			results[i].Error = err.Error()
		}
		return true
	}
	defer f.Close(ctx)

	var failed bool
	for i, r := range results {
		if err := ping(ctx, f, r.MemberID); err != nil {
			results[i].Error = err.Error()
			failed = true
		}
	}
	return failed
}

func ping(ctx context.Context, f *util.Federation, id string) error {
	repo, err := f.Manager.Repository(ctx, id)
	if err != nil {
		return err
	}
	conn, err := repo.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	res, err := conn.Query(ctx, "ASK {}")
	if err != nil {
		return err
	}
	res.Close()
	return nil
}

package migrate

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ephedra/ephedra/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, _ []string) {
		util.MustBindPFlag(repositoryFlag, flags.Lookup(repositoryFlag))
		util.MustBindEnv(repositoryFlag, "EPHEDRA_REPOSITORY")

		util.MustBindPFlag(datastoreEngineFlag, flags.Lookup(datastoreEngineFlag))
		util.MustBindEnv(datastoreEngineFlag, "EPHEDRA_DATASTORE_ENGINE")

		util.MustBindPFlag(datastoreURIFlag, flags.Lookup(datastoreURIFlag))
		util.MustBindEnv(datastoreURIFlag, "EPHEDRA_DATASTORE_URI")

		util.MustBindPFlag(datastoreUsernameFlag, flags.Lookup(datastoreUsernameFlag))
		util.MustBindEnv(datastoreUsernameFlag, "EPHEDRA_DATASTORE_USERNAME")

		util.MustBindPFlag(datastorePasswordFlag, flags.Lookup(datastorePasswordFlag))
		util.MustBindEnv(datastorePasswordFlag, "EPHEDRA_DATASTORE_PASSWORD")

		util.MustBindPFlag(versionFlag, flags.Lookup(versionFlag))
		util.MustBindEnv(versionFlag, "EPHEDRA_VERSION")

		util.MustBindPFlag(timeoutFlag, flags.Lookup(timeoutFlag))
		util.MustBindEnv(timeoutFlag, "EPHEDRA_TIMEOUT")

		util.MustBindPFlag(verboseMigrationFlag, flags.Lookup(verboseMigrationFlag))
		util.MustBindEnv(verboseMigrationFlag, "EPHEDRA_VERBOSE")
	}
}

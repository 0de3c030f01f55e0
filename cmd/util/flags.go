package util

import (
	"github.com/spf13/pflag"

	"github.com/ephedra/ephedra/pkg/config"
)

// AddLogFlags defines the logging flags on flags.
func AddLogFlags(flags *pflag.FlagSet) {
	defaultConfig := config.DefaultConfig()

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")
	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")
	flags.String("log-timestamp-format", defaultConfig.Log.TimestampFormat, "the timestamp format to use for log messages")
}

// BindLogFlags binds the flags of AddLogFlags to their config keys.
func BindLogFlags(flags *pflag.FlagSet) {
	MustBindPFlag("log.format", flags.Lookup("log-format"))
	MustBindEnv("log.format", "EPHEDRA_LOG_FORMAT")

	MustBindPFlag("log.level", flags.Lookup("log-level"))
	MustBindEnv("log.level", "EPHEDRA_LOG_LEVEL")

	MustBindPFlag("log.timestampFormat", flags.Lookup("log-timestamp-format"))
	MustBindEnv("log.timestampFormat", "EPHEDRA_LOG_TIMESTAMP_FORMAT")
}

// AddFederationFlags defines the flags that tune query evaluation on flags.
func AddFederationFlags(flags *pflag.FlagSet) {
	defaultConfig := config.DefaultConfig().Federation

	flags.String("federation-default-member", defaultConfig.DefaultMember, "the id of the repository holding the local data")
	flags.Bool("federation-async-parallel-join", defaultConfig.Joins.AsyncParallel, "enable/disable the async parallel join")
	flags.Bool("federation-bound-join", defaultConfig.Joins.Bound, "enable/disable the bound join")
	flags.Bool("federation-competing-join", defaultConfig.Joins.Competing, "enable/disable the competing join")
	flags.Bool("federation-query-hints", defaultConfig.EnableQueryHints, "enable/disable query hints")
	flags.Duration("federation-max-execution-time", defaultConfig.MaxExecutionTime, "the maximum time a query may run (0 means unbounded)")
	flags.Int("federation-bound-join-batch-size", defaultConfig.BoundJoinBatchSize, "the number of bindings sent to a member per bound join request")
	flags.Int("federation-max-concurrent-probes", defaultConfig.MaxConcurrentProbes, "the maximum number of concurrent probes of an async parallel join")
	flags.Int("federation-max-competing-plans", defaultConfig.MaxCompetingPlans, "the number of join orders a competing join races")
	flags.Int64("federation-query-cache-size", defaultConfig.QueryCacheSize, "the number of parsed queries to cache")
}

// BindFederationFlags binds the flags of AddFederationFlags to their config keys.
func BindFederationFlags(flags *pflag.FlagSet) {
	MustBindPFlag("federation.defaultMember", flags.Lookup("federation-default-member"))
	MustBindEnv("federation.defaultMember", "EPHEDRA_FEDERATION_DEFAULT_MEMBER", "EPHEDRA_FEDERATION_DEFAULTMEMBER")

	MustBindPFlag("federation.joins.asyncParallel", flags.Lookup("federation-async-parallel-join"))
	MustBindEnv("federation.joins.asyncParallel", "EPHEDRA_FEDERATION_ASYNC_PARALLEL_JOIN")

	MustBindPFlag("federation.joins.bound", flags.Lookup("federation-bound-join"))
	MustBindEnv("federation.joins.bound", "EPHEDRA_FEDERATION_BOUND_JOIN")

	MustBindPFlag("federation.joins.competing", flags.Lookup("federation-competing-join"))
	MustBindEnv("federation.joins.competing", "EPHEDRA_FEDERATION_COMPETING_JOIN")

	MustBindPFlag("federation.enableQueryHints", flags.Lookup("federation-query-hints"))
	MustBindEnv("federation.enableQueryHints", "EPHEDRA_FEDERATION_QUERY_HINTS")

	MustBindPFlag("federation.maxExecutionTime", flags.Lookup("federation-max-execution-time"))
	MustBindEnv("federation.maxExecutionTime", "EPHEDRA_FEDERATION_MAX_EXECUTION_TIME", "EPHEDRA_FEDERATION_MAXEXECUTIONTIME")

	MustBindPFlag("federation.boundJoinBatchSize", flags.Lookup("federation-bound-join-batch-size"))
	MustBindEnv("federation.boundJoinBatchSize", "EPHEDRA_FEDERATION_BOUND_JOIN_BATCH_SIZE")

	MustBindPFlag("federation.maxConcurrentProbes", flags.Lookup("federation-max-concurrent-probes"))
	MustBindEnv("federation.maxConcurrentProbes", "EPHEDRA_FEDERATION_MAX_CONCURRENT_PROBES")

	MustBindPFlag("federation.maxCompetingPlans", flags.Lookup("federation-max-competing-plans"))
	MustBindEnv("federation.maxCompetingPlans", "EPHEDRA_FEDERATION_MAX_COMPETING_PLANS")

	MustBindPFlag("federation.queryCacheSize", flags.Lookup("federation-query-cache-size"))
	MustBindEnv("federation.queryCacheSize", "EPHEDRA_FEDERATION_QUERY_CACHE_SIZE")
}

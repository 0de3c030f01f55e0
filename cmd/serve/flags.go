package serve

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ephedra/ephedra/cmd/util"
	"github.com/ephedra/ephedra/pkg/config"
)

func addRunFlags(flags *pflag.FlagSet) {
	defaultConfig := config.DefaultConfig()

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the SPARQL endpoint on")
	flags.Duration("http-upstream-timeout", defaultConfig.HTTP.UpstreamTimeout, "the maximum duration of one request (0 means unbounded)")
	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "specifies the CORS allowed origins")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")
	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")
	flags.Bool("datastore-metrics-enabled", defaultConfig.Metrics.EnableDatastoreMetrics, "enable/disable sql database pool metrics")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")
	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")
	flags.Bool("trace-otlp-tls-enabled", defaultConfig.Trace.OTLP.TLS.Enabled, "use TLS connection for trace collector")
	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")
	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")

	util.AddLogFlags(flags)
	util.AddFederationFlags(flags)
}

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(*cobra.Command, []string) {
		util.MustBindPFlag("http.addr", flags.Lookup("http-addr"))
		util.MustBindEnv("http.addr", "EPHEDRA_HTTP_ADDR")

		util.MustBindPFlag("http.upstreamTimeout", flags.Lookup("http-upstream-timeout"))
		util.MustBindEnv("http.upstreamTimeout", "EPHEDRA_HTTP_UPSTREAM_TIMEOUT", "EPHEDRA_HTTP_UPSTREAMTIMEOUT")

		util.MustBindPFlag("http.corsAllowedOrigins", flags.Lookup("http-cors-allowed-origins"))
		util.MustBindEnv("http.corsAllowedOrigins", "EPHEDRA_HTTP_CORS_ALLOWED_ORIGINS", "EPHEDRA_HTTP_CORSALLOWEDORIGINS")

		util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
		util.MustBindEnv("metrics.enabled", "EPHEDRA_METRICS_ENABLED")

		util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
		util.MustBindEnv("metrics.addr", "EPHEDRA_METRICS_ADDR")

		util.MustBindPFlag("metrics.enableDatastoreMetrics", flags.Lookup("datastore-metrics-enabled"))
		util.MustBindEnv("metrics.enableDatastoreMetrics", "EPHEDRA_DATASTORE_METRICS_ENABLED")

		util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
		util.MustBindEnv("trace.enabled", "EPHEDRA_TRACE_ENABLED")

		util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
		util.MustBindEnv("trace.otlp.endpoint", "EPHEDRA_TRACE_OTLP_ENDPOINT")

		util.MustBindPFlag("trace.otlp.tls.enabled", flags.Lookup("trace-otlp-tls-enabled"))
		util.MustBindEnv("trace.otlp.tls.enabled", "EPHEDRA_TRACE_OTLP_TLS_ENABLED")

		util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
		util.MustBindEnv("trace.sampleRatio", "EPHEDRA_TRACE_SAMPLE_RATIO")

		util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
		util.MustBindEnv("trace.serviceName", "EPHEDRA_TRACE_SERVICE_NAME")

		util.BindLogFlags(flags)
		util.BindFederationFlags(flags)
	}
}

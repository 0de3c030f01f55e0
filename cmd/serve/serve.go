// Package serve contains the command that serves the federation over the SPARQL protocol.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/ephedra/ephedra/cmd/util"
	"github.com/ephedra/ephedra/internal/build"
	"github.com/ephedra/ephedra/pkg/config"
	"github.com/ephedra/ephedra/pkg/health"
	"github.com/ephedra/ephedra/pkg/logger"
	"github.com/ephedra/ephedra/pkg/middleware"
	"github.com/ephedra/ephedra/pkg/storage/sparqlhttp"
	"github.com/ephedra/ephedra/pkg/telemetry"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the federation over the SPARQL protocol",
		Long: `Serve the federation over the SPARQL 1.1 protocol on '/sparql'.

The server also answers '/healthz' and '/members', and exports prometheus metrics on a
separate address. A SIGHUP reopens the configured repositories.`,
		RunE: serve,
		Args: cobra.NoArgs,
	}

	flags := cmd.Flags()
	addRunFlags(flags)

	// NOTE: if you add a new flag here, update the function in flags.go, too

	cmd.PreRun = bindRunFlagsFunc(flags)

	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := util.ReadConfig()
	if err != nil {
		return err
	}

	l, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level, cfg.Log.TimestampFormat)
	if err != nil {
		return err
	}
	serverCtx := &ServerContext{Logger: l, Reload: util.ReadConfig}
	return serverCtx.Run(cmd.Context(), cfg)
}

// ServerContext runs the endpoint of one process.
type ServerContext struct {
	Logger logger.Logger
	// Reload returns the configuration to reopen the repositories with on SIGHUP.
	Reload func() (*config.Config, error)
	// started, when set, receives the bound addresses once the server listens.
	started chan<- net.Addr
}

// telemetryConfig returns the function that must be called to shut down tracing.
// The context provided to this function should be error-free, or shut down will be incomplete.
func (s *ServerContext) telemetryConfig(cfg *config.Config) func() error {
	if cfg.Trace.Enabled {
		s.Logger.Info(fmt.Sprintf("🕵 tracing enabled: sampling ratio is %v and sending traces to '%s', tls: %t", cfg.Trace.SampleRatio, cfg.Trace.OTLP.Endpoint, cfg.Trace.OTLP.TLS.Enabled))

		options := []telemetry.TracerOption{
			telemetry.WithOTLPEndpoint(
				cfg.Trace.OTLP.Endpoint,
			),
			telemetry.WithAttributes(
				semconv.ServiceNameKey.String(cfg.Trace.ServiceName),
				semconv.ServiceVersionKey.String(build.Version),
			),
			telemetry.WithSamplingRatio(cfg.Trace.SampleRatio),
		}

		if !cfg.Trace.OTLP.TLS.Enabled {
			options = append(options, telemetry.WithOTLPInsecure())
		}

		tp := telemetry.MustNewTracerProvider(options...)
		return func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
			defer cancel()
			return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
		}
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
	return func() error {
		return nil
	}
}

type memberResponse struct {
	ID           string `json:"id"`
	ReferenceIRI string `json:"referenceIRI,omitempty"`
	Default      bool   `json:"default,omitempty"`
}

// NewHandler returns the routes of the endpoint over f.
func NewHandler(f *util.Federation, cfg *config.Config, l logger.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/sparql", sparqlhttp.NewHandler(f.Repository(), sparqlhttp.WithHandlerLogger(l)))
	mux.Handle("/healthz", &health.Checker{
		TargetServiceName: "federation",
		TargetService: health.TargetFunc(func(ctx context.Context) (bool, error) {
			conn, err := f.OpenConnection(ctx)
			if err != nil {
				return false, err
			}
			return true, conn.Close()
		}),
	})
	mux.HandleFunc("/members", func(w http.ResponseWriter, _ *http.Request) {
		members := f.Members()
		resp := make([]memberResponse, 0, len(members))
		for _, m := range members {
			resp = append(resp, memberResponse{ID: m.ID, ReferenceIRI: m.ReferenceIRI, Default: m.ID == f.Config().DefaultMember})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	handler := middleware.Chain(mux,
		middleware.WithPanicRecovery(l),
		middleware.WithRequestID(),
		middleware.WithLogging(l),
		middleware.WithTimeout(cfg.HTTP.UpstreamTimeout),
	)
	handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.CORSAllowedOrigins,
		AllowCredentials: true,
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodHead},
	}).Handler(handler)

	if cfg.Trace.Enabled {
		handler = otelhttp.NewHandler(handler, "sparql")
	}
	return handler
}

func (s *ServerContext) serveHTTP(name string, srv *http.Server) (net.Addr, error) {
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		s.Logger.Info(fmt.Sprintf("🚀 starting %s server on '%s'...", name, listener.Addr()))
		if err := srv.Serve(listener); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Fatal(name+" server closed with unexpected error", zap.Error(err))
			}
		}
		s.Logger.Info(name + " server shut down.")
	}()
	return listener.Addr(), nil
}

// watchReload reopens the repositories on every SIGHUP until ctx is done.
func (s *ServerContext) watchReload(ctx context.Context, f *util.Federation) func() {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
			}
			if s.Reload == nil {
				continue
			}
			cfg, err := s.Reload()
			if err != nil {
				s.Logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			if err := f.Manager.Reinitialize(ctx, cfg.Repositories); err != nil {
				s.Logger.Error("failed to reopen repositories", zap.Error(err))
				continue
			}
			s.Logger.Info("repositories reopened", zap.Strings("repositories", f.Manager.IDs()))
		}
	}()

	return func() {
		signal.Stop(hup)
		<-done
	}
}

// Run serves until ctx is done or the process is interrupted.
func (s *ServerContext) Run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProviderCloser := s.telemetryConfig(cfg)

	f, err := util.OpenFederation(ctx, cfg, s.Logger)
	if err != nil {
		return err
	}
	stopReload := s.watchReload(ctx, f)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 30 * time.Second}
		if _, err := s.serveHTTP("prometheus metrics", metricsServer); err != nil {
			stop()
			stopReload()
			f.Close(context.Background())
			return fmt.Errorf("failed to start prometheus metrics server: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           NewHandler(f, cfg, s.Logger),
		ReadHeaderTimeout: 30 * time.Second,
	}
	addr, err := s.serveHTTP("HTTP", httpServer)
	if err != nil {
		stop()
		stopReload()
		if metricsServer != nil {
			_ = metricsServer.Close()
		}
		f.Close(context.Background())
		return err
	}
	if s.started != nil {
		s.started <- addr
	}

	// wait for cancellation signal
	<-ctx.Done()
	s.Logger.Info("attempting to shutdown gracefully...")
	stopReload()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.Logger.Info("failed to shutdown the http server", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			s.Logger.Info("failed to shutdown the prometheus metrics server", zap.Error(err))
		}
	}

	f.Close(shutdownCtx)

	if err := tracerProviderCloser(); err != nil {
		s.Logger.Error("failed to shutdown tracing", zap.Error(err))
	}

	s.Logger.Info("server exited. goodbye 👋")

	return nil
}

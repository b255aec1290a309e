// Command focus runs the federated query worker: it long-polls a broker for
// tasks, compiles and executes them against a configured clinical data
// backend, obfuscates the resulting counts, and answers the broker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/samply/focus-go/internal/backend"
	"github.com/samply/focus-go/internal/backend/exporter"
	"github.com/samply/focus-go/internal/backend/fhir"
	"github.com/samply/focus-go/internal/backend/imagingsql"
	urlparamb "github.com/samply/focus-go/internal/backend/urlparam"
	"github.com/samply/focus-go/internal/banner"
	"github.com/samply/focus-go/internal/broker"
	"github.com/samply/focus-go/internal/catalog"
	"github.com/samply/focus-go/internal/config"
	"github.com/samply/focus-go/internal/httpclient"
	"github.com/samply/focus-go/internal/identity"
	"github.com/samply/focus-go/internal/logging"
	"github.com/samply/focus-go/internal/obfuscate"
	"github.com/samply/focus-go/internal/observability"
	"github.com/samply/focus-go/internal/reportcache"
	"github.com/samply/focus-go/internal/worker"
)

func main() {
	config.LoadDotEnv()

	var metricsAddr string
	cmd := &cobra.Command{
		Use: "focus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", envOr("METRICS_ADDR", ":9090"), "Prometheus /metrics listen address")
	f := config.RegisterFlags(cmd)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}

	cfg, err := f.Resolve()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	pretty := false
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		pretty = true
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, Pretty: pretty})

	self, err := identity.ParseAppIdentity(cfg.BeamAppIDLong)
	if err != nil {
		log.Error("invalid self identity", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, self, log, metricsAddr); err != nil {
		log.Error("focus-go exiting with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, self identity.AppIdentity, log logging.Logger, metricsAddr string) error {
	banner.Print(log, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, "focus-go", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
	}

	httpClient, err := httpclient.New(cfg.TLSCACertificatesDir)
	if err != nil {
		return err
	}

	brokerClient := broker.New(cfg.BeamProxyURL, self, cfg.APIKey, httpClient, log)
	if err := brokerClient.CheckHealth(ctx); err != nil {
		log.Warn("broker health check failed at startup, continuing anyway", "error", err)
	}

	adapter, adapterCleanup, err := buildAdapter(ctx, cfg, httpClient, log)
	if err != nil {
		return err
	}
	if adapterCleanup != nil {
		defer adapterCleanup()
	}
	if err := adapter.CheckAvailability(ctx); err != nil {
		log.Warn("backend availability check failed at startup, continuing anyway", "error", err)
	}

	obfuscateCfg := obfuscate.Config{
		Enabled:       cfg.Obfuscate,
		ObfuscateZero: cfg.ObfuscateZero,
		Mode:          obfuscate.Mode(cfg.ObfuscateMode),
		Sensitivities: obfuscate.Sensitivities{
			Patient:   cfg.DeltaPatient,
			Specimen:  cfg.DeltaSpecimen,
			Diagnosis: cfg.DeltaDiagnosis,
		},
		Epsilon:      cfg.Epsilon,
		RoundingStep: cfg.RoundingStep,
	}
	obfuscateCache := obfuscate.NewCache(time.Now().UnixNano())

	reportCache := reportcache.New()
	if err := reportCache.LoadPreSeed(cfg.QueriesToCacheFilePath, log); err != nil {
		return err
	}

	pool := worker.New(
		brokerClient,
		adapter,
		catalog.DefaultRegistry(),
		self,
		cfg.EndpointType,
		cfg.EndpointURL,
		obfuscateCfg,
		obfuscateCache,
		reportCache,
		log,
	)

	log.Info("focus-go ready, entering poll loop")
	return pool.Run(ctx)
}

// buildAdapter selects the concrete backend.Adapter for cfg.EndpointType
// (spec.md §4.4). The returned cleanup closes any held resources (the
// imaging-SQL connection pool); it is nil when there is nothing to close.
func buildAdapter(ctx context.Context, cfg config.Config, httpClient *http.Client, log logging.Logger) (backend.Adapter, func(), error) {
	switch cfg.EndpointType {
	case config.EndpointBlaze:
		return fhir.New(cfg.EndpointURL, httpClient), nil, nil
	case config.EndpointOmop:
		adapter, err := imagingsql.Connect(ctx, cfg.EndpointURL, cfg.RetryCount, log)
		if err != nil {
			return nil, nil, err
		}
		return adapter, adapter.Close, nil
	case config.EndpointExporter:
		return exporter.New(cfg.EndpointURL, cfg.APIKey, httpClient), nil, nil
	case config.EndpointURLParam:
		return urlparamb.New(cfg.URLParamBearerToken, httpClient), nil, nil
	default:
		return nil, nil, &config.ErrMissingRequired{Flag: "endpoint-type"}
	}
}

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

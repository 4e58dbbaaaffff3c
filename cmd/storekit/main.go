// Command storekit drives the purchase manager against the sandbox service
// from a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xraph/storekit"
	audithook "github.com/xraph/storekit/audit_hook"
	"github.com/xraph/storekit/config"
	"github.com/xraph/storekit/extension"
	"github.com/xraph/storekit/observability"
	"github.com/xraph/storekit/sandbox"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const metricsShutdownTimeout = 5 * time.Second

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	logFormat   string
	logLevel    string
	metricsAddr string
	storeDriver string
	storeDSN    string
	audit       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "storekit",
		Short:         "In-app purchase manager",
		Long:          `storekit buys, restores and tracks in-app purchases against the sandbox store service.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to storekit.yaml")
	pf.StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&flags.storeDriver, "store", "", "override the store driver (memory, sqlite, postgres, mongo)")
	pf.StringVar(&flags.storeDSN, "dsn", "", "override the store address")
	pf.BoolVar(&flags.audit, "audit", false, "write audit events as JSON log lines")

	root.AddCommand(
		newDemoCmd(flags),
		newProductsCmd(flags),
		newBuyCmd(flags),
		newRestoreCmd(flags),
		newStatusCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "storekit %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", BuildTime)
			}
		},
	}
}

// newLogger builds the process logger from the format and level flags.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// session is a started manager bound to the sandbox service.
type session struct {
	manager *storekit.Manager
	sandbox *sandbox.Service
	catalog []sandbox.Item
	logger  *slog.Logger
	stop    func()
}

// openSession loads configuration, opens the store and starts the manager.
// Presentation goes to out; logs go to stderr.
func openSession(ctx context.Context, flags *globalFlags, out io.Writer) (*session, error) {
	logger, err := newLogger(os.Stderr, flags.logFormat, flags.logLevel)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.storeDriver != "" {
		cfg.Store.Driver = flags.storeDriver
	}
	if flags.storeDSN != "" {
		cfg.Store.DSN = flags.storeDSN
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Environment != config.EnvSandbox {
		return nil, errors.New("the live environment needs a platform binding; the CLI only drives the sandbox")
	}

	items, err := cfg.Sandbox.Items()
	if err != nil {
		return nil, err
	}
	svc := sandbox.New(items, append(cfg.Sandbox.Options(), sandbox.WithLogger(logger))...)

	kv, err := extension.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	opts := []storekit.Option{
		storekit.WithLogger(logger),
		storekit.WithNamespace(cfg.Namespace),
		storekit.WithStrictInvariants(cfg.StrictInvariants),
		storekit.WithPlugin(newPresenter(out)),
	}
	if cfg.DispatchTimeout > 0 {
		opts = append(opts, storekit.WithDispatchTimeout(cfg.DispatchTimeout))
	}
	if flags.audit {
		auditLog := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		opts = append(opts, storekit.WithPlugin(audithook.New(auditLogRecorder(auditLog), audithook.WithLogger(logger))))
	}

	stopMetrics := func() {}
	if flags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, storekit.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))))
		stopMetrics = startMetricsServer(logger, flags.metricsAddr, reg)
	}

	m := storekit.New(svc, kv, opts...)
	if err := m.Start(ctx); err != nil {
		stopMetrics()
		_ = kv.Close()
		return nil, err
	}

	return &session{
		manager: m,
		sandbox: svc,
		catalog: items,
		logger:  logger,
		stop: func() {
			if err := m.Stop(); err != nil {
				logger.Warn("failed to stop manager", "error", err)
			}
			svc.Close()
			stopMetrics()
		},
	}, nil
}

// auditLogRecorder writes audit events through the logger.
func auditLogRecorder(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(_ context.Context, ev *audithook.AuditEvent) error {
		logger.Info("audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
			"metadata", ev.Metadata,
		)
		return nil
	})
}

// startMetricsServer serves /metrics until the returned func is called.
func startMetricsServer(logger *slog.Logger, addr string, gatherer prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped unexpectedly", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("failed to shut down metrics server cleanly", "error", err)
		}
	}
}

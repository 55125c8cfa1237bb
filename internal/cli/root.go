package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/robust-autonomy-stack/internal/bench"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/config"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/risk"
	"github.com/danielpatrickdp/robust-autonomy-stack/internal/runlog"
)

// #region app

// app carries the global flags and the process logger shared by every command.
type app struct {
	env      config.Env
	logLevel string
	logJSON  bool
	logger   *slog.Logger
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the rastack command tree.
func NewRootCommand() *cobra.Command {
	a := &app{env: config.LoadEnv()}

	root := &cobra.Command{
		Use:   "rastack",
		Short: "Risk-aware supervisory control loop: run, benchmark and replay driving scenarios",
		Long: `rastack drives an ego vehicle through a scenario one tick at a time:
perturb, perceive, assess risk, supervise, plan, control, step.

Every run is written to <output>/<run_id>/run.jsonl and indexed in SQLite.
Replay any run against a fresh simulator with:
  rastack replay <run_id>`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.BoolVar(&a.logJSON, "log-json", false, "log JSON lines instead of coloured text")
	pf.StringVar(&a.env.OutputDir, "output", a.env.OutputDir, "base directory for run outputs (RAS_OUTPUT_DIR)")
	pf.StringVar(&a.env.DBPath, "db", a.env.DBPath, "SQLite run index (RAS_DB, default <output>/runs.db)")
	pf.StringVar(&a.env.EstimatorAddr, "estimator-addr", a.env.EstimatorAddr, "gRPC risk model address; empty uses the heuristic (RAS_ESTIMATOR_ADDR)")
	pf.StringVar(&a.env.MetricsAddr, "metrics-addr", a.env.MetricsAddr, "serve Prometheus /metrics on this address (RAS_METRICS_ADDR)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newBenchmarkCmd(a))
	root.AddCommand(newWeakestCmd(a))
	root.AddCommand(newReplayCmd(a))
	root.AddCommand(newInspectCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(newValidateCmd(a))
	root.AddCommand(newServeRiskModelCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	logger, err := newLogger(cmd.ErrOrStderr(), a.logLevel, a.logJSON)
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)

	if !cmd.Flags().Changed("db") && os.Getenv("RAS_DB") == "" {
		a.env.DBPath = filepath.Join(a.env.OutputDir, "runs.db")
	}
	if a.env.MetricsAddr != "" {
		go func() {
			if err := serveMetrics(cmd.Context(), a.env.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}
	return nil
}

// #endregion app

// #region logging

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	}
	return slog.New(tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.TimeOnly})), nil
}

// #endregion logging

// #region metrics

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}()

	logger.Info("metrics server started", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// #endregion metrics

// #region shared

func (a *app) openStore() (*runlog.Store, error) {
	if dir := filepath.Dir(a.env.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := runlog.NewStore(a.env.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open run index %s: %w", a.env.DBPath, err)
	}
	return store, nil
}

// estimatorFactory selects the heuristic estimator, or the remote model when an address is set.
func (a *app) estimatorFactory() (bench.EstimatorFactory, string) {
	addr := a.env.EstimatorAddr
	if addr == "" {
		return bench.HeuristicFactory(risk.DefaultHeuristicConfig()), "heuristic"
	}
	return func() (risk.Estimator, error) {
		return risk.NewRemoteEstimator(addr)
	}, "remote:" + addr
}

func loadParams(path string) (config.StackParams, error) {
	if path == "" {
		return config.DefaultStackParams(), nil
	}
	return config.LoadStackParams(path)
}

// #endregion shared

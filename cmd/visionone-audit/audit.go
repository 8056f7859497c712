package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tmv1-tools/visionone-audit/internal/audit"
	"github.com/tmv1-tools/visionone-audit/internal/config"
	"github.com/tmv1-tools/visionone-audit/internal/console"
	"github.com/tmv1-tools/visionone-audit/internal/logging"
	"github.com/tmv1-tools/visionone-audit/internal/metrics"
	"github.com/tmv1-tools/visionone-audit/internal/visionone"
)

var (
	flagToken       string
	flagScanMode    string
	flagWorkers     int
	flagOutput      string
	flagMetricsAddr string
)

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("scan-mode") {
		cfg.ScanMode = strings.ToLower(strings.TrimSpace(flagScanMode))
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = flagWorkers
	}
	if cmd.Flags().Changed("output") {
		cfg.OutputFile = flagOutput
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = flagMetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Token = strings.TrimSpace(flagToken)
	if cfg.Token == "" {
		return errors.New("--token is required")
	}

	runID := uuid.NewString()

	logCfg, err := logging.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	slog.SetDefault(logging.NewLogger(logCfg, os.Stderr, runID))

	diag, err := logging.OpenDiagnostics(cfg.DiagFile, runID)
	if err != nil {
		return err
	}
	defer diag.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if srv, errCh := metrics.StartServer(ctx, cfg.MetricsAddr); srv != nil {
		go func() {
			if serveErr := <-errCh; serveErr != nil {
				slog.Warn("metrics listener failed", "error", serveErr)
			}
		}()
	}

	client, err := visionone.New(cfg.BaseURL, cfg.Token, visionone.Options{
		HTTPClient:     &http.Client{Timeout: cfg.HTTPTimeout},
		PageTop:        cfg.PageTop,
		InterPageDelay: cfg.InterPageDelay,
		Logger:         diag.Logger,
	})
	if err != nil {
		return err
	}

	printer := console.New(cmd.OutOrStdout())
	runner := audit.NewRunner(cfg, client, printer, diag.Logger)

	if _, err := runner.Run(ctx); err != nil {
		// Operators get a pointer to the diagnostics file, never the raw
		// error; the exitError stays silent so stderr is not duplicated.
		printer.Errorf("Error fetching IAM accounts. Check %s", cfg.DiagFile)
		if closeErr := diag.Close(); closeErr != nil {
			slog.Warn("closing diagnostics failed", "error", closeErr)
		}
		if errors.Is(err, context.Canceled) {
			return &exitError{code: 130, err: err, silent: true}
		}
		return &exitError{code: 1, err: err, silent: true}
	}

	printer.Successf("Audit run completed successfully.")
	return nil
}

func init() {
	rootCmd.Flags().StringVarP(&flagToken, "token", "t", "", "Vision One API bearer token")
	rootCmd.Flags().StringVar(&flagScanMode, "scan-mode", config.ScanModeGlobal, "Audit-log scan strategy: global or per-user")
	rootCmd.Flags().IntVar(&flagWorkers, "workers", 1, "Concurrent per-user audit-log fetches (per-user mode only)")
	rootCmd.Flags().StringVar(&flagOutput, "output", "", "Report CSV path (default filtered_accounts_report.csv)")
	rootCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address during the run")
	_ = rootCmd.MarkFlagRequired("token")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"invoice-collector/internal/app"
	"invoice-collector/internal/config"
	"invoice-collector/internal/telemetry"
)

type flags struct {
	configPath     string
	debug          bool
	idempotencyKey string
	maxPages       int
	url            string
	outputDir      string
	tracking       string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:          "collector",
		Short:        "Collect paid and partially paid invoices",
		Long:         "collector walks the paginated invoices table, writes accepted invoices to CSV and records the run for replay and auditing.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd, f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "optional YAML config file")
	pf.BoolVar(&f.debug, "debug", false, "enable debug logging")
	pf.StringVar(&f.tracking, "tracking", "", "run tracking: cache, ledger or both")

	fl := root.Flags()
	fl.StringVar(&f.idempotencyKey, "idempotency-key", "", "replay the cached result for this key when still fresh")
	fl.IntVar(&f.maxPages, "max-pages", 0, "maximum number of table pages to walk")
	fl.StringVar(&f.url, "url", "", "invoices page URL")
	fl.StringVar(&f.outputDir, "output-dir", "", "directory for the CSV export")

	root.AddCommand(newSessionsCmd(f), newReplayCmd(f))
	return root
}

// loadConfig layers env, the optional file and explicit flags, in that order.
func loadConfig(cmd *cobra.Command, f *flags) (config.Config, *slog.Logger, error) {
	cfg := config.Load()
	if f.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(f.configPath, cfg); err != nil {
			return cfg, nil, err
		}
	}
	applyFlags(cmd.Flags(), f, &cfg)

	logger := app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat, f.debug)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func applyFlags(fs *pflag.FlagSet, f *flags, cfg *config.Config) {
	if fs.Changed("tracking") {
		cfg.Tracking = f.tracking
	}
	if fs.Changed("max-pages") {
		cfg.MaxPages = f.maxPages
	}
	if fs.Changed("url") {
		cfg.InvoicesURL = f.url
	}
	if fs.Changed("output-dir") {
		cfg.OutputDir = f.outputDir
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCollect(cmd *cobra.Command, f *flags) error {
	cfg, logger, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer a.Close()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("collector starting", "url", cfg.InvoicesURL, "tracking", cfg.Tracking, "max_pages", cfg.MaxPages)
	out, err := a.Collector.Run(ctx, f.idempotencyKey)
	if err != nil {
		logger.Error("collection failed", "error", err)
		return err
	}

	w := cmd.OutOrStdout()
	if out.Replayed {
		fmt.Fprintf(w, "Replayed cached result for key %q\n", f.idempotencyKey)
		return printJSON(w, out.Summary)
	}
	fmt.Fprintf(w, "Collected %d paid/partially paid invoices from %d pages\n",
		out.Summary.InvoicesCollected, out.Summary.PagesProcessed)
	return printExport(w, out.Summary.OutputPath)
}

func printExport(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(w, "%s\nCOLLECTED DATA (%s):\n%s\n%s%s\n", rule, path, rule, data, rule)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSessionsCmd(f *flags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, err := a.Ledger.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), sessions)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSTARTED\tSTATUS\tPAGES\tINVOICES\tERROR")
			for _, s := range sessions {
				msg := ""
				if s.Error != nil {
					msg = *s.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", s.SessionID,
					s.Timestamp.Format(time.RFC3339), s.Status, s.PagesProcessed, s.InvoicesCollected, msg)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newReplayCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <key>",
		Short: "Print the cached summary for an idempotency key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, ok := a.Cache.MaybeReplay(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("no valid cached result for key %q", args[0])
			}
			var v any
			if err := json.Unmarshal(summary, &v); err != nil {
				return fmt.Errorf("decode cached summary: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}

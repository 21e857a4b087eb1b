package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JaimeStill/pubsync/internal/config"
	"github.com/JaimeStill/pubsync/internal/infrastructure"
	"github.com/JaimeStill/pubsync/internal/ledger"
	"github.com/JaimeStill/pubsync/internal/outcome"
	"github.com/JaimeStill/pubsync/internal/pipeline"
	"github.com/JaimeStill/pubsync/internal/plan"
)

func run(args []string) int {
	start := time.Now()

	opts, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		return exitSetup
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		return exitSetup
	}

	logger := newLogger(opts)
	logger.Info(
		"pubsync starting",
		"version", cfg.Version,
		"env", cfg.Env(),
		"log_file", opts.logFile,
	)

	fmt.Printf("Starting at %s\n", start.Format(time.RFC3339))

	actions, err := buildPlan(opts.logFile, cfg, logger)
	if err != nil {
		logger.Error("planning failed", "error", err)
		return exitSetup
	}
	submissions := plan.SubmissionCount(actions)

	if opts.dryRun {
		if err := printPlan(os.Stdout, actions, submissions); err != nil {
			logger.Error("print plan failed", "error", err)
		}
		logger.Info("dry run, no changes made")
		return exitDryRun
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := infrastructure.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("infrastructure init failed", "error", err)
		return exitSetup
	}
	if err := infra.Start(); err != nil {
		logger.Error("infrastructure start failed", "error", err)
		return exitSetup
	}
	if err := infra.Lifecycle.WaitForStartup(); err != nil {
		logger.Error("startup checks failed", "error", err)
		infra.Lifecycle.Shutdown(cfg.ShutdownTimeoutDuration())
		return exitSetup
	}

	p := pipeline.New(pipeline.OptionsFrom(cfg), infra.OpenStore, infra.Metrics, logger)
	summary := p.Run(infra.Lifecycle, actions)

	if err := outcome.WriteReport(os.Stdout, summary.Records); err != nil {
		logger.Error("write report failed", "error", err)
	}

	finish(infra, cfg, opts, summary, submissions, start)

	fmt.Printf("Done at %s\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Overall time: %.2f sec for %d submissions\n", time.Since(start).Seconds(), submissions)

	if err := infra.Lifecycle.Shutdown(cfg.ShutdownTimeoutDuration()); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	if summary.Interrupted {
		logger.Warn("run interrupted", "abandoned", summary.Abandoned)
		return exitInterrupted
	}
	return exitOK
}

func buildPlan(path string, cfg *config.Config, logger *slog.Logger) ([]plan.Action, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open publish log: %w", err)
	}
	defer f.Close()

	return plan.New(cfg.Paths.FTPRoot, logger).Build(f)
}

func printPlan(w io.Writer, actions []plan.Action, submissions int) error {
	if actions == nil {
		actions = []plan.Action{}
	}
	data, err := json.MarshalIndent(actions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n%d submissions (some may be test submissions)\n", data, submissions); err != nil {
		return err
	}
	return nil
}

// finish records run-level results: the log summary, metrics textfile, and
// ledger entry. Failures here are logged and never change the exit status.
func finish(infra *infrastructure.Infrastructure, cfg *config.Config, opts options, summary pipeline.Summary, submissions int, start time.Time) {
	totals := outcome.Summarize(summary.Records)
	infra.Logger.Info(
		"run summary",
		"outcomes", len(summary.Records),
		"uploaded", totals.ByStatus[outcome.StatusUploaded],
		"generated", totals.ByStatus[outcome.StatusGenerated],
		"already_exists", totals.ByStatus[outcome.StatusAlreadyExists],
		"failed", totals.Failed(),
		"transferred", humanize.Bytes(uint64(totals.Bytes)),
		"dropped", summary.Dropped,
		"abandoned", summary.Abandoned,
	)

	finished := time.Now()

	infra.Metrics.Finish(submissions, summary.Abandoned, finished)
	if cfg.Metrics.Textfile != "" {
		if err := infra.Metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			infra.Logger.Error("metrics write failed", "error", err)
		}
	}

	if infra.Database == nil {
		return
	}

	l := ledger.New(infra.Database.Connection(), infra.Logger)
	_, err := l.Record(infra.Lifecycle.Context(), ledger.Run{
		LogFile:     opts.logFile,
		StartedAt:   start,
		FinishedAt:  finished,
		Submissions: submissions,
		Abandoned:   summary.Abandoned,
		Interrupted: summary.Interrupted,
	}, summary.Records)
	if err != nil {
		infra.Logger.Error("ledger record failed", "error", err)
	}
}

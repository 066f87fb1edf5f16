package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/toko-fulfillment/internal/app"
	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
	"github.com/noah-isme/toko-fulfillment/internal/lock"
	"github.com/noah-isme/toko-fulfillment/internal/runs"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "run <stage>",
		Short: "Run one fulfillment stage now",
		Long: `Run a fulfillment stage in this process under the stage lock and print
its report. Stages: ready, fulfilling, stock_levels.

With --enqueue the stage is handed to the worker queue instead.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: stageNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := fulfillment.ParseStage(args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := app.Logger(cfg, "fulfillctl")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			shutdownTracing := app.InitObservability(ctx, cfg, logger)
			defer func() { _ = shutdownTracing(context.Background()) }()

			deps, err := app.Build(ctx, cfg, logger, "fulfillctl")
			if err != nil {
				return err
			}
			defer deps.Close()

			if enqueue {
				queued, err := deps.Dispatcher.Dispatch(ctx, stage, "", 0)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stage %s queued=%t\n", stage, queued)
				return nil
			}

			report, err := deps.Runner.Execute(ctx, stage)
			if errors.Is(err, lock.ErrNotAcquired) {
				fmt.Fprintf(cmd.OutOrStdout(), "stage %s is already running elsewhere\n", stage)
				return nil
			}
			if report.Stage != "" {
				if werr := writeReport(cmd.OutOrStdout(), report); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			if failures := len(report.Failures()); failures > 0 {
				return fmt.Errorf("%d item(s) failed", failures)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "enqueue the stage for the worker instead of running it here")
	return cmd
}

func newLastCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "last <stage>",
		Short:     "Print the last recorded report of a stage",
		Args:      cobra.ExactArgs(1),
		ValidArgs: stageNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := fulfillment.ParseStage(args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			rdb, err := app.OpenRedis(ctx, cfg.RedisURL, app.Logger(cfg, "fulfillctl"))
			if err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			report, err := runs.Store{R: rdb, Prefix: cfg.RedisPrefix}.Last(ctx, stage)
			if errors.Is(err, runs.ErrNoRun) {
				fmt.Fprintf(cmd.OutOrStdout(), "no run recorded for %s\n", stage)
				return nil
			}
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
}

func writeReport(w io.Writer, report fulfillment.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func stageNames() []string {
	stages := fulfillment.Stages()
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, string(s))
	}
	return names
}

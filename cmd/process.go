package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"talent-radar/internal/batch"
	"talent-radar/internal/config"
	"talent-radar/internal/scheduler"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processCmd = &cobra.Command{
	Use:   "process <posting-id>",
	Short: "Process all pending CV attachments of a posting and wait for the run to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		postingID, err := parseID(args[0], "posting id")
		if err != nil {
			return err
		}
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		a, cleanup, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		ticket, err := a.batches.Start(cmd.Context(), postingID, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if ticket.Total == 0 {
			fmt.Fprintln(out, "no new documents to process")
			return nil
		}
		fmt.Fprintf(out, "run %s queued with %d documents\n", ticket.RunID, ticket.Total)

		p, err := waitForRun(cmd.Context(), a.batches, postingID, time.Second, out)
		if err != nil {
			return err
		}
		return printJSON(out, p)
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress <posting-id>",
	Short: "Show batch progress of a posting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		postingID, err := parseID(args[0], "posting id")
		if err != nil {
			return err
		}
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		a, cleanup, err := newApp(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := a.batches.Progress(cmd.Context(), postingID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Start runs for every auto-process posting once and wait for them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		res, err := runSweepOnce(cmd.Context(), cfg, func(cfg *config.Config) (sweeper, func(), error) {
			a, cleanup, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return nil, nil, err
			}
			sched, err := scheduler.New(a.store, a.batches, cfg.Scheduler, log)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			return sched, cleanup, nil
		})
		if err != nil {
			return err
		}
		log.Info("sweep done", zap.Int("started", res.Started), zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.AddCommand(processCmd, progressCmd, sweepCmd)
}

type sweeper interface {
	Sweep(ctx context.Context) (scheduler.SweepResult, error)
}

// runSweepOnce 构建依赖并执行一轮扫描；cleanup 会等待已启动的运行完成。
func runSweepOnce(ctx context.Context, cfg *config.Config, build func(*config.Config) (sweeper, func(), error)) (scheduler.SweepResult, error) {
	s, cleanup, err := build(cfg)
	if err != nil {
		return scheduler.SweepResult{}, fmt.Errorf("build dependencies: %w", err)
	}
	defer cleanup()
	return s.Sweep(ctx)
}

type progressReader interface {
	Progress(ctx context.Context, postingID uint) (batch.Progress, error)
}

// waitForRun 轮询进度直到运行离开 pending/running 状态。
func waitForRun(ctx context.Context, r progressReader, postingID uint, interval time.Duration, out io.Writer) (batch.Progress, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := -1
	for {
		p, err := r.Progress(ctx, postingID)
		if err != nil {
			return batch.Progress{}, err
		}
		if p.Percent != last {
			fmt.Fprintf(out, "%3d%% (%d processed, %d failed of %d)\n", p.Percent, p.Processed, p.Failed, p.Total)
			last = p.Percent
		}
		if !p.Active() {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-ticker.C:
		}
	}
}

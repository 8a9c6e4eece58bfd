package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"parceltriggers/internal/api"
	"parceltriggers/internal/cli"
	"parceltriggers/internal/delivery"
	"parceltriggers/internal/scheduler"
)

var loopFlags struct {
	interval time.Duration
}

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Hold the lock and tick on an interval until terminated",
	Long: `Acquires the scheduler lock once, then ticks every interval while a
heartbeat keeps the lock fresh. The config file is re-read between ticks when
it changes. With ops.addr set, /health, /status, /ticks and /metrics are
served while the loop runs.`,
	Args: cobra.NoArgs,
	RunE: runLoop,
}

func init() {
	addTickFlags(loopCmd)
	loopCmd.Flags().DurationVar(&loopFlags.interval, "interval", 0, "Tick interval (default: scheduler.interval)")
}

func runLoop(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := cli.Open(ctx, globalFlags)
	if err != nil {
		return err
	}
	defer rt.Close()
	s, channels, err := newScheduler(rt)
	if err != nil {
		return err
	}
	defer delivery.CloseAll(channels)

	api.Start(ctx, rt.Config.Ops.Addr, api.NewServer(s, rt.Gatherer, rt.Logger, version))

	err = s.Loop(ctx, scheduler.LoopOptions{
		Tick:     tickOptions(),
		Interval: loopFlags.interval,
		Reload:   rt.Reload,
	})
	if err != nil {
		return err
	}
	rt.Logger.Info("scheduler stopped")
	return nil
}

package main

import (
	"github.com/spf13/cobra"

	"parceltriggers/internal/cli"
	"parceltriggers/internal/delivery"
	"parceltriggers/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Acquire the lock, run one tick and release",
	Args:  cobra.NoArgs,
	RunE:  runOnce,
}

func init() {
	addTickFlags(runCmd)
	runCmd.Flags().StringVar(&tickFlags.now, "now", "", "Tick time, ISO-8601 (default: current time)")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	now, err := cli.ParseNow(tickFlags.now)
	if err != nil {
		return err
	}
	rt, err := cli.Open(cmd.Context(), globalFlags)
	if err != nil {
		return err
	}
	defer rt.Close()
	s, channels, err := newScheduler(rt)
	if err != nil {
		return err
	}
	defer delivery.CloseAll(channels)

	opts := tickOptions()
	opts.Now = now
	res, err := s.Once(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if err := cli.PrintJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	exitCode = scheduler.ExitCode(res.OK)
	return nil
}

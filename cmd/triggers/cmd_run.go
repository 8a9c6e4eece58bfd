package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"parceltriggers/internal/cli"
	"parceltriggers/internal/engine"
)

var runFlags struct {
	county    string
	connector string
	limit     int
	now       string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one connector for one county and evaluate alerts",
	Args:  cobra.NoArgs,
	RunE:  runConnector,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.county, "county", "", "County (required)")
	f.StringVar(&runFlags.connector, "connector", "", "Connector key (required)")
	f.IntVar(&runFlags.limit, "limit", 500, "Maximum raw events to poll")
	f.StringVar(&runFlags.now, "now", "", "Evaluation time, ISO-8601 (default: current time)")

	_ = runCmd.MarkFlagRequired("county")
	_ = runCmd.MarkFlagRequired("connector")
}

func runConnector(cmd *cobra.Command, _ []string) error {
	now, err := cli.ParseNow(runFlags.now)
	if err != nil {
		return err
	}
	rt, err := cli.Open(cmd.Context(), globalFlags)
	if err != nil {
		return err
	}
	defer rt.Close()

	conn, err := rt.Registry.Build(runFlags.connector, rt.ConnectorDeps())
	if err != nil {
		return err
	}
	eng := engine.NewEngine(rt.Config, rt.Logger, rt.Metrics, rt.Store)
	summary, runErr := eng.RunConnectorOnce(cmd.Context(), conn, runFlags.county, now, runFlags.limit)
	if err := cli.PrintJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("connector %s: %w", runFlags.connector, runErr)
	}
	return nil
}

package main

import (
	"github.com/spf13/cobra"

	"parceltriggers/internal/cli"
	"parceltriggers/internal/rollup"
)

var rollupsFlags struct {
	county    string
	rebuiltAt string
}

var rollupsCmd = &cobra.Command{
	Use:   "rollups",
	Short: "Rebuild the parcel rollups of one county",
	Args:  cobra.NoArgs,
	RunE:  runRollups,
}

func init() {
	f := rollupsCmd.Flags()
	f.StringVar(&rollupsFlags.county, "county", "", "County (required)")
	f.StringVar(&rollupsFlags.rebuiltAt, "rebuilt_at", "", "Rebuild timestamp, ISO-8601 (default: current time)")

	_ = rollupsCmd.MarkFlagRequired("county")
}

func runRollups(cmd *cobra.Command, _ []string) error {
	rebuiltAt, err := cli.ParseNow(rollupsFlags.rebuiltAt)
	if err != nil {
		return err
	}
	rt, err := cli.Open(cmd.Context(), globalFlags)
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rollup.Rebuild(cmd.Context(), rt.Store, rollupsFlags.county, rebuiltAt, rt.Config.Engine.WindowDays)
	if err != nil {
		return err
	}
	rt.Metrics.ObserveRollups(summary.County, summary.Parcels)
	return cli.PrintJSON(cmd.OutOrStdout(), summary)
}

// scheduler drives the trigger pipeline under a named database lock.
//
// Usage:
//
//	scheduler run --db PATH [--now ISO] [--connectors a,b] [--no-saved-searches]
//	              [--no-connectors] [--no-rollups] [--connector-limit N]
//	              [--max-saved-searches N] [--max-parcels N]
//	scheduler loop [--interval D] [same tick flags]
//
// run exits 0 when the tick succeeded and 2 otherwise.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"parceltriggers/internal/cli"
	"parceltriggers/internal/delivery"
	"parceltriggers/internal/scheduler"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	globalFlags cli.Flags
	exitCode    int
)

var rootCmd = &cobra.Command{
	Use:           "scheduler",
	Short:         "Parcel trigger scheduler",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalFlags.ConfigPath, "config", os.Getenv("TRIGGERS_CONFIG"), "Config file (YAML or JSON)")
	pf.StringVar(&globalFlags.DB, "db", "", "Database path or postgres DSN (overrides config and TRIGGERS_DB)")
	pf.StringVar(&globalFlags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loopCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(scheduler.ExitCode(false))
	}
	os.Exit(exitCode)
}

var tickFlags struct {
	now              string
	connectors       []string
	noSavedSearches  bool
	noConnectors     bool
	noRollups        bool
	connectorLimit   int
	maxSavedSearches int
	maxParcels       int
}

func addTickFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&tickFlags.connectors, "connectors", nil, "Connector keys to run (default: scheduler.connectors or all built-ins)")
	f.BoolVar(&tickFlags.noSavedSearches, "no-saved-searches", false, "Skip saved searches; use scheduler.counties")
	f.BoolVar(&tickFlags.noConnectors, "no-connectors", false, "Skip connector runs")
	f.BoolVar(&tickFlags.noRollups, "no-rollups", false, "Skip rollup rebuilds")
	f.IntVar(&tickFlags.connectorLimit, "connector-limit", 0, "Raw events per connector run (default: config)")
	f.IntVar(&tickFlags.maxSavedSearches, "max-saved-searches", 0, "Saved searches per tick (default: config)")
	f.IntVar(&tickFlags.maxParcels, "max-parcels", 0, "Parcels per saved search sync (default: config)")
}

func tickOptions() scheduler.TickOptions {
	return scheduler.TickOptions{
		Connectors:       tickFlags.connectors,
		NoSavedSearches:  tickFlags.noSavedSearches,
		NoConnectors:     tickFlags.noConnectors,
		NoRollups:        tickFlags.noRollups,
		ConnectorLimit:   tickFlags.connectorLimit,
		MaxSavedSearches: tickFlags.maxSavedSearches,
		MaxParcels:       tickFlags.maxParcels,
	}
}

// newScheduler builds the scheduler and its delivery channels from rt.
// The caller closes the channels.
func newScheduler(rt *cli.Runtime) (*scheduler.Scheduler, map[string]delivery.Channel, error) {
	channels, err := delivery.NewChannels(rt.Config.Delivery, rt.Logger)
	if err != nil {
		return nil, nil, err
	}
	s, err := scheduler.New(scheduler.Options{
		Config:   rt.Config,
		Store:    rt.Store,
		Registry: rt.Registry,
		Channels: channels,
		Logger:   rt.Logger,
		Metrics:  rt.Metrics,
	})
	if err != nil {
		_ = delivery.CloseAll(channels)
		return nil, nil, err
	}
	return s, channels, nil
}

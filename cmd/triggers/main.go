// triggers runs single pipeline steps by hand: connector runs, rollup
// rebuilds, staging loads and saved-search management.
//
// Usage:
//
//	triggers list
//	triggers run --county C --connector K [--limit N] [--now ISO]
//	triggers rollups --county C [--rebuilt_at ISO]
//	triggers ingest (--file PATH | --kafka) [--domain D] [--county C]
//	triggers searches add --name N --county C [filters]
//	triggers searches list
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"parceltriggers/internal/cli"
)

// version is set at build time via -ldflags.
var version = "dev"

var globalFlags cli.Flags

var rootCmd = &cobra.Command{
	Use:           "triggers",
	Short:         "Parcel trigger pipeline tools",
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

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rollupsCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchesCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

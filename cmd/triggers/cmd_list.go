package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"parceltriggers/internal/connector"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered connector keys",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, _ []string) error {
	registry, err := connector.DefaultRegistry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, key := range registry.Keys() {
		fmt.Fprintln(out, key)
	}
	return nil
}

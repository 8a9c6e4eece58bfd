package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"parceltriggers/internal/cli"
	"parceltriggers/internal/ingest"
	"parceltriggers/internal/taxonomy"
)

var ingestFlags struct {
	file   string
	kafka  bool
	domain string
	county string
	limit  int
	idle   time.Duration
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load scraper output into the staging tables",
	Long: `Loads JSON lines, CSV with a header row, or key=value lines into the
staging tables the store-backed connectors poll. Lines of the permits domain
become permit rows; everything else becomes a source record.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.file, "file", "", "File to load, - for stdin")
	f.BoolVar(&ingestFlags.kafka, "kafka", false, "Consume the configured ingest.kafka topic")
	f.StringVar(&ingestFlags.domain, "domain", "", "Domain for lines without a domain column")
	f.StringVar(&ingestFlags.county, "county", "", "County for lines without a county column")
	f.IntVar(&ingestFlags.limit, "limit", 0, "Stop after N kafka messages (0 = until idle)")
	f.DurationVar(&ingestFlags.idle, "idle", 10*time.Second, "Stop consuming after this long without messages")

	ingestCmd.MarkFlagsMutuallyExclusive("file", "kafka")
	ingestCmd.MarkFlagsOneRequired("file", "kafka")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	domain := taxonomy.Domain(ingestFlags.domain)
	if domain != "" && !taxonomy.ValidDomain(domain) {
		return errors.New("unknown domain " + ingestFlags.domain)
	}
	rt, err := cli.Open(cmd.Context(), globalFlags)
	if err != nil {
		return err
	}
	defer rt.Close()

	loc, err := time.LoadLocation(rt.Config.Ingest.Timezone)
	if err != nil {
		return err
	}
	opts := ingest.Options{Domain: domain, County: ingestFlags.county, Location: loc}

	var sum ingest.Summary
	if ingestFlags.kafka {
		sum, err = ingest.ConsumeKafka(cmd.Context(), rt.Config.Ingest.Kafka, rt.Store, opts,
			ingest.ConsumeOptions{Limit: ingestFlags.limit, IdleTimeout: ingestFlags.idle}, rt.Metrics, rt.Logger)
	} else {
		sum, err = ingest.LoadFile(cmd.Context(), rt.Store, ingestFlags.file, opts, rt.Metrics, rt.Logger)
	}
	if err != nil {
		return err
	}
	return cli.PrintJSON(cmd.OutOrStdout(), sum)
}

package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"parceltriggers/internal/metrics"
)

const flushSize = 500

type Summary struct {
	Source   string `json:"source"`
	Lines    int    `json:"lines"`
	Records  int    `json:"records"`
	Permits  int    `json:"permits"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
}

// Loader parses lines and writes them to the staging tables in batches.
type Loader struct {
	store   Store
	parser  *Parser
	opts    Options
	metrics *metrics.Pipeline
	logger  *slog.Logger
	batch   Batch
}

func NewLoader(store Store, opts Options, pipeline *metrics.Pipeline, logger *slog.Logger) *Loader {
	return &Loader{store: store, parser: NewParser(), opts: opts, metrics: pipeline, logger: logger}
}

// Line parses and stages one line, flushing when the batch is full.
func (l *Loader) Line(ctx context.Context, line string, sum *Summary) error {
	sum.Lines++
	fields, err := l.parser.ParseLine(line)
	if err != nil {
		sum.Skipped++
		if l.logger != nil {
			l.logger.Debug("unparsable line", "source", sum.Source, "line", sum.Lines, "error", err)
		}
		return nil
	}
	if fields == nil {
		return nil
	}
	if err := l.batch.Add(fields, l.opts); err != nil {
		sum.Skipped++
		if l.logger != nil {
			l.logger.Debug("line skipped", "source", sum.Source, "line", sum.Lines, "error", err)
		}
		return nil
	}
	if l.batch.Len() >= flushSize {
		return l.Flush(ctx, sum)
	}
	return nil
}

func (l *Loader) Flush(ctx context.Context, sum *Summary) error {
	if l.batch.Len() == 0 {
		return nil
	}
	records, err := l.store.InsertSourceRecords(ctx, l.batch.Records)
	if err != nil {
		return fmt.Errorf("insert source records: %w", err)
	}
	permits, err := l.store.InsertPermits(ctx, l.batch.Permits)
	if err != nil {
		return fmt.Errorf("insert permits: %w", err)
	}
	sum.Records += len(l.batch.Records)
	sum.Permits += len(l.batch.Permits)
	sum.Inserted += records + permits
	l.metrics.ObserveStaged(sum.Source, records+permits)
	l.batch.Reset()
	return nil
}

// Load stages every line of r.
func (l *Loader) Load(ctx context.Context, source string, r io.Reader) (Summary, error) {
	sum := Summary{Source: source}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := l.Line(ctx, scanner.Text(), &sum); err != nil {
			return sum, err
		}
	}
	if err := scanner.Err(); err != nil {
		return sum, fmt.Errorf("read %s: %w", source, err)
	}
	if err := l.Flush(ctx, &sum); err != nil {
		return sum, err
	}
	if l.logger != nil {
		l.logger.Info("ingest complete", "source", source, "lines", sum.Lines, "inserted", sum.Inserted, "skipped", sum.Skipped)
	}
	return sum, nil
}

// LoadFile stages a JSONL, CSV or key=value file. "-" reads stdin.
func LoadFile(ctx context.Context, store Store, path string, opts Options, pipeline *metrics.Pipeline, logger *slog.Logger) (Summary, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return Summary{Source: "file"}, err
		}
		defer f.Close()
		r = f
	}
	return NewLoader(store, opts, pipeline, logger).Load(ctx, "file", r)
}

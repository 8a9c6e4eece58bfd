package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"parceltriggers/internal/config"
	"parceltriggers/internal/metrics"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type ConsumeOptions struct {
	// Limit stops after this many messages; zero means no limit.
	Limit int
	// IdleTimeout stops once no message arrived for this long.
	IdleTimeout time.Duration
}

// ConsumeKafka stages messages from the configured topic until the topic is
// idle, the limit is reached or ctx ends. Each message value is one line.
func ConsumeKafka(ctx context.Context, cfg config.KafkaConfig, store Store, opts Options, copts ConsumeOptions, pipeline *metrics.Pipeline, logger *slog.Logger) (Summary, error) {
	if !cfg.Enabled() {
		return Summary{Source: "kafka"}, errors.New("kafka ingest requires brokers and topic")
	}
	if logger != nil {
		logger.Info("kafka ingest", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()
	return consume(ctx, reader, NewLoader(store, opts, pipeline, logger), copts, logger)
}

func consume(ctx context.Context, reader messageReader, loader *Loader, copts ConsumeOptions, logger *slog.Logger) (Summary, error) {
	sum := Summary{Source: "kafka"}
	idle := copts.IdleTimeout
	if idle <= 0 {
		idle = 10 * time.Second
	}
	for copts.Limit <= 0 || sum.Lines < copts.Limit {
		readCtx, cancel := context.WithTimeout(ctx, idle)
		m, err := reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if logger != nil {
				logger.Warn("kafka read error", "error", err)
			}
			if !BackoffSleep(ctx, time.Second) {
				break
			}
			continue
		}
		if err := loader.Line(ctx, string(m.Value), &sum); err != nil {
			return sum, err
		}
	}
	if err := loader.Flush(context.WithoutCancel(ctx), &sum); err != nil {
		return sum, err
	}
	if logger != nil {
		logger.Info("kafka ingest complete", "lines", sum.Lines, "inserted", sum.Inserted, "skipped", sum.Skipped)
	}
	return sum, ctx.Err()
}

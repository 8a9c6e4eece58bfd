package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"parceltriggers/internal/config"
	"parceltriggers/internal/model"
)

const (
	ChannelLog   = "log"
	ChannelKafka = "kafka"
	ChannelRedis = "redis"
)

// Message is the payload every channel sends for one surfaced alert.
type Message struct {
	SavedSearchID   string          `json:"saved_search_id"`
	SavedSearchName string          `json:"saved_search_name,omitempty"`
	Item            model.InboxItem `json:"item"`
	SentAt          time.Time       `json:"sent_at"`
}

type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

// LogChannel writes deliveries to the structured log.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return ChannelLog }

func (c *LogChannel) Send(ctx context.Context, msg Message) error {
	if c.logger == nil {
		return nil
	}
	c.logger.Info("alert delivered",
		"saved_search_id", msg.SavedSearchID,
		"alert_id", msg.Item.AlertID,
		"county", msg.Item.County,
		"parcel_id", msg.Item.ParcelID,
		"alert_key", msg.Item.AlertKey,
		"severity", msg.Item.Severity,
		"seller_score", msg.Item.SellerScore,
	)
	return nil
}

func (c *LogChannel) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes deliveries to a topic, keyed by parcel so one
// parcel's alerts stay ordered within a partition.
type KafkaChannel struct {
	writer messageWriter
}

func NewKafkaChannel(cfg config.KafkaConfig) (*KafkaChannel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka delivery needs brokers and a topic")
	}
	return &KafkaChannel{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}, nil
}

func (c *KafkaChannel) Name() string { return ChannelKafka }

func (c *KafkaChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Item.County + "/" + msg.Item.ParcelID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "alert_key", Value: []byte(msg.Item.AlertKey)},
			{Key: "alert_id", Value: []byte(strconv.FormatInt(msg.Item.AlertID, 10))},
		},
	})
}

func (c *KafkaChannel) Close() error { return c.writer.Close() }

type listPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Close() error
}

// RedisChannel appends deliveries as JSON to a redis list for downstream
// workers to pop.
type RedisChannel struct {
	client listPusher
	key    string
}

func NewRedisChannel(cfg config.RedisConfig) (*RedisChannel, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis delivery needs an address")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	return &RedisChannel{client: client, key: cfg.Key}, nil
}

func (c *RedisChannel) Name() string { return ChannelRedis }

func (c *RedisChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.client.RPush(ctx, c.key, body).Err()
}

func (c *RedisChannel) Close() error { return c.client.Close() }

// NewChannels builds the log channel plus whichever of kafka and redis are
// configured.
func NewChannels(cfg config.DeliveryConfig, logger *slog.Logger) (map[string]Channel, error) {
	out := map[string]Channel{ChannelLog: NewLogChannel(logger)}
	if cfg.Kafka.Enabled() {
		ch, err := NewKafkaChannel(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		out[ChannelKafka] = ch
	}
	if cfg.Redis.Addr != "" {
		ch, err := NewRedisChannel(cfg.Redis)
		if err != nil {
			return nil, err
		}
		out[ChannelRedis] = ch
	}
	return out, nil
}

func Known(name string) bool {
	switch name {
	case ChannelLog, ChannelKafka, ChannelRedis:
		return true
	}
	return false
}

func CloseAll(channels map[string]Channel) error {
	var first error
	for _, ch := range channels {
		if err := ch.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

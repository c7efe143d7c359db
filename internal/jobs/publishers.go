package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// LogPublisher only logs notices. It is the default when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger.With("module", "jobs.log_publisher")}
}

func (p *LogPublisher) Publish(ctx context.Context, n Notice) error {
	p.logger.InfoContext(ctx, "export job recorded",
		"operation", "publish_export_job",
		"outcome", "success",
		"job_id", n.JobID,
		"form_id", n.FormID,
		"type", n.Type,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// ConnectRedis initializes a Redis client from URL or host:port input.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisPublisher pushes notices onto a list consumed with BRPOP.
type RedisPublisher struct {
	client *redis.Client
	key    string
}

func NewRedisPublisher(client *redis.Client, key string) *RedisPublisher {
	if key == "" {
		key = "formsy:export_jobs"
	}
	return &RedisPublisher{client: client, key: key}
}

func (p *RedisPublisher) Publish(ctx context.Context, n Notice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := p.client.LPush(ctx, p.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", p.key, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }

type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

// kafkaMessage keys by form so notices of one form stay on one partition.
func kafkaMessage(topic string, n Notice) (kafka.Message, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(n.FormID),
		Value: payload,
		Time:  time.Now().UTC(),
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, n Notice) error {
	msg, err := kafkaMessage(p.topic, n)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

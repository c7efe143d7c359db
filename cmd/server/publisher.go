package main

import (
	"fmt"
	"log/slog"

	"github.com/soaringjerry/Formsy/internal/config"
	"github.com/soaringjerry/Formsy/internal/jobs"
)

func newPublisher(cfg config.RelayConfig, logger *slog.Logger) (jobs.Publisher, error) {
	switch cfg.Publisher {
	case "redis":
		client, err := jobs.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return jobs.NewRedisPublisher(client, cfg.RedisKey), nil
	case "kafka":
		p, err := jobs.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "log", "":
		return jobs.NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown relay publisher %q", cfg.Publisher)
	}
}

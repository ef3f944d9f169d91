// Command postprocessor is the DynamoDB stream Lambda that keeps derived views
// in step with the single table.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/realapp/denorm/internal/app"
	"github.com/realapp/denorm/internal/config"
	"github.com/realapp/denorm/internal/metrics"
	"github.com/realapp/denorm/notify"
	"github.com/realapp/denorm/search"
	"github.com/realapp/denorm/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("postprocessor failed to start", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	ddb := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})

	deps := app.Deps{
		Backend: store.New(ddb, cfg.Store()),
		Flags:   cfg.FlagPolicy(),
		Logger:  logger,
	}
	if cfg.SearchEndpoint != "" {
		deps.Search = search.New(cfg.Search(), awsCfg.Credentials, logger)
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("denorm-postprocessor"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		deps.Senders = append(deps.Senders, notify.NewNATSSender(nc))
	}
	if cfg.RedisURL != "" {
		rdb, err := redisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		deps.Senders = append(deps.Senders, notify.NewRedisSender(rdb))
	}

	a := app.New(deps)
	logger.Info("postprocessor starting",
		"table", cfg.TableName,
		"search", cfg.SearchEndpoint != "",
		"senders", len(deps.Senders),
		"metricsPush", cfg.MetricsPushURL != "",
	)
	handler := a.Router.HandleStream
	if cfg.MetricsPushURL != "" {
		handler = metrics.PushAfter(handler, metrics.NewPusher(cfg.Metrics(), prometheus.DefaultGatherer), logger)
	}
	lambda.Start(handler)
	return nil
}

// redisClient accepts either a redis:// URL or a bare host:port.
func redisClient(raw string) (*redis.Client, error) {
	if !strings.Contains(raw, "://") {
		return redis.NewClient(&redis.Options{Addr: raw}), nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type config struct {
	DatabaseURL string `env:"PURR_DATABASE_URL,required,notEmpty"`
	MaxConns    int32  `env:"PURR_MAX_CONNS" envDefault:"10"`

	// CheckpointStore selects where projection positions live: postgres,
	// redis or dynamodb.
	CheckpointStore string `env:"PURR_CHECKPOINT_STORE" envDefault:"postgres"`
	RedisAddr       string `env:"PURR_REDIS_ADDR" envDefault:"localhost:6379"`
	DynamoTable     string `env:"PURR_DYNAMODB_TABLE" envDefault:"purr_checkpoints"`

	KafkaBrokers string `env:"PURR_KAFKA_BROKERS"`
	KafkaTopic   string `env:"PURR_KAFKA_TOPIC" envDefault:"purr.orders"`

	PollingInterval time.Duration `env:"PURR_POLLING_INTERVAL" envDefault:"1s"`
	MaxLiveQueue    int           `env:"PURR_MAX_LIVE_QUEUE_SIZE" envDefault:"10000"`
	ReadBatchSize   int           `env:"PURR_READ_BATCH_SIZE" envDefault:"500"`
	MaxRestarts     int           `env:"PURR_MAX_RESTARTS" envDefault:"0"`
	SnapshotEvery   int           `env:"PURR_SNAPSHOT_EVERY" envDefault:"50"`
	Verbose         bool          `env:"PURR_VERBOSE" envDefault:"false"`
	LogLevel        string        `env:"PURR_LOG_LEVEL" envDefault:"info"`

	OTelEnabled  bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	SampleRatio  float64 `env:"OTEL_SAMPLING_RATIO" envDefault:"1"`

	MetricsInterval time.Duration `env:"PURR_METRICS_INTERVAL" envDefault:"15s"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.CheckpointStore {
	case "postgres", "redis", "dynamodb":
	default:
		return config{}, fmt.Errorf("PURR_CHECKPOINT_STORE: unknown backend %q", cfg.CheckpointStore)
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return config{}, fmt.Errorf("OTEL_SAMPLING_RATIO: %v is outside [0, 1]", cfg.SampleRatio)
	}
	if cfg.MetricsInterval <= 0 {
		return config{}, fmt.Errorf("PURR_METRICS_INTERVAL: %v must be positive", cfg.MetricsInterval)
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With("service", "purrd")
}

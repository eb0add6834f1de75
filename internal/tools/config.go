package tools

import (
	"time"

	"dtfstore.com/internal/check"
	"dtfstore.com/internal/export"
	"dtfstore.com/internal/upload"
	"dtfstore.com/pkg/config"
	"dtfstore.com/pkg/dtf"
)

type NatsConfig struct {
	URL string `mapstructure:"url"`
}

// Config dtftools 的全部配置，显式传给 Runner
type Config struct {
	BatchSize    int           `mapstructure:"batch_size"`
	GapThreshold time.Duration `mapstructure:"gap_threshold"`
	LogLevel     string        `mapstructure:"log_level"`
	Granularity  time.Duration `mapstructure:"granularity"`

	Upload upload.Config       `mapstructure:"upload"`
	Nats   NatsConfig          `mapstructure:"nats"`
	Influx export.InfluxConfig `mapstructure:"influx"`
}

func Defaults() map[string]any {
	return map[string]any{
		"batch_size":      dtf.DefaultBatchSize,
		"gap_threshold":   check.DefaultGapThreshold,
		"log_level":       "info",
		"granularity":     time.Minute,
		"upload.interval": upload.DefaultInterval,
		"nats.url":        "",
	}
}

// LoadConfig path 为空时找 config/dtf.yaml，找不到只用默认值；DTF_ 前缀环境变量覆盖
func LoadConfig(path string) (Config, error) {
	var c Config
	if _, err := config.Load("dtf", path, Defaults(), &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) writerOptions() dtf.Options {
	return dtf.Options{BatchSize: c.BatchSize}
}

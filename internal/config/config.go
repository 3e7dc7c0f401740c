package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	ProviderBaseURL         string `env:"PROVIDER_BASE_URL,required=true"`
	ProviderAPIKey          string `env:"PROVIDER_API_KEY,required=true"`
	ProviderModel           string `env:"PROVIDER_MODEL,default=gpt-4o-mini"`
	ProviderTimeoutSeconds  int    `env:"PROVIDER_TIMEOUT_SECONDS,default=120"`
	ProviderMaxAttempts     int    `env:"PROVIDER_MAX_ATTEMPTS,default=3"`
	ProviderRetryBaseMillis int    `env:"PROVIDER_RETRY_BASE_MILLIS,default=2000"`

	RateLimitPerSec      int `env:"RATE_LIMIT_PER_SEC,default=10"`
	WorkerConcurrency    int `env:"WORKER_CONCURRENCY,default=8"`
	JobMaxRetries        int `env:"JOB_MAX_RETRIES,default=3"`
	JobRetryDelaySeconds int `env:"JOB_RETRY_DELAY_SECONDS,default=60"`

	StuckThresholdMinutes  int `env:"STUCK_THRESHOLD_MINUTES,default=10"`
	HardTimeoutMinutes     int `env:"HARD_TIMEOUT_MINUTES,default=30"`
	MonitorIntervalSeconds int `env:"MONITOR_INTERVAL_SECONDS,default=60"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c *Config) JobRetryDelay() time.Duration {
	return time.Duration(c.JobRetryDelaySeconds) * time.Second
}

func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMinutes) * time.Minute
}

func (c *Config) HardTimeout() time.Duration {
	return time.Duration(c.HardTimeoutMinutes) * time.Minute
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

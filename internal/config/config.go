package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type APIConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// pgx pool tuning
	DBMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"8"`
	DBMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"1h"`
	DBMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"15m"`
	DBHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"1m"`

	// compliance rails
	ProfileDailyCap     int `envconfig:"PROFILE_DAILY_CAP" default:"2"`
	ProfileCooldownDays int `envconfig:"PROFILE_COOLDOWN_DAYS" default:"120"`
	SellerCooldownDays  int `envconfig:"SELLER_COOLDOWN_DAYS" default:"120"`

	// inter-message pacing for the send loop
	PaceMinMs int `envconfig:"OUTREACH_PACE_MIN_MS" default:"5000"`
	PaceMaxMs int `envconfig:"OUTREACH_PACE_MAX_MS" default:"10000"`

	// AdsPower Local API
	AdsPowerEndpoint string  `envconfig:"ADSPOWER_API_ENDPOINT" default:"http://127.0.0.1:50325"`
	AdsPowerAPIKey   string  `envconfig:"ADSPOWER_API_KEY"`
	AdsPowerRPS      float64 `envconfig:"ADSPOWER_RPS" default:"1"`
	AdsPowerBurst    int     `envconfig:"ADSPOWER_BURST" default:"1"`
}

type WorkerConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// pgx pool tuning
	DBMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"8"`
	DBMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"1h"`
	DBMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"15m"`
	DBHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"1m"`

	// AWS / SQS (discovery producer feed)
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"4"`
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

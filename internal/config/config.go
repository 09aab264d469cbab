package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN     string
	MongoURI        string
	RedisAddr       string
	RabbitURL       string
	ListenAddr      string
	HoldTTL         time.Duration
	ReclaimInterval time.Duration
	ReclaimBatch    int
	OTLPEndpoint    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	holdTTL, _ := time.ParseDuration(os.Getenv("HOLD_TTL"))
	if holdTTL == 0 {
		holdTTL = 15 * time.Minute
	}
	reclaimInterval, _ := time.ParseDuration(os.Getenv("RECLAIM_INTERVAL"))
	if reclaimInterval == 0 {
		reclaimInterval = time.Minute
	}
	listen := os.Getenv("LISTEN_ADDR")
	if listen == "" {
		listen = ":8080"
	}
	reclaimBatch, _ := strconv.Atoi(os.Getenv("RECLAIM_BATCH"))
	if reclaimBatch <= 0 {
		reclaimBatch = 100
	}

	return &Config{
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		MongoURI:        os.Getenv("MONGO_URI"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RabbitURL:       os.Getenv("RABBIT_URL"),
		ListenAddr:      listen,
		HoldTTL:         holdTTL,
		ReclaimInterval: reclaimInterval,
		ReclaimBatch:    reclaimBatch,
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

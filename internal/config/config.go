package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/storefront/internal/utils"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Postgres PG       `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	RabbitMQ RabbitMQ `yaml:"rabbitmq"`
	Outbox   Outbox   `yaml:"outbox"`
	Consul   Consul   `yaml:"consul"`
	Tracing  Tracing  `yaml:"tracing"`
	Logger   Logger   `yaml:"logger"`
	Limiter  Limiter  `yaml:"limiter"`
	Metrics  Metrics  `yaml:"metrics"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"4s"`
}

type GRPC struct {
	Port string `yaml:"port" env:"GRPC_PORT" env-default:":50051"`
}

type PG struct {
	URL      string `yaml:"url" env:"DB_URL" env-required:"true"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" env-default:"10m"`
}

type Kafka struct {
	Brokers       []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	GroupID       string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"storefront"`
	OrderTopic    string   `yaml:"order_topic" env:"KAFKA_ORDER_TOPIC" env-default:"order_events"`
	ProductTopic  string   `yaml:"product_topic" env:"KAFKA_PRODUCT_TOPIC" env-default:"product_events"`
	RestockTopics []string `yaml:"restock_topics" env:"KAFKA_RESTOCK_TOPICS" env-separator:"," env-default:"inventory_events"`
}

type RabbitMQ struct {
	URL string `yaml:"url" env:"RABBITMQ_URL"`
}

type Outbox struct {
	Publisher string        `yaml:"publisher" env:"OUTBOX_PUBLISHER" env-default:"kafka"`
	BatchSize int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"50"`
	Interval  time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL" env-default:"500ms"`
}

type Consul struct {
	Addr        string `yaml:"addr" env:"CONSUL_ADDR"`
	ServiceID   string `yaml:"service_id" env:"CONSUL_SERVICE_ID" env-default:"storefront-1"`
	ServiceHost string `yaml:"service_host" env:"CONSUL_SERVICE_HOST" env-default:"localhost"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	Endpoint string `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
}

type Logger struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

type Metrics struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:":9091"`
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.Outbox.Publisher {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("outbox publisher kafka requires kafka.brokers")
		}
	case "rabbitmq":
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("outbox publisher rabbitmq requires rabbitmq.url")
		}
	case "none":
	default:
		return fmt.Errorf("unknown outbox publisher %q", c.Outbox.Publisher)
	}

	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("outbox.batch_size must be positive")
	}

	return nil
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

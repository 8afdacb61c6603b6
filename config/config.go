package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/cloudx-io/dutchauction/core"
)

// Config configures one auctiond process.
type Config struct {
	Role    string `env:"AUCTION_ROLE,required" validate:"oneof=bidder coordinator aggregator"`
	Address string `env:"AUCTION_ADDRESS,required" validate:"required"`
	Zone    string `env:"AUCTION_ZONE" envDefault:"default"`

	// Item is the catalog item a coordinator or aggregator sells. Empty picks a random one.
	// An aggregator runs one delegate coordinator per bidder zone.
	Item string `env:"AUCTION_ITEM"`

	Strategy string `env:"AUCTION_STRATEGY" envDefault:"passive" validate:"oneof=passive medium aggressive"`

	RoundTimeout          time.Duration `env:"AUCTION_ROUND_TIMEOUT" envDefault:"2s" validate:"gt=0s"`
	// AggregatorTimeout caps the wait for delegate reports. Zero waits for every delegate.
	AggregatorTimeout     time.Duration `env:"AUCTION_AGGREGATOR_TIMEOUT" envDefault:"0s" validate:"gte=0s"`
	DirectoryTTL          time.Duration `env:"AUCTION_DIRECTORY_TTL" envDefault:"30s" validate:"gt=0s"`
	MaxConcurrentAuctions int           `env:"AUCTION_MAX_CONCURRENT" envDefault:"4" validate:"gt=0"`

	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379" validate:"required"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	// MetricsAddr is where /metrics and /healthz are served. Empty disables the server.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var config Config

	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("env.Parse: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// BidderStrategy returns the configured strategy tier.
func (c Config) BidderStrategy() core.Strategy {
	// Validate has already restricted Strategy to known names
	s, _ := core.ParseStrategy(c.Strategy)
	return s
}

package config

import (
	"os"

	redis_wrapper "github.com/joripage/marketsync-dev/pkg/infra/redis"
	"github.com/joripage/marketsync-dev/pkg/stream"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ServiceName string `yaml:"service_name"`

	// Pairs to synchronize, exchange notation (btc_jpy).
	Pairs []string `yaml:"pairs"`

	// PriceExp and SizeExp scale wire decimals into integer ticks and lots.
	PriceExp int32 `yaml:"price_exp"`
	SizeExp  int32 `yaml:"size_exp"`

	BookDepth int `yaml:"book_depth"`

	MarketStream  *stream.WSConfig `yaml:"market_stream"`
	PrivateStream *stream.WSConfig `yaml:"private_stream"`

	BackoffInitialSeconds int `yaml:"backoff_initial_seconds"`
	BackoffMaxSeconds     int `yaml:"backoff_max_seconds"`

	Redis *redis_wrapper.RedisConfig `yaml:"redis"`
}

// Load load config from file and environment variables.
func Load(filePath string) (*AppConfig, error) {
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	sugar := zap.S().With("func", "config.Load", "filePath", filePath)

	sugar.Debug("Load config...")

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}

	err = yaml.Unmarshal(configBytes, cfg)
	if err != nil {
		sugar.Error("Failed to parse config file")
		return nil, err
	}

	zap.S().Debugf("config: %+v", cfg)

	return cfg, nil
}

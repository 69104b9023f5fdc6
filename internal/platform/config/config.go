package config

import (
	"crypto-market-depth/internal/domain"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type MarketConfig struct {
	Enabled  bool
	Base     string
	Quote    string
	MinBase  decimal.Decimal
	MaxBase  decimal.Decimal
	MinQuote decimal.Decimal
	MaxQuote decimal.Decimal
}

type ExchangeConfig struct {
	Enabled               bool
	ApiKey                string
	ApiSecret             string
	ApiBaseUrl            string
	WebsocketBaseUrl      string
	SnapshotRatePerSecond float64
}

type Config struct {
	Market map[string]MarketConfig

	Exchange map[string]ExchangeConfig

	Stream struct {
		PendingCapacity        int
		SnapshotTimeoutSeconds int
		WatchIntervalSeconds   int
	}

	Server struct {
		Port int
	}

	Database struct {
		Path string
	}

	Discord struct {
		WebhookUrl string
	}
}

var once sync.Once
var config *Config

// GetConfig loads the config file once. The path defaults to config.json and
// can be overridden with CONFIG_PATH.
func GetConfig() *Config {
	once.Do(func() {
		path := os.Getenv("CONFIG_PATH")
		if path == "" {
			path = "config.json"
		}
		configBytes, err := os.ReadFile(path)
		if err != nil {
			panic(err)
		}
		config, err = Parse(configBytes)
		if err != nil {
			panic(err)
		}
	})

	return config
}

func Parse(configBytes []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(configBytes, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Stream.PendingCapacity <= 0 {
		c.Stream.PendingCapacity = 512
	}
	if c.Stream.SnapshotTimeoutSeconds <= 0 {
		c.Stream.SnapshotTimeoutSeconds = 10
	}
	if c.Stream.WatchIntervalSeconds <= 0 {
		c.Stream.WatchIntervalSeconds = 30
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "fills.db"
	}
}

func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.Stream.SnapshotTimeoutSeconds) * time.Second
}

func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Stream.WatchIntervalSeconds) * time.Second
}

// Pair builds the trade pair for a configured market.
func (c *Config) Pair(name string) (domain.TradePair, bool) {
	market, ok := c.Market[name]
	if !ok {
		return domain.TradePair{}, false
	}
	return domain.TradePair{
		Name:             name,
		Base:             market.Base,
		Quote:            market.Quote,
		AmountRangeBase:  domain.AmountRange{Min: market.MinBase, Max: market.MaxBase},
		AmountRangeQuote: domain.AmountRange{Min: market.MinQuote, Max: market.MaxQuote},
	}, true
}

// EnabledPairs returns the enabled markets sorted by name.
func (c *Config) EnabledPairs() []domain.TradePair {
	names := make([]string, 0, len(c.Market))
	for name, market := range c.Market {
		if market.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	pairs := make([]domain.TradePair, 0, len(names))
	for _, name := range names {
		pair, _ := c.Pair(name)
		pairs = append(pairs, pair)
	}
	return pairs
}

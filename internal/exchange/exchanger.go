package exchange

import (
	"crypto-market-depth/internal/domain"
	"crypto-market-depth/internal/exchange/hata"
	"crypto-market-depth/internal/exchange/luno"
	"crypto-market-depth/internal/platform/config"
	"fmt"
	"sort"
)

// Create builds the adapter for a named exchange.
func Create(name string, cfg config.ExchangeConfig) (domain.Exchanger, error) {
	exchange, ok := domain.ParseExchange(name)
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q", name)
	}

	switch exchange {
	case domain.Luno:
		return luno.CreateClient(cfg.ApiKey, cfg.ApiSecret,
			luno.WithApiBaseUrl(cfg.ApiBaseUrl),
			luno.WithWebsocketBaseUrl(cfg.WebsocketBaseUrl),
			luno.WithSnapshotRate(cfg.SnapshotRatePerSecond)), nil
	case domain.Hata:
		return hata.CreateClient(cfg.ApiKey, cfg.ApiSecret,
			hata.WithApiBaseUrl(cfg.ApiBaseUrl),
			hata.WithWebsocketBaseUrl(cfg.WebsocketBaseUrl),
			hata.WithSnapshotRate(cfg.SnapshotRatePerSecond)), nil
	}
	return nil, fmt.Errorf("exchange %s has no adapter", exchange)
}

// CreateEnabled builds an adapter for every enabled exchange, sorted by name.
func CreateEnabled(exchanges map[string]config.ExchangeConfig) ([]domain.Exchanger, error) {
	names := make([]string, 0, len(exchanges))
	for name, cfg := range exchanges {
		if cfg.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	exchangers := make([]domain.Exchanger, 0, len(names))
	for _, name := range names {
		exchanger, err := Create(name, exchanges[name])
		if err != nil {
			return nil, err
		}
		exchangers = append(exchangers, exchanger)
	}
	return exchangers, nil
}

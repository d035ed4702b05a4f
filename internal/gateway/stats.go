package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// defaults used until the first successful refresh, and for assets the
// gateway has no data for
var defaultVolatility = map[string]float64{
	"BTC":   0.60,
	"ETH":   0.80,
	"SOL":   1.10,
	"AVAX":  1.05,
	"MATIC": 0.95,
	"USDC":  0.01,
	"USDT":  0.01,
	"DAI":   0.02,
}

var defaultCorrelation = map[string]float64{
	"BTC/ETH":  0.82,
	"ETH/SOL":  0.78,
	"BTC/SOL":  0.72,
	"AVAX/ETH": 0.75,
}

// Stats answers volatility and correlation lookups for the risk engine.
// Values refresh from the gateway; a failed refresh keeps the last good
// table.
type Stats struct {
	client *Client
	log    *zap.Logger

	mu   sync.RWMutex
	vol  map[string]float64
	corr map[string]float64
}

func NewStats(client *Client, log *zap.Logger) *Stats {
	vol := make(map[string]float64, len(defaultVolatility))
	for asset, v := range defaultVolatility {
		vol[asset] = v
	}
	corr := make(map[string]float64, len(defaultCorrelation))
	for key, c := range defaultCorrelation {
		corr[key] = c
	}
	return &Stats{client: client, log: log, vol: vol, corr: corr}
}

func (s *Stats) Refresh(ctx context.Context) error {
	vol, err := s.client.getVolatility(ctx)
	if err != nil {
		return err
	}
	correlations, err := s.client.getCorrelations(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for asset, v := range vol {
		s.vol[asset] = v
	}
	for _, c := range correlations {
		s.corr[pairKey(c.AssetA, c.AssetB)] = c.Coefficient
	}
	return nil
}

func (s *Stats) Volatility(asset string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vol[asset]
	return v, ok
}

func (s *Stats) Correlation(a, b string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.corr[pairKey(a, b)]
	return c, ok
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "/" + b
}

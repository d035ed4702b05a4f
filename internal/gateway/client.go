package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"defi-agent-engine/internal/strategy"
)

var (
	ErrUnavailable    = errors.New("gateway unavailable")
	ErrInvalidAccount = errors.New("invalid account")
)

// Client is the REST side of the market gateway. It serves snapshots,
// positions, balances and yield data to the deciders.
type Client struct {
	rest *resty.Client
	log  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{rest: rest, log: log}
}

type snapshotDTO struct {
	Venue        string  `json:"venue"`
	BaseAsset    string  `json:"base_asset"`
	QuoteAsset   string  `json:"quote_asset"`
	Price        float64 `json:"price"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	ObservedAtMS int64   `json:"observed_at_ms"`
}

func (c *Client) GetSnapshots(ctx context.Context, pairs []string) ([]strategy.MarketSnapshot, error) {
	var dtos []snapshotDTO
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParam("pairs", strings.Join(pairs, ",")).
		SetResult(&dtos).
		Get("/v1/markets/snapshots")
	if err := gatewayError(resp, err); err != nil {
		return nil, err
	}
	out := make([]strategy.MarketSnapshot, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, strategy.MarketSnapshot{
			Venue:        dto.Venue,
			BaseAsset:    dto.BaseAsset,
			QuoteAsset:   dto.QuoteAsset,
			Price:        dto.Price,
			LiquidityUSD: dto.LiquidityUSD,
			ObservedAt:   time.UnixMilli(dto.ObservedAtMS).UTC(),
		})
	}
	return out, nil
}

type positionDTO struct {
	Asset         string  `json:"asset"`
	Quantity      float64 `json:"quantity"`
	ValueUSD      float64 `json:"value_usd"`
	AllocationPct float64 `json:"allocation_pct"`
}

func (c *Client) GetPositions(ctx context.Context, account string) ([]strategy.Position, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	var dtos []positionDTO
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&dtos).
		Get("/v1/accounts/" + account + "/positions")
	if err := gatewayError(resp, err); err != nil {
		return nil, err
	}
	out := make([]strategy.Position, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, strategy.Position{
			Asset:         dto.Asset,
			Quantity:      dto.Quantity,
			ValueUSD:      dto.ValueUSD,
			AllocationPct: dto.AllocationPct,
		})
	}
	return out, nil
}

type balanceDTO struct {
	BalanceUSD decimal.Decimal `json:"balance_usd"`
}

// GetBalance returns the account's free balance. Decimal end to end so a
// spendability check never rounds in the caller's favor.
func (c *Client) GetBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	if !common.IsHexAddress(account) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAccount, account)
	}
	var dto balanceDTO
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&dto).
		Get("/v1/accounts/" + account + "/balance")
	if err := gatewayError(resp, err); err != nil {
		return decimal.Zero, err
	}
	return dto.BalanceUSD, nil
}

type yieldDTO struct {
	Protocol string  `json:"protocol"`
	Asset    string  `json:"asset"`
	APY      float64 `json:"apy"`
	TVLUSD   float64 `json:"tvl_usd"`
}

func (c *Client) GetYieldOpportunities(ctx context.Context) ([]strategy.YieldOpportunity, error) {
	var dtos []yieldDTO
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&dtos).
		Get("/v1/yield/opportunities")
	if err := gatewayError(resp, err); err != nil {
		return nil, err
	}
	out := make([]strategy.YieldOpportunity, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, strategy.YieldOpportunity{
			Protocol: dto.Protocol,
			Asset:    dto.Asset,
			APY:      dto.APY,
			TVLUSD:   dto.TVLUSD,
		})
	}
	return out, nil
}

func (c *Client) getVolatility(ctx context.Context) (map[string]float64, error) {
	var out map[string]float64
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/stats/volatility")
	if err := gatewayError(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

type correlationDTO struct {
	AssetA      string  `json:"asset_a"`
	AssetB      string  `json:"asset_b"`
	Coefficient float64 `json:"coefficient"`
}

func (c *Client) getCorrelations(ctx context.Context) ([]correlationDTO, error) {
	var out []correlationDTO
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/stats/correlations")
	if err := gatewayError(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func gatewayError(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 404:
		return fmt.Errorf("%w: status 404", ErrInvalidAccount)
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	default:
		return fmt.Errorf("gateway status %d", status)
	}
}

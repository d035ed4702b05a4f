package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"defi-agent-engine/internal/strategy"
)

// Feed streams live quotes over websocket into a SnapshotCache. It
// reconnects with a fixed delay and replays subscriptions after each
// reconnect.
type Feed struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	cache          *SnapshotCache
	log            *zap.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	pairs []string
}

func NewFeed(url string, reconnectDelay, pingInterval time.Duration, cache *SnapshotCache, log *zap.Logger) *Feed {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Feed{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		cache:          cache,
		log:            log,
	}
}

func (f *Feed) Subscribe(pairs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, pairs...)
}

type quoteMessage struct {
	Channel      string  `json:"channel"`
	Venue        string  `json:"venue"`
	BaseAsset    string  `json:"base_asset"`
	QuoteAsset   string  `json:"quote_asset"`
	Price        float64 `json:"price"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	ObservedAtMS int64   `json:"observed_at_ms"`
}

// Run blocks until ctx is done, reconnecting on read errors.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := f.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("feed connect failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.reconnectDelay):
			}
			continue
		}

		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			f.pingLoop(pingCtx)
		}()
		err := f.readLoop(ctx)
		cancel()
		<-pingDone
		f.resetConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn("feed read loop ended", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *Feed) connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return err
	}
	for _, pair := range f.pairs {
		sub := map[string]any{"method": "subscribe", "channel": "quotes", "pair": pair}
		if err := writeJSON(ctx, conn, sub); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "subscribe failed")
			return err
		}
	}
	f.conn = conn
	return nil
}

func (f *Feed) readLoop(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return errors.New("feed not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.handle(data)
	}
}

func (f *Feed) handle(data []byte) {
	var msg quoteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.log.Debug("feed message discarded", zap.Error(err))
		return
	}
	if msg.Channel != "quotes" || msg.Venue == "" || msg.Price <= 0 {
		return
	}
	f.cache.Upsert(strategy.MarketSnapshot{
		Venue:        msg.Venue,
		BaseAsset:    msg.BaseAsset,
		QuoteAsset:   msg.QuoteAsset,
		Price:        msg.Price,
		LiquidityUSD: msg.LiquidityUSD,
		ObservedAt:   time.UnixMilli(msg.ObservedAtMS).UTC(),
	})
}

func (f *Feed) pingLoop(ctx context.Context) {
	f.mu.Lock()
	conn := f.conn
	interval := f.pingInterval
	f.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, map[string]any{"method": "ping"}); err != nil {
				return
			}
		}
	}
}

func (f *Feed) resetConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "reset")
		f.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

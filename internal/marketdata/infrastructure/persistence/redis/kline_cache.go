// Package redis 提供行情服务的热数据缓存实现。
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/pkg/cache"
)

// cachedKline 缓存中的 K 线序列化形态，小数用字符串避免精度丢失
type cachedKline struct {
	Symbol      string `json:"symbol"`
	Interval    string `json:"interval"`
	OpenTime    int64  `json:"open_time"`
	CloseTime   int64  `json:"close_time"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quote_volume"`
	TradeCount  int64  `json:"trade_count"`
}

// KlineCache 每个 (symbol, interval) 最新 K 线的 Redis 缓存。
// TTL 取两倍周期长度，桶结束后自然过期。
type KlineCache struct {
	cache *cache.RedisCache
}

// NewKlineCache 构造函数
func NewKlineCache(c *cache.RedisCache) *KlineCache {
	return &KlineCache{cache: c}
}

func klineKey(symbol string, interval domain.Interval) string {
	return fmt.Sprintf("kline:latest:%s:%s", symbol, interval)
}

// SetLatest 写入最新 K 线
func (c *KlineCache) SetLatest(ctx context.Context, kline *domain.Kline) error {
	ttl := 2 * kline.Interval.Duration()
	// 1w 周期的缓存没必要持有两周
	if ttl > 48*time.Hour {
		ttl = 48 * time.Hour
	}
	return c.cache.SetJSON(ctx, klineKey(kline.Symbol, kline.Interval), toCached(kline), ttl)
}

// GetLatest 读取最新 K 线；未命中返回 (nil, false, nil)
func (c *KlineCache) GetLatest(ctx context.Context, symbol string, interval domain.Interval) (*domain.Kline, bool, error) {
	var cached cachedKline
	ok, err := c.cache.GetJSON(ctx, klineKey(symbol, interval), &cached)
	if err != nil || !ok {
		return nil, false, err
	}
	return fromCached(&cached), true, nil
}

func toCached(k *domain.Kline) *cachedKline {
	return &cachedKline{
		Symbol:      k.Symbol,
		Interval:    string(k.Interval),
		OpenTime:    k.OpenTime.UnixMilli(),
		CloseTime:   k.CloseTime.UnixMilli(),
		Open:        k.Open.String(),
		High:        k.High.String(),
		Low:         k.Low.String(),
		Close:       k.Close.String(),
		Volume:      k.Volume.String(),
		QuoteVolume: k.QuoteVolume.String(),
		TradeCount:  k.TradeCount,
	}
}

func fromCached(c *cachedKline) *domain.Kline {
	open, _ := decimal.NewFromString(c.Open)
	high, _ := decimal.NewFromString(c.High)
	low, _ := decimal.NewFromString(c.Low)
	closePrice, _ := decimal.NewFromString(c.Close)
	volume, _ := decimal.NewFromString(c.Volume)
	quoteVolume, _ := decimal.NewFromString(c.QuoteVolume)

	return &domain.Kline{
		Symbol:      c.Symbol,
		Interval:    domain.Interval(c.Interval),
		OpenTime:    time.UnixMilli(c.OpenTime).UTC(),
		CloseTime:   time.UnixMilli(c.CloseTime).UTC(),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closePrice,
		Volume:      volume,
		QuoteVolume: quoteVolume,
		TradeCount:  c.TradeCount,
	}
}

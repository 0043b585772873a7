// Package domain 行情服务的领域层：K 线实体、时间桶对齐与折叠规则
package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Interval K 线周期
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

// SupportedIntervals 全部支持的周期，按长度升序
var SupportedIntervals = []Interval{
	Interval1m, Interval5m, Interval15m, Interval30m,
	Interval1h, Interval4h, Interval1d, Interval1w,
}

// ParseInterval 解析周期字符串
func ParseInterval(s string) (Interval, error) {
	for _, iv := range SupportedIntervals {
		if string(iv) == s {
			return iv, nil
		}
	}
	return "", fmt.Errorf("unsupported kline interval: %s", s)
}

// Duration 周期长度
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1w:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// AlignBucket 计算时刻 t 所属时间桶的开闭边界。
// 对齐始终在 UTC 日历上进行；1w 锚定到最近的周一（ISO 周起点）。
// 收盘时刻为 开盘时刻 + 周期长度 - 1ms，桶边界上的成交归属下一个桶。
func (i Interval) AlignBucket(t time.Time) (open, close time.Time) {
	u := t.UTC()
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval30m:
		step := int(i.Duration() / time.Minute)
		minute := (u.Minute() / step) * step
		open = time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), minute, 0, 0, time.UTC)
	case Interval1h:
		open = time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
	case Interval4h:
		hour := (u.Hour() / 4) * 4
		open = time.Date(u.Year(), u.Month(), u.Day(), hour, 0, 0, 0, time.UTC)
	case Interval1d:
		open = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	case Interval1w:
		// Weekday: Sunday=0；换算为距最近周一的天数
		daysSinceMonday := (int(u.Weekday()) + 6) % 7
		day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		open = day.AddDate(0, 0, -daysSinceMonday)
	}
	close = open.Add(i.Duration() - time.Millisecond)
	return open, close
}

// TradeTick 从成交流消费到的单笔成交
type TradeTick struct {
	TradeID   string
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	CreatedAt time.Time
}

// QuoteVolume 计价资产口径成交额
func (t TradeTick) QuoteVolume() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// Kline 一个 (symbol, interval, open_time) 桶的 OHLCV 汇总。
// 没有成交的桶不存在，持久化过的桶 TradeCount 恒大于零。
type Kline struct {
	Symbol      string
	Interval    Interval
	OpenTime    time.Time
	CloseTime   time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	TradeCount  int64
}

// NewKlineFromTick 用桶内首笔成交初始化 K 线
func NewKlineFromTick(interval Interval, tick TradeTick) *Kline {
	open, close := interval.AlignBucket(tick.CreatedAt)
	return &Kline{
		Symbol:      tick.Symbol,
		Interval:    interval,
		OpenTime:    open,
		CloseTime:   close,
		Open:        tick.Price,
		High:        tick.Price,
		Low:         tick.Price,
		Close:       tick.Price,
		Volume:      tick.Quantity,
		QuoteVolume: tick.QuoteVolume(),
		TradeCount:  1,
	}
}

// Apply 将一笔成交折叠进已存在的桶。
// 折叠不可交换（close 取决于到达顺序），调用方必须按 created_at 再 trade_id 升序送入。
func (k *Kline) Apply(tick TradeTick) {
	if tick.Price.GreaterThan(k.High) {
		k.High = tick.Price
	}
	if tick.Price.LessThan(k.Low) {
		k.Low = tick.Price
	}
	k.Close = tick.Price
	k.Volume = k.Volume.Add(tick.Quantity)
	k.QuoteVolume = k.QuoteVolume.Add(tick.QuoteVolume())
	k.TradeCount++
}

// KlineRepository K 线仓储接口。Get 未命中返回 (nil, nil)。
type KlineRepository interface {
	Upsert(ctx context.Context, kline *Kline) error
	Get(ctx context.Context, symbol string, interval Interval, openTime time.Time) (*Kline, error)
	Range(ctx context.Context, symbol string, interval Interval, start, end time.Time, limit int) ([]*Kline, error)
	Latest(ctx context.Context, symbol string, interval Interval, limit int) ([]*Kline, error)
}

// TradeReader 成交历史的只读访问，用于回填重建
type TradeReader interface {
	GetTradesByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]TradeTick, error)
}

// SymbolLister 活跃交易对清单，收盘扫描的遍历范围
type SymbolLister interface {
	ListActiveSymbols(ctx context.Context) ([]string, error)
}

// Package domain 撮合引擎的领域模型
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Trade 成交记录，写入后不可变
type Trade struct {
	TradeID string
	Symbol  string
	// 买卖双方订单与用户
	BuyOrderID  string
	SellOrderID string
	BuyUserID   string
	SellUserID  string
	// 成交价为静止卖单的委托价
	Price    decimal.Decimal
	Quantity decimal.Decimal
	// 当前约定买方恒为 taker
	IsBuyerMaker bool
	CreatedAt    time.Time
}

// QuoteVolume 计价资产成交额
func (t *Trade) QuoteVolume() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// TradeRepository 成交记录仓储接口
type TradeRepository interface {
	// 批量插入，必须整体成功或整体失败
	CreateTrades(ctx context.Context, trades []*Trade) error
	// 按时间倒序返回最近成交
	GetLatestTrades(ctx context.Context, symbol string, limit int) ([]*Trade, error)
	// 按 (created_at, trade_id) 升序返回时间窗内成交
	GetTradesByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]*Trade, error)
}

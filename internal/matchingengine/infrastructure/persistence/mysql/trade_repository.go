// Package mysql 提供撮合引擎各仓储接口的 MySQL GORM 实现。
package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinflow/spotexchange/internal/matchingengine/domain"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// TradeModel 成交数据库模型，直接映射 trades 表。
type TradeModel struct {
	ID           uint      `gorm:"primaryKey"`
	TradeID      string    `gorm:"column:trade_id;type:varchar(32);uniqueIndex;not null;comment:成交唯一标识"`
	Symbol       string    `gorm:"column:symbol;type:varchar(20);index:idx_symbol_time,priority:1;not null;comment:交易对"`
	BuyOrderID   string    `gorm:"column:buy_order_id;type:varchar(32);index;not null;comment:买方订单ID"`
	SellOrderID  string    `gorm:"column:sell_order_id;type:varchar(32);index;not null;comment:卖方订单ID"`
	BuyUserID    string    `gorm:"column:buy_user_id;type:varchar(32);index;not null;comment:买方用户ID"`
	SellUserID   string    `gorm:"column:sell_user_id;type:varchar(32);index;not null;comment:卖方用户ID"`
	Price        string    `gorm:"column:price;type:decimal(32,18);not null;comment:成交价格"`
	Quantity     string    `gorm:"column:quantity;type:decimal(32,18);not null;comment:成交数量"`
	IsBuyerMaker bool      `gorm:"column:is_buyer_maker;not null;comment:买方是否为挂单方"`
	CreatedAt    time.Time `gorm:"column:created_at;index:idx_symbol_time,priority:2"`
}

// TableName 指定表名
func (TradeModel) TableName() string {
	return "trades"
}

// tradeRepositoryImpl 是 domain.TradeRepository 接口的 GORM 实现。
type tradeRepositoryImpl struct {
	db *gorm.DB
}

// NewTradeRepository 创建成交仓储实例
func NewTradeRepository(gdb *gorm.DB) domain.TradeRepository {
	return &tradeRepositoryImpl{db: gdb}
}

func (r *tradeRepositoryImpl) conn(ctx context.Context) *gorm.DB {
	return db.FromContext(ctx, r.db)
}

// CreateTrades 实现 domain.TradeRepository.CreateTrades。
// 单条批量插入，全部成功或全部失败；调用方通过事务与订单回写保持原子。
func (r *tradeRepositoryImpl) CreateTrades(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	models := make([]TradeModel, len(trades))
	for i, t := range trades {
		models[i] = toTradeModel(t)
	}
	if err := r.conn(ctx).Create(&models).Error; err != nil {
		logger.Error(ctx, "trade_repository.create_trades failed", "count", len(trades), "error", err)
		return fmt.Errorf("failed to create trades: %w", err)
	}
	return nil
}

// GetLatestTrades 实现 domain.TradeRepository.GetLatestTrades
func (r *tradeRepositoryImpl) GetLatestTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	var models []TradeModel
	err := r.conn(ctx).
		Where("symbol = ?", symbol).
		Order("created_at desc, trade_id desc").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "trade_repository.get_latest failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("failed to get latest trades: %w", err)
	}
	return toTradeDomainSlice(models), nil
}

// GetTradesByTimeRange 实现 domain.TradeRepository.GetTradesByTimeRange
func (r *tradeRepositoryImpl) GetTradesByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Trade, error) {
	var models []TradeModel
	err := r.conn(ctx).
		Where("symbol = ? AND created_at >= ? AND created_at <= ?", symbol, start, end).
		Order("created_at asc, trade_id asc").
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "trade_repository.get_by_time_range failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("failed to get trades by time range: %w", err)
	}
	return toTradeDomainSlice(models), nil
}

func toTradeModel(t *domain.Trade) TradeModel {
	return TradeModel{
		TradeID:      t.TradeID,
		Symbol:       t.Symbol,
		BuyOrderID:   t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		BuyUserID:    t.BuyUserID,
		SellUserID:   t.SellUserID,
		Price:        t.Price.String(),
		Quantity:     t.Quantity.String(),
		IsBuyerMaker: t.IsBuyerMaker,
		CreatedAt:    t.CreatedAt,
	}
}

func toTradeDomain(m *TradeModel) *domain.Trade {
	price, _ := decimal.NewFromString(m.Price)
	qty, _ := decimal.NewFromString(m.Quantity)
	return &domain.Trade{
		TradeID:      m.TradeID,
		Symbol:       m.Symbol,
		BuyOrderID:   m.BuyOrderID,
		SellOrderID:  m.SellOrderID,
		BuyUserID:    m.BuyUserID,
		SellUserID:   m.SellUserID,
		Price:        price,
		Quantity:     qty,
		IsBuyerMaker: m.IsBuyerMaker,
		CreatedAt:    m.CreatedAt,
	}
}

func toTradeDomainSlice(models []TradeModel) []*domain.Trade {
	trades := make([]*domain.Trade, len(models))
	for i := range models {
		trades[i] = toTradeDomain(&models[i])
	}
	return trades
}

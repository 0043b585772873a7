package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// tradeRow 只读映射 trades 表中回填需要的列
type tradeRow struct {
	TradeID   string
	Price     string
	Quantity  string
	CreatedAt time.Time
}

// tradeReaderImpl 是 domain.TradeReader 接口的 GORM 实现。
// 成交由撮合引擎独占写入，这里只做历史读取。
type tradeReaderImpl struct {
	db *gorm.DB
}

// NewTradeReader 创建成交只读访问实例
func NewTradeReader(gdb *gorm.DB) domain.TradeReader {
	return &tradeReaderImpl{db: gdb}
}

func (r *tradeReaderImpl) conn(ctx context.Context) *gorm.DB {
	return db.FromContext(ctx, r.db)
}

// GetTradesByTimeRange 实现 domain.TradeReader。
// 固定按 created_at 再 trade_id 升序返回，折叠顺序与成交流一致。
func (r *tradeReaderImpl) GetTradesByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]domain.TradeTick, error) {
	var rows []tradeRow
	err := r.conn(ctx).Table("trades").
		Select("trade_id, price, quantity, created_at").
		Where("symbol = ? AND created_at >= ? AND created_at <= ?", symbol, start, end).
		Order("created_at asc, trade_id asc").
		Scan(&rows).Error
	if err != nil {
		logger.Error(ctx, "trade_reader.get_by_time_range failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}

	ticks := make([]domain.TradeTick, len(rows))
	for i, row := range rows {
		price, _ := decimal.NewFromString(row.Price)
		qty, _ := decimal.NewFromString(row.Quantity)
		ticks[i] = domain.TradeTick{
			TradeID:   row.TradeID,
			Symbol:    symbol,
			Price:     price,
			Quantity:  qty,
			CreatedAt: row.CreatedAt.UTC(),
		}
	}
	return ticks, nil
}

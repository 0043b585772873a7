package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/coinflow/spotexchange/internal/marketdata/domain"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// symbolReaderImpl 是 domain.SymbolLister 接口的 GORM 实现。
// 交易对配置由订单服务维护，这里只取活跃清单供收盘扫描遍历。
type symbolReaderImpl struct {
	db *gorm.DB
}

// NewSymbolReader 创建交易对清单访问实例
func NewSymbolReader(gdb *gorm.DB) domain.SymbolLister {
	return &symbolReaderImpl{db: gdb}
}

func (r *symbolReaderImpl) conn(ctx context.Context) *gorm.DB {
	return db.FromContext(ctx, r.db)
}

// ListActiveSymbols 实现 domain.SymbolLister
func (r *symbolReaderImpl) ListActiveSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := r.conn(ctx).Table("symbols").
		Where("is_active = ?", true).
		Order("symbol asc").
		Pluck("symbol", &symbols).Error
	if err != nil {
		logger.Error(ctx, "symbol_reader.list_active failed", "error", err)
		return nil, fmt.Errorf("failed to list active symbols: %w", err)
	}
	return symbols, nil
}

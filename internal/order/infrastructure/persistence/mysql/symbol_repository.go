package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinflow/spotexchange/internal/order/domain"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// SymbolModel 交易对数据库模型，直接映射 symbols 表。
type SymbolModel struct {
	ID         uint   `gorm:"primaryKey"`
	Symbol     string `gorm:"column:symbol;type:varchar(20);uniqueIndex;not null;comment:交易对标识"`
	BaseAsset  string `gorm:"column:base_asset;type:varchar(10);not null;comment:基础资产"`
	QuoteAsset string `gorm:"column:quote_asset;type:varchar(10);not null;comment:计价资产"`
	TickSize   string `gorm:"column:tick_size;type:decimal(32,18);not null;comment:最小价格增量"`
	StepSize   string `gorm:"column:step_size;type:decimal(32,18);not null;comment:最小数量增量"`
	MinPrice   string `gorm:"column:min_price;type:decimal(32,18);not null;comment:最小价格"`
	MaxPrice   string `gorm:"column:max_price;type:decimal(32,18);not null;comment:最大价格"`
	MinQty     string `gorm:"column:min_qty;type:decimal(32,18);not null;comment:最小数量"`
	MaxQty     string `gorm:"column:max_qty;type:decimal(32,18);not null;comment:最大数量"`
	IsActive   bool   `gorm:"column:is_active;index;not null;comment:是否开放交易"`
}

// TableName 指定表名
func (SymbolModel) TableName() string {
	return "symbols"
}

type symbolRepositoryImpl struct {
	db *gorm.DB
}

// NewSymbolRepository 创建交易对仓储实例
func NewSymbolRepository(gdb *gorm.DB) domain.SymbolRepository {
	return &symbolRepositoryImpl{db: gdb}
}

func (r *symbolRepositoryImpl) conn(ctx context.Context) *gorm.DB {
	return db.FromContext(ctx, r.db)
}

// Get 按标识查询交易对
func (r *symbolRepositoryImpl) Get(ctx context.Context, symbol string) (*domain.Symbol, error) {
	var model SymbolModel
	if err := r.conn(ctx).Where("symbol = ?", symbol).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.Error(ctx, "symbol_repository.get failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("failed to get symbol: %w", err)
	}
	return symbolToDomain(&model), nil
}

// ListActive 查询开放交易的交易对
func (r *symbolRepositoryImpl) ListActive(ctx context.Context) ([]*domain.Symbol, error) {
	var models []SymbolModel
	if err := r.conn(ctx).Where("is_active = ?", true).Order("symbol asc").Find(&models).Error; err != nil {
		logger.Error(ctx, "symbol_repository.list_active failed", "error", err)
		return nil, fmt.Errorf("failed to list active symbols: %w", err)
	}
	symbols := make([]*domain.Symbol, len(models))
	for i := range models {
		symbols[i] = symbolToDomain(&models[i])
	}
	return symbols, nil
}

// Save 保存交易对（按 symbol 幂等）
func (r *symbolRepositoryImpl) Save(ctx context.Context, symbol *domain.Symbol) error {
	model := &SymbolModel{
		Symbol:     symbol.Symbol,
		BaseAsset:  symbol.BaseAsset,
		QuoteAsset: symbol.QuoteAsset,
		TickSize:   symbol.TickSize.String(),
		StepSize:   symbol.StepSize.String(),
		MinPrice:   symbol.MinPrice.String(),
		MaxPrice:   symbol.MaxPrice.String(),
		MinQty:     symbol.MinQty.String(),
		MaxQty:     symbol.MaxQty.String(),
		IsActive:   symbol.IsActive,
	}
	err := r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"tick_size", "step_size", "min_price", "max_price", "min_qty", "max_qty", "is_active"}),
	}).Create(model).Error
	if err != nil {
		logger.Error(ctx, "symbol_repository.save failed", "symbol", symbol.Symbol, "error", err)
		return fmt.Errorf("failed to save symbol: %w", err)
	}
	return nil
}

func symbolToDomain(m *SymbolModel) *domain.Symbol {
	tick, _ := decimal.NewFromString(m.TickSize)
	step, _ := decimal.NewFromString(m.StepSize)
	minPrice, _ := decimal.NewFromString(m.MinPrice)
	maxPrice, _ := decimal.NewFromString(m.MaxPrice)
	minQty, _ := decimal.NewFromString(m.MinQty)
	maxQty, _ := decimal.NewFromString(m.MaxQty)

	return &domain.Symbol{
		Symbol:     m.Symbol,
		BaseAsset:  m.BaseAsset,
		QuoteAsset: m.QuoteAsset,
		TickSize:   tick,
		StepSize:   step,
		MinPrice:   minPrice,
		MaxPrice:   maxPrice,
		MinQty:     minQty,
		MaxQty:     maxQty,
		IsActive:   m.IsActive,
	}
}

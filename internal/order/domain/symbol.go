package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Symbol 交易对配置，约束价格与数量精度
type Symbol struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	// 最小价格增量
	TickSize decimal.Decimal
	// 最小数量增量
	StepSize decimal.Decimal
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
	MinQty   decimal.Decimal
	MaxQty   decimal.Decimal
	IsActive bool
}

// ValidatePrice 校验价格为正、落在区间内且符合 tick 精度
func (s *Symbol) ValidatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return NewValidationError("price", "must be positive")
	}
	if price.LessThan(s.MinPrice) || (s.MaxPrice.IsPositive() && price.GreaterThan(s.MaxPrice)) {
		return NewValidationError("price", "outside allowed range")
	}
	if s.TickSize.IsPositive() && !price.Mod(s.TickSize).IsZero() {
		return NewValidationError("price", "does not conform to tick size")
	}
	return nil
}

// ValidateQuantity 校验数量落在区间内且符合 step 精度
func (s *Symbol) ValidateQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return NewValidationError("quantity", "must be positive")
	}
	if qty.LessThan(s.MinQty) || (s.MaxQty.IsPositive() && qty.GreaterThan(s.MaxQty)) {
		return NewValidationError("quantity", "outside allowed range")
	}
	if s.StepSize.IsPositive() && !qty.Mod(s.StepSize).IsZero() {
		return NewValidationError("quantity", "does not conform to step size")
	}
	return nil
}

// SymbolRepository 交易对仓储接口
type SymbolRepository interface {
	Get(ctx context.Context, symbol string) (*Symbol, error)
	ListActive(ctx context.Context) ([]*Symbol, error)
	Save(ctx context.Context, symbol *Symbol) error
}

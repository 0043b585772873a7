package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coinflow/spotexchange/internal/matchingengine/domain"
	"github.com/coinflow/spotexchange/pkg/db"
	"github.com/coinflow/spotexchange/pkg/logger"
)

// OrderMatcherModel 撮合配置数据库模型，映射 order_matchers 表。
type OrderMatcherModel struct {
	ID                   uint       `gorm:"primaryKey"`
	Symbol               string     `gorm:"column:symbol;type:varchar(20);uniqueIndex;not null;comment:交易对"`
	IsActive             bool       `gorm:"column:is_active;index;not null;comment:是否参与调度"`
	BatchSize            int        `gorm:"column:batch_size;not null;comment:每轮每侧批量上限"`
	LastMatchTime        *time.Time `gorm:"column:last_match_time;comment:最近一轮撮合时刻"`
	TotalOrdersProcessed int64      `gorm:"column:total_orders_processed;not null;comment:累计处理订单数"`
	TotalTradesGenerated int64      `gorm:"column:total_trades_generated;not null;comment:累计生成成交数"`
	LastMatchMs          int64      `gorm:"column:last_match_ms;not null;comment:最近一轮耗时毫秒"`
	AverageMatchMs       float64    `gorm:"column:average_match_ms;not null;comment:平均每轮耗时毫秒"`
	MatchRuns            int64      `gorm:"column:match_runs;not null;comment:累计撮合轮数"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

// TableName 指定表名
func (OrderMatcherModel) TableName() string {
	return "order_matchers"
}

// matcherRepositoryImpl 是 domain.OrderMatcherRepository 接口的 GORM 实现。
type matcherRepositoryImpl struct {
	db *gorm.DB
}

// NewMatcherRepository 创建撮合配置仓储实例
func NewMatcherRepository(gdb *gorm.DB) domain.OrderMatcherRepository {
	return &matcherRepositoryImpl{db: gdb}
}

func (r *matcherRepositoryImpl) conn(ctx context.Context) *gorm.DB {
	return db.FromContext(ctx, r.db)
}

// ListActive 实现 domain.OrderMatcherRepository.ListActive。
// 固定按交易对字典序返回，保证每轮调度顺序稳定。
func (r *matcherRepositoryImpl) ListActive(ctx context.Context) ([]*domain.OrderMatcher, error) {
	var models []OrderMatcherModel
	err := r.conn(ctx).
		Where("is_active = ?", true).
		Order("symbol asc").
		Find(&models).Error
	if err != nil {
		logger.Error(ctx, "matcher_repository.list_active failed", "error", err)
		return nil, fmt.Errorf("failed to list active matchers: %w", err)
	}
	matchers := make([]*domain.OrderMatcher, len(models))
	for i := range models {
		matchers[i] = toMatcherDomain(&models[i])
	}
	return matchers, nil
}

// Save 实现 domain.OrderMatcherRepository.Save
func (r *matcherRepositoryImpl) Save(ctx context.Context, matcher *domain.OrderMatcher) error {
	model := toMatcherModel(matcher)
	err := r.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_active", "batch_size", "last_match_time",
			"total_orders_processed", "total_trades_generated",
			"last_match_ms", "average_match_ms", "match_runs", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		logger.Error(ctx, "matcher_repository.save failed", "symbol", matcher.Symbol, "error", err)
		return fmt.Errorf("failed to save matcher: %w", err)
	}
	return nil
}

func toMatcherModel(m *domain.OrderMatcher) *OrderMatcherModel {
	return &OrderMatcherModel{
		Symbol:               m.Symbol,
		IsActive:             m.IsActive,
		BatchSize:            m.BatchSize,
		LastMatchTime:        m.LastMatchTime,
		TotalOrdersProcessed: m.TotalOrdersProcessed,
		TotalTradesGenerated: m.TotalTradesGenerated,
		LastMatchMs:          m.LastMatchMs,
		AverageMatchMs:       m.AverageMatchMs,
		MatchRuns:            m.MatchRuns,
	}
}

func toMatcherDomain(m *OrderMatcherModel) *domain.OrderMatcher {
	return &domain.OrderMatcher{
		Symbol:               m.Symbol,
		IsActive:             m.IsActive,
		BatchSize:            m.BatchSize,
		LastMatchTime:        m.LastMatchTime,
		TotalOrdersProcessed: m.TotalOrdersProcessed,
		TotalTradesGenerated: m.TotalTradesGenerated,
		LastMatchMs:          m.LastMatchMs,
		AverageMatchMs:       m.AverageMatchMs,
		MatchRuns:            m.MatchRuns,
	}
}
